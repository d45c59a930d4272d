package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/telemetry"
	"github.com/arclabs561/runctl/types"
)

const (
	// bootstrapDevice is where the volume lands on the bootstrap instance.
	bootstrapDevice = "/dev/sdf"
	// defaultMountPoint is where the sync script mounts the volume.
	defaultMountPoint = "/mnt/prewarm"
)

// Manager drives resilience workflows against provider actuators.
// Every step transition hits the store before the remote call it
// precedes; the store is therefore the authority on what may have
// already happened remotely.
type Manager struct {
	store     *Store
	providers map[string]providers.Provider
	journal   *journal.Journal
	logger    zerolog.Logger

	// snapshotWait bounds how long DetachAndSnapshot waits for snapshot
	// completion before giving up. The snapshot itself keeps going; the
	// job records its ID and fails.
	snapshotWait time.Duration
	snapshotPoll time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithSnapshotWait overrides the snapshot completion budget.
func WithSnapshotWait(d time.Duration) Option {
	return func(m *Manager) { m.snapshotWait = d }
}

// WithSnapshotPoll overrides the initial snapshot polling interval.
func WithSnapshotPoll(d time.Duration) Option {
	return func(m *Manager) { m.snapshotPoll = d }
}

// WithJournal records every step transition in the audit journal.
func WithJournal(j *journal.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// NewManager creates a workflow manager.
func NewManager(store *Store, provs map[string]providers.Provider, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		providers:    provs,
		logger:       logger.With().Str("component", "resilience").Logger(),
		snapshotWait: 10 * time.Minute,
		snapshotPoll: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) provider(name string) (providers.Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, types.NewValidationError("provider", "provider "+name+" not configured")
	}
	return p, nil
}

// PreWarmParams parameterize a pre-warm job.
type PreWarmParams struct {
	Provider         string
	VolumeID         string
	ObjectSource     string
	AvailabilityZone string
	MountPoint       string
}

func (p *PreWarmParams) validate() error {
	if p.VolumeID == "" {
		return types.NewValidationError("volume_id", "required")
	}
	if !strings.HasPrefix(p.ObjectSource, "s3://") {
		return types.NewValidationError("object_source", "must be an s3:// URI")
	}
	if p.AvailabilityZone == "" {
		return types.NewValidationError("availability_zone", "required")
	}
	return nil
}

// StartPreWarm creates and runs a pre-warm job: launch a small helper
// instance, attach the volume, stream the object source onto it, then
// detach and dispose of the helper. Returns the job in its final state;
// a non-nil error means the job failed (the record says where).
func (m *Manager) StartPreWarm(ctx context.Context, params PreWarmParams) (*Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	job := NewJob(JobPreWarm, params.Provider, params.VolumeID)
	job.ObjectSource = params.ObjectSource
	job.AvailabilityZone = params.AvailabilityZone
	job.MountPoint = params.MountPoint
	if job.MountPoint == "" {
		job.MountPoint = defaultMountPoint
	}

	if err := m.store.Put(job); err != nil {
		return nil, err
	}
	return m.runPreWarm(ctx, job)
}

// Resume continues an interrupted job from its persisted step. The
// completed-step history says what not to redo; remote state is
// re-verified before anything side-effecting runs again.
func (m *Manager) Resume(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, &types.StateConflictError{
			ResourceID: jobID,
			Msg:        "job already " + string(job.Status),
		}
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("step", string(job.Step)).
		Msg("resuming job")

	switch job.Kind {
	case JobPreWarm:
		return m.runPreWarm(ctx, job)
	case JobAttachCheckpoint:
		return m.runAttachCheckpoint(ctx, job)
	case JobDetachSnapshot:
		return m.runDetachSnapshot(ctx, job)
	}
	return job, types.NewValidationError("kind", "unknown job kind "+string(job.Kind))
}

// runPreWarm executes the pre-warm state machine from the job's current
// position. Each step: persist the transition, verify anything a prior
// run may have done, perform the remote action, persist completion.
func (m *Manager) runPreWarm(ctx context.Context, job *Job) (*Job, error) {
	p, err := m.provider(job.Provider)
	if err != nil {
		return m.failJob(job, StepInit, err)
	}

	if !job.stepCompleted(StepValidateSource) {
		if err := m.beginStep(job, StepValidateSource); err != nil {
			return job, err
		}
		ok, err := p.ObjectSourceExists(ctx, job.ObjectSource)
		if err != nil {
			return m.failJob(job, StepValidateSource, err)
		}
		if !ok {
			return m.failJob(job, StepValidateSource,
				types.NewValidationError("object_source", job.ObjectSource+" does not exist or is empty"))
		}
		if err := m.finishStep(job, StepValidateSource); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepLaunchBootstrap) {
		if err := m.beginStep(job, StepLaunchBootstrap); err != nil {
			return job, err
		}
		// A bootstrap launched by a previous run is reused, never
		// replaced. If it died in the meantime the job fails here; a
		// second helper instance for the same job would orphan the first.
		if job.BootstrapInstanceID != "" {
			alive, err := p.InstanceAlive(ctx, job.BootstrapInstanceID)
			if err != nil {
				return m.failJob(job, StepLaunchBootstrap, err)
			}
			if !alive {
				return m.failJob(job, StepLaunchBootstrap, &types.StateConflictError{
					ResourceID: job.BootstrapInstanceID,
					Msg:        "bootstrap instance gone, will not launch a replacement",
				})
			}
		} else {
			instanceID, err := p.LaunchBootstrap(ctx, job.AvailabilityZone, map[string]string{
				types.TagOwner: "runctl",
				"runctl:job":   job.ID,
			})
			// Persist the ID before looking at the error: a timeout after
			// the launch call still means an instance may exist.
			job.BootstrapInstanceID = instanceID
			if putErr := m.store.Put(job); putErr != nil {
				return job, putErr
			}
			if err != nil {
				return m.failJob(job, StepLaunchBootstrap, err)
			}
		}
		if err := m.finishStep(job, StepLaunchBootstrap); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepAttachToBootstrap) {
		if err := m.beginStep(job, StepAttachToBootstrap); err != nil {
			return job, err
		}
		// AttachVolume treats attached-to-us as success, so a replayed
		// attach after a crash is harmless.
		if err := p.AttachVolume(ctx, job.VolumeID, job.BootstrapInstanceID, bootstrapDevice); err != nil {
			return m.failJob(job, StepAttachToBootstrap, err)
		}
		if err := m.finishStep(job, StepAttachToBootstrap); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepSyncData) {
		if err := m.beginStep(job, StepSyncData); err != nil {
			return job, err
		}
		if err := p.RunSync(ctx, job.BootstrapInstanceID, job.ObjectSource, job.MountPoint); err != nil {
			return m.failJob(job, StepSyncData, err)
		}
		if err := m.finishStep(job, StepSyncData); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepDetachFromBootstrap) {
		if err := m.beginStep(job, StepDetachFromBootstrap); err != nil {
			return job, err
		}
		if err := p.DetachVolume(ctx, job.VolumeID, job.BootstrapInstanceID, false); err != nil {
			return m.failJob(job, StepDetachFromBootstrap, err)
		}
		if err := m.finishStep(job, StepDetachFromBootstrap); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepTerminateBootstrap) {
		if err := m.beginStep(job, StepTerminateBootstrap); err != nil {
			return job, err
		}
		if err := p.TerminateInstance(ctx, job.BootstrapInstanceID); err != nil {
			return m.failJob(job, StepTerminateBootstrap, err)
		}
		if err := m.finishStep(job, StepTerminateBootstrap); err != nil {
			return job, err
		}
	}

	return m.completeJob(job)
}

// AttachParams parameterize a checkpoint-then-attach job.
type AttachParams struct {
	Provider   string
	VolumeID   string
	InstanceID string
	Device     string
}

// StartAttachCheckpoint snapshots the volume, attaches it, and verifies
// the device actually surfaced on the instance. A failed attach or
// verification leaves the volume detached, with the checkpoint snapshot
// recorded on the failed job as the recovery point.
func (m *Manager) StartAttachCheckpoint(ctx context.Context, params AttachParams) (*Job, error) {
	if params.VolumeID == "" {
		return nil, types.NewValidationError("volume_id", "required")
	}
	if params.InstanceID == "" {
		return nil, types.NewValidationError("instance_id", "required")
	}
	if params.Device == "" {
		params.Device = bootstrapDevice
	}

	job := NewJob(JobAttachCheckpoint, params.Provider, params.VolumeID)
	job.TargetInstanceID = params.InstanceID
	job.Device = params.Device
	if err := m.store.Put(job); err != nil {
		return nil, err
	}
	return m.runAttachCheckpoint(ctx, job)
}

func (m *Manager) runAttachCheckpoint(ctx context.Context, job *Job) (*Job, error) {
	p, err := m.provider(job.Provider)
	if err != nil {
		return m.failJob(job, StepInit, err)
	}

	if !job.stepCompleted(StepCheckpointSnapshot) {
		if err := m.beginStep(job, StepCheckpointSnapshot); err != nil {
			return job, err
		}
		if job.SnapshotID == "" {
			snapshotID, err := p.CreateSnapshot(ctx, job.VolumeID,
				fmt.Sprintf("runctl checkpoint before attach to %s", job.TargetInstanceID),
				map[string]string{types.TagOwner: "runctl", "runctl:job": job.ID})
			if err != nil {
				return m.failJob(job, StepCheckpointSnapshot, err)
			}
			job.SnapshotID = snapshotID
			if err := m.store.Put(job); err != nil {
				return job, err
			}
		}
		if err := m.finishStep(job, StepCheckpointSnapshot); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepAttachTarget) {
		if err := m.beginStep(job, StepAttachTarget); err != nil {
			return job, err
		}
		if err := p.AttachVolume(ctx, job.VolumeID, job.TargetInstanceID, job.Device); err != nil {
			m.logger.Warn().
				Str("job_id", job.ID).
				Str("snapshot_id", job.SnapshotID).
				Msg("attach failed, checkpoint snapshot is the recovery point")
			return m.failJob(job, StepAttachTarget, err)
		}
		if err := m.finishStep(job, StepAttachTarget); err != nil {
			return job, err
		}
	}

	// A successful AttachVolume call is not a usable volume: the device
	// must actually surface on the instance before the job may complete.
	if !job.stepCompleted(StepVerifyMount) {
		if err := m.beginStep(job, StepVerifyMount); err != nil {
			return job, err
		}
		if verifyErr := p.VerifyMount(ctx, job.TargetInstanceID, job.Device); verifyErr != nil {
			return m.revertAttach(ctx, p, job, verifyErr)
		}
		if err := m.finishStep(job, StepVerifyMount); err != nil {
			return job, err
		}
	}

	return m.completeJob(job)
}

// revertAttach detaches the volume after a failed mount verification so
// a half-attached volume is never left behind, then fails the job with
// the verification error.
func (m *Manager) revertAttach(ctx context.Context, p providers.Provider, job *Job, verifyErr error) (*Job, error) {
	m.logger.Warn().
		Err(verifyErr).
		Str("job_id", job.ID).
		Str("volume_id", job.VolumeID).
		Msg("mount verification failed, reverting attach")

	if err := m.beginStep(job, StepRevertDetach); err != nil {
		return job, err
	}
	if detachErr := p.DetachVolume(ctx, job.VolumeID, job.TargetInstanceID, false); detachErr != nil {
		m.logger.Error().
			Err(detachErr).
			Str("job_id", job.ID).
			Str("volume_id", job.VolumeID).
			Msg("revert detach failed, volume may still be attached")
		return m.failJob(job, StepRevertDetach, detachErr)
	}
	if err := m.finishStep(job, StepRevertDetach); err != nil {
		return job, err
	}
	return m.failJob(job, StepVerifyMount, verifyErr)
}

// DetachParams parameterize a detach-then-snapshot job.
type DetachParams struct {
	Provider string
	VolumeID string
	Force    bool
}

// StartDetachSnapshot detaches the volume and snapshots it. Completion
// waits for the snapshot to finish within the manager's budget; running
// out of budget fails the job with the snapshot ID recorded; the
// snapshot itself keeps progressing remotely.
func (m *Manager) StartDetachSnapshot(ctx context.Context, params DetachParams) (*Job, error) {
	if params.VolumeID == "" {
		return nil, types.NewValidationError("volume_id", "required")
	}

	job := NewJob(JobDetachSnapshot, params.Provider, params.VolumeID)
	job.Force = params.Force
	if err := m.store.Put(job); err != nil {
		return nil, err
	}
	return m.runDetachSnapshot(ctx, job)
}

func (m *Manager) runDetachSnapshot(ctx context.Context, job *Job) (*Job, error) {
	p, err := m.provider(job.Provider)
	if err != nil {
		return m.failJob(job, StepInit, err)
	}
	if !job.stepCompleted(StepDetachVolume) {
		if err := m.beginStep(job, StepDetachVolume); err != nil {
			return job, err
		}
		if err := p.DetachVolume(ctx, job.VolumeID, "", job.Force); err != nil {
			return m.failJob(job, StepDetachVolume, err)
		}
		if err := m.finishStep(job, StepDetachVolume); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepCreateSnapshot) {
		if err := m.beginStep(job, StepCreateSnapshot); err != nil {
			return job, err
		}
		if job.SnapshotID == "" {
			snapshotID, err := p.CreateSnapshot(ctx, job.VolumeID,
				"runctl archival snapshot after detach",
				map[string]string{types.TagOwner: "runctl", "runctl:job": job.ID})
			if err != nil {
				return m.failJob(job, StepCreateSnapshot, err)
			}
			job.SnapshotID = snapshotID
			if err := m.store.Put(job); err != nil {
				return job, err
			}
		}
		if err := m.finishStep(job, StepCreateSnapshot); err != nil {
			return job, err
		}
	}

	if !job.stepCompleted(StepAwaitSnapshot) {
		if err := m.beginStep(job, StepAwaitSnapshot); err != nil {
			return job, err
		}
		if err := m.awaitSnapshot(ctx, p, job.SnapshotID); err != nil {
			return m.failJob(job, StepAwaitSnapshot, err)
		}
		if err := m.finishStep(job, StepAwaitSnapshot); err != nil {
			return job, err
		}
	}

	return m.completeJob(job)
}

// awaitSnapshot polls until the snapshot completes or the wait budget
// runs out.
func (m *Manager) awaitSnapshot(ctx context.Context, p providers.Provider, snapshotID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.snapshotPoll
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = m.snapshotWait

	err := backoff.Retry(func() error {
		raw, err := p.DescribeSnapshot(ctx, snapshotID)
		if err != nil {
			if types.IsProviderUnavailable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		state := lifecycle.Normalize(types.KindSnapshot, raw.State)
		switch state {
		case lifecycle.StateCompleted:
			return nil
		case lifecycle.StateError:
			return backoff.Permanent(&types.StateConflictError{
				ResourceID: snapshotID,
				Msg:        "snapshot entered error state",
			})
		}
		return fmt.Errorf("snapshot %s still %s", snapshotID, raw.State)
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		var sc *types.StateConflictError
		if errors.As(err, &sc) {
			return err
		}
		return fmt.Errorf("snapshot %s not complete within %s: %w", snapshotID, m.snapshotWait, err)
	}
	return nil
}

// beginStep persists a step transition before its remote action runs.
func (m *Manager) beginStep(job *Job, step Step) error {
	job.beginStep(step, time.Now().UTC())
	if err := m.store.Put(job); err != nil {
		return err
	}
	m.logger.Info().Str("job_id", job.ID).Str("step", string(step)).Msg("step started")
	return nil
}

func (m *Manager) finishStep(job *Job, step Step) error {
	job.completeStep(step, time.Now().UTC())
	if err := m.store.Put(job); err != nil {
		return err
	}
	// Instruments are nil outside the daemon.
	if telemetry.JobStepsRun != nil {
		telemetry.JobStepsRun.Add(context.Background(), 1)
	}
	m.journalStep(job, step, nil)
	m.logger.Info().Str("job_id", job.ID).Str("step", string(step)).Msg("step completed")
	return nil
}

// failJob records a terminal failure and returns the wrapped error.
func (m *Manager) failJob(job *Job, step Step, cause error) (*Job, error) {
	job.fail(cause, time.Now().UTC())
	if err := m.store.Put(job); err != nil {
		return job, err
	}
	m.journalStep(job, step, cause)
	m.logger.Error().
		Err(cause).
		Str("job_id", job.ID).
		Str("step", string(step)).
		Msg("job failed")
	return job, &types.JobFailedError{JobID: job.ID, Step: string(step), Err: cause}
}

// stepEntry is the journal payload for one step transition.
type stepEntry struct {
	JobID    string    `json:"job_id"`
	Kind     JobKind   `json:"kind"`
	Step     Step      `json:"step"`
	VolumeID string    `json:"volume_id"`
	Status   JobStatus `json:"status"`
}

func (m *Manager) journalStep(job *Job, step Step, cause error) {
	if m.journal == nil {
		return
	}
	entry := stepEntry{
		JobID:    job.ID,
		Kind:     job.Kind,
		Step:     step,
		VolumeID: job.VolumeID,
		Status:   job.Status,
	}
	var err error
	if cause != nil {
		err = m.journal.RecordError(journal.EntryJobStep, job.ID, entry, cause)
	} else {
		err = m.journal.Record(journal.EntryJobStep, job.ID, entry)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("journal write failed")
	}
}

func (m *Manager) completeJob(job *Job) (*Job, error) {
	job.complete(time.Now().UTC())
	if err := m.store.Put(job); err != nil {
		return job, err
	}
	m.logger.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("job completed")
	return job, nil
}
