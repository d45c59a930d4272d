// Package resilience runs the long, multi-step volume workflows:
// pre-warming a volume from object storage, checkpoint-then-attach, and
// detach-then-snapshot. Every step transition is persisted before the
// remote action it precedes, so a crashed process resumes mid-workflow
// instead of repeating side effects.
package resilience

import (
	"time"

	"github.com/google/uuid"
)

// JobKind names a workflow.
type JobKind string

const (
	// JobPreWarm hydrates a volume from an object-store source using a
	// short-lived bootstrap instance.
	JobPreWarm JobKind = "pre_warm"
	// JobAttachCheckpoint snapshots a volume, attaches it, and verifies
	// the device surfaced on the instance. A failed attach or
	// verification leaves the volume detached with the checkpoint
	// snapshot as the recovery point.
	JobAttachCheckpoint JobKind = "attach_checkpoint"
	// JobDetachSnapshot detaches a volume and snapshots it for archival.
	JobDetachSnapshot JobKind = "detach_snapshot"
)

// JobStatus is the coarse lifecycle of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step names one unit of workflow progress. Step values are persisted,
// so renaming one is a storage-format change.
type Step string

const (
	StepInit Step = "init"

	// Pre-warm steps, in order.
	StepValidateSource      Step = "validate_source"
	StepLaunchBootstrap     Step = "launch_bootstrap"
	StepAttachToBootstrap   Step = "attach_to_bootstrap"
	StepSyncData            Step = "sync_data"
	StepDetachFromBootstrap Step = "detach_from_bootstrap"
	StepTerminateBootstrap  Step = "terminate_bootstrap"

	// Checkpoint-attach steps.
	StepCheckpointSnapshot Step = "checkpoint_snapshot"
	StepAttachTarget       Step = "attach_target"
	StepVerifyMount        Step = "verify_mount"
	StepRevertDetach       Step = "revert_detach"

	// Detach-snapshot steps.
	StepDetachVolume   Step = "detach_volume"
	StepCreateSnapshot Step = "create_snapshot"
	StepAwaitSnapshot  Step = "await_snapshot"

	StepDone Step = "done"
)

// StepRecord is one persisted step transition.
type StepRecord struct {
	Step      Step      `json:"step"`
	At        time.Time `json:"at"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
}

// Job is the durable record of one workflow run. Everything a resumed
// process needs to pick up where the old one died lives here.
type Job struct {
	ID     string    `json:"id"`
	Kind   JobKind   `json:"kind"`
	Status JobStatus `json:"status"`
	Step   Step      `json:"step"`

	Provider string `json:"provider"`
	VolumeID string `json:"volume_id"`

	// Pre-warm parameters.
	ObjectSource     string `json:"object_source,omitempty"`
	AvailabilityZone string `json:"availability_zone,omitempty"`
	MountPoint       string `json:"mount_point,omitempty"`
	// BootstrapInstanceID is set once, the first time a bootstrap is
	// launched for this job. It is never replaced: a resume that finds
	// the bootstrap dead fails the job rather than launching another.
	BootstrapInstanceID string `json:"bootstrap_instance_id,omitempty"`

	// Attach parameters.
	TargetInstanceID string `json:"target_instance_id,omitempty"`
	Device           string `json:"device,omitempty"`
	// Force applies to detach: rip the volume away even if the
	// instance still holds it.
	Force bool `json:"force,omitempty"`

	// SnapshotID is the checkpoint or archival snapshot, once requested.
	// Recorded even when the job later fails, so an outstanding snapshot
	// is never silently lost.
	SnapshotID string `json:"snapshot_id,omitempty"`

	Error     string       `json:"error,omitempty"`
	History   []StepRecord `json:"history,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewJob creates a pending job of the given kind.
func NewJob(kind JobKind, provider, volumeID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    StatusPending,
		Step:      StepInit,
		Provider:  provider,
		VolumeID:  volumeID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Active reports whether the job still holds claims on its resources.
// Volumes and instances of active jobs are excluded from cleanup plans.
func (j *Job) Active() bool {
	return !j.Status.Terminal()
}

// ResourceIDs lists the provider resource IDs this job currently claims.
func (j *Job) ResourceIDs() []string {
	ids := []string{j.VolumeID}
	if j.BootstrapInstanceID != "" {
		ids = append(ids, j.BootstrapInstanceID)
	}
	if j.TargetInstanceID != "" {
		ids = append(ids, j.TargetInstanceID)
	}
	return ids
}

// beginStep records a step as started. The caller persists the job
// before performing the step's remote action.
func (j *Job) beginStep(step Step, now time.Time) {
	j.Step = step
	j.Status = StatusRunning
	j.UpdatedAt = now
	j.History = append(j.History, StepRecord{Step: step, At: now})
}

// completeStep marks the most recent record of step as done.
func (j *Job) completeStep(step Step, now time.Time) {
	j.UpdatedAt = now
	for i := len(j.History) - 1; i >= 0; i-- {
		if j.History[i].Step == step {
			j.History[i].Completed = true
			return
		}
	}
}

// stepCompleted reports whether the step finished in a prior run.
func (j *Job) stepCompleted(step Step) bool {
	for i := len(j.History) - 1; i >= 0; i-- {
		if j.History[i].Step == step {
			return j.History[i].Completed
		}
	}
	return false
}

// fail marks the job failed at its current step.
func (j *Job) fail(err error, now time.Time) {
	j.Status = StatusFailed
	j.Error = err.Error()
	j.UpdatedAt = now
	for i := len(j.History) - 1; i >= 0; i-- {
		if j.History[i].Step == j.Step {
			j.History[i].Error = err.Error()
			break
		}
	}
}

// complete marks the job finished.
func (j *Job) complete(now time.Time) {
	j.Status = StatusCompleted
	j.Step = StepDone
	j.UpdatedAt = now
}
