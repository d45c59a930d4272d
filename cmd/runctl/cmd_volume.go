package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/internal/cliout"
	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/resilience"
)

var (
	volumeProvider string
	volumeAZ       string
	volumeSource   string
	volumeMount    string
	volumeInstance string
	volumeDevice   string
	volumeForce    bool
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Resumable volume workflows",
}

var volumePreWarmCmd = &cobra.Command{
	Use:   "pre-warm <volume-id>",
	Short: "Hydrate a volume from object storage via a temporary helper instance",
	Long: `Pre-warm launches a small helper instance, attaches the volume,
streams the object source onto a fresh filesystem, then detaches the
volume and disposes of the helper.

Every step is persisted before it runs. If the process dies mid-way,
'runctl jobs resume <job-id>' picks up from the last attempted step;
the helper instance is reused, never relaunched.`,
	Example: `  runctl volume pre-warm vol-0abc123 \
      --source s3://datasets/imagenet \
      --az us-east-1a`,
	Args: cobra.ExactArgs(1),
	RunE: runVolumePreWarm,
}

var volumeAttachCmd = &cobra.Command{
	Use:   "attach <volume-id>",
	Short: "Snapshot a volume, then attach it to an instance",
	Long: `Attach takes a checkpoint snapshot before attaching, then verifies
the device is actually usable on the instance. If the attach or the
verification fails, the volume is left detached and the snapshot ID on
the failed job is the recovery point.`,
	Args: cobra.ExactArgs(1),
	RunE: runVolumeAttach,
}

var volumeDetachCmd = &cobra.Command{
	Use:     "detach <volume-id>",
	Aliases: []string{"detach-snapshot"},
	Short:   "Detach a volume and snapshot it for archival",
	Args:    cobra.ExactArgs(1),
	RunE:    runVolumeDetach,
}

func init() {
	rootCmd.AddCommand(volumeCmd)
	volumeCmd.AddCommand(volumePreWarmCmd, volumeAttachCmd, volumeDetachCmd)

	volumeCmd.PersistentFlags().StringVar(&volumeProvider, "provider", "aws", "Provider holding the volume")

	volumePreWarmCmd.Flags().StringVar(&volumeSource, "source", "", "Object source to sync from (s3://bucket/prefix)")
	volumePreWarmCmd.Flags().StringVar(&volumeAZ, "az", "", "Availability zone of the volume")
	volumePreWarmCmd.Flags().StringVar(&volumeMount, "mount", "", "Mount point on the helper instance")
	_ = volumePreWarmCmd.MarkFlagRequired("source")
	_ = volumePreWarmCmd.MarkFlagRequired("az")

	volumeAttachCmd.Flags().StringVar(&volumeInstance, "instance", "", "Target instance ID")
	volumeAttachCmd.Flags().StringVar(&volumeDevice, "device", "", "Device name on the target instance")
	_ = volumeAttachCmd.MarkFlagRequired("instance")

	volumeDetachCmd.Flags().BoolVar(&volumeForce, "force", false, "Force-detach even if the instance holds it")
}

// withManager builds the job store and workflow manager, runs fn, and
// emits the resulting job.
func withManager(cmd *cobra.Command, fn func(context.Context, *resilience.Manager) (*resilience.Job, error)) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	store, err := resilience.OpenStore(rt.cfg.Storage.JobDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	jrnl, err := journal.Open(rt.cfg.Storage.JournalDir)
	if err != nil {
		return err
	}
	defer func() { _ = jrnl.Close() }()

	manager := resilience.NewManager(store, rt.provs, rt.logger,
		resilience.WithJournal(jrnl))
	job, runErr := fn(ctx, manager)
	emitJob(job, runErr)
	return nil
}

// emitJob shapes a finished (or failed) job into the result envelope.
func emitJob(job *resilience.Job, err error) {
	if err != nil {
		result := cliout.Fail(err)
		if job != nil {
			result.Data = jobPayloadFrom(job)
		}
		emit(result)
		return
	}
	emit(cliout.OK(jobPayloadFrom(job),
		fmt.Sprintf("job %s %s", job.ID, job.Status)))
}

func runVolumePreWarm(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *resilience.Manager) (*resilience.Job, error) {
		return m.StartPreWarm(ctx, resilience.PreWarmParams{
			Provider:         volumeProvider,
			VolumeID:         args[0],
			ObjectSource:     volumeSource,
			AvailabilityZone: volumeAZ,
			MountPoint:       volumeMount,
		})
	})
}

func runVolumeAttach(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *resilience.Manager) (*resilience.Job, error) {
		return m.StartAttachCheckpoint(ctx, resilience.AttachParams{
			Provider:   volumeProvider,
			VolumeID:   args[0],
			InstanceID: volumeInstance,
			Device:     volumeDevice,
		})
	})
}

func runVolumeDetach(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *resilience.Manager) (*resilience.Job, error) {
		return m.StartDetachSnapshot(ctx, resilience.DetachParams{
			Provider: volumeProvider,
			VolumeID: args[0],
			Force:    volumeForce,
		})
	})
}
