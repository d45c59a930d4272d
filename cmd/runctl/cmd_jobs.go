package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/internal/cliout"
	"github.com/arclabs561/runctl/resilience"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and resume volume workflow jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs, newest first",
	RunE:  runJobsList,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume an interrupted job from its last attempted step",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResume,
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Remove a finished job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRemove,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsResumeCmd, jobsRemoveCmd)
}

// jobPayload renders one job.
type jobPayload struct {
	Job *resilience.Job `json:"job"`
}

func jobPayloadFrom(job *resilience.Job) *jobPayload {
	return &jobPayload{Job: job}
}

func (p *jobPayload) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

func (p *jobPayload) Rows() [][]string {
	j := p.Job
	rows := [][]string{
		{"id", j.ID},
		{"kind", string(j.Kind)},
		{"status", string(j.Status)},
		{"step", string(j.Step)},
		{"volume", j.VolumeID},
	}
	if j.BootstrapInstanceID != "" {
		rows = append(rows, []string{"bootstrap", j.BootstrapInstanceID})
	}
	if j.TargetInstanceID != "" {
		rows = append(rows, []string{"instance", j.TargetInstanceID})
	}
	if j.SnapshotID != "" {
		rows = append(rows, []string{"snapshot", j.SnapshotID})
	}
	if j.Error != "" {
		rows = append(rows, []string{"error", j.Error})
	}
	return rows
}

// jobListPayload renders the job list.
type jobListPayload struct {
	Jobs []*resilience.Job `json:"jobs"`
}

func (p *jobListPayload) Headers() []string {
	return []string{"ID", "KIND", "STATUS", "STEP", "VOLUME", "UPDATED"}
}

func (p *jobListPayload) Rows() [][]string {
	rows := make([][]string, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		rows = append(rows, []string{
			j.ID,
			string(j.Kind),
			string(j.Status),
			string(j.Step),
			j.VolumeID,
			j.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOnly()
	if err != nil {
		return err
	}
	store, err := resilience.OpenStore(cfg.Storage.JobDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	jobs, err := store.List()
	if err != nil {
		return err
	}
	emit(cliout.OK(&jobListPayload{Jobs: jobs}, fmt.Sprintf("%d jobs", len(jobs))))
	return nil
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	return withManager(cmd, func(ctx context.Context, m *resilience.Manager) (*resilience.Job, error) {
		return m.Resume(ctx, args[0])
	})
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigOnly()
	if err != nil {
		return err
	}
	store, err := resilience.OpenStore(cfg.Storage.JobDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	emit(cliout.OK(nil, "job "+args[0]+" removed"))
	return nil
}
