package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/internal/cliout"
	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/reconciler"
	"github.com/arclabs561/runctl/resilience"
	"github.com/arclabs561/runctl/types"
)

var (
	cleanupExecute bool
	cleanupDryRun  bool
	cleanupForce   bool
	cleanupYes     bool
	cleanupIDs     []string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Plan (and optionally execute) cleanup of orphaned and stale resources",
	Long: `Compare observed cloud state against local intent and rank cleanup
candidates by the cost they are accumulating.

Orphaned resources carry no ownership tag at all. Stale resources are
owned and still billing but have outlived the idle threshold without an
active project claiming them. Resources held by in-flight jobs and
resources tagged protected or persistent are never candidates.

Planning is the default and touches nothing. --execute deletes the
planned candidates after confirmation, re-checking the protection and
minimum-age guards per resource.`,
	Example: `  runctl cleanup                       # Plan only
  runctl cleanup --execute             # Plan, confirm, delete
  runctl cleanup --execute --dry-run   # Show what execute would do
  runctl cleanup --execute --id vol-0abc123 --yes`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().BoolVar(&cleanupExecute, "execute", false, "Delete the planned candidates")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "With --execute: log decisions without deleting")
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Bypass the minimum-age guard")
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Skip the confirmation prompt")
	cleanupCmd.Flags().StringSliceVar(&cleanupIDs, "id", nil, "Restrict execution to specific resource IDs")
}

// planPayload renders a cleanup plan.
type planPayload struct {
	Plan *reconciler.Plan `json:"plan"`
}

func (p *planPayload) Headers() []string {
	return []string{"KIND", "ID", "REASON", "AGE", "COST AT RISK", "ACTION"}
}

func (p *planPayload) Rows() [][]string {
	rows := make([][]string, 0, len(p.Plan.Candidates))
	for _, c := range p.Plan.Candidates {
		rows = append(rows, []string{
			string(c.Resource.Kind),
			c.Resource.ID,
			string(c.Reason),
			formatDuration(c.Age),
			fmt.Sprintf("$%.2f", c.CostAtRisk),
			string(c.RecommendedAction),
		})
	}
	return rows
}

// execPayload renders a cleanup execution result.
type execPayload struct {
	Result *reconciler.CleanupResult `json:"result"`
}

func (p *execPayload) Headers() []string {
	return []string{"RESOURCE", "OUTCOME", "DETAIL"}
}

func (p *execPayload) Rows() [][]string {
	var rows [][]string
	for _, key := range p.Result.Deleted {
		outcome := "deleted"
		if p.Result.DryRun {
			outcome = "would delete"
		}
		rows = append(rows, []string{key.String(), outcome, ""})
	}
	for _, s := range p.Result.Skipped {
		rows = append(rows, []string{s.Key.String(), "skipped", s.Reason})
	}
	for _, f := range p.Result.Failed {
		rows = append(rows, []string{f.Key.String(), "failed", f.Error})
	}
	return rows
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	// In-flight jobs pin their resources out of the plan.
	excluded, err := claimedByJobs(rt)
	if err != nil {
		return err
	}

	snapshot, err := rt.collectOnce(ctx)
	if err != nil {
		return err
	}

	intent, err := reconciler.LoadIntentFile(rt.cfg.IntentFile)
	if err != nil {
		return err
	}

	planner := reconciler.NewPlanner(rt.policy(), intent, rt.logger)
	plan := planner.Plan(snapshot, excluded, time.Now().UTC())

	if !cleanupExecute {
		emit(planResult(plan))
		return nil
	}

	if len(plan.Candidates) == 0 {
		emit(cliout.OK(&planPayload{Plan: plan}, "nothing to clean up"))
		return nil
	}

	if !cleanupYes && !cleanupDryRun {
		if !confirmCleanup(plan) {
			emit(cliout.OK(nil, "aborted"))
			return nil
		}
	}

	jrnl, err := journal.Open(rt.cfg.Storage.JournalDir)
	if err != nil {
		return err
	}
	defer func() { _ = jrnl.Close() }()

	executor := reconciler.NewExecutor(rt.deleters(), rt.policy(), rt.logger,
		reconciler.WithJournal(jrnl))
	result, err := executor.Execute(ctx, plan, reconciler.ExecuteOptions{
		DryRun: cleanupDryRun,
		Force:  cleanupForce,
		Only:   onlyKeys(plan, cleanupIDs),
	})
	if err != nil {
		return err
	}

	message := fmt.Sprintf("%d deleted, %d skipped, %d failed, $%.2f reclaimed",
		len(result.Deleted), len(result.Skipped), len(result.Failed), result.Reclaimed)
	if len(result.Failed) > 0 {
		emit(cliout.Partial(&execPayload{Result: result}, message))
		return nil
	}
	emit(cliout.OK(&execPayload{Result: result}, message))
	return nil
}

func planResult(plan *reconciler.Plan) *cliout.Result {
	message := fmt.Sprintf("%d candidates, $%.2f at risk", len(plan.Candidates), plan.TotalCostAtRisk)
	if plan.Partial {
		message += fmt.Sprintf(" (PARTIAL: %s degraded)", strings.Join(plan.Degraded, ", "))
		return cliout.Partial(&planPayload{Plan: plan}, message)
	}
	return cliout.OK(&planPayload{Plan: plan}, message)
}

// claimedByJobs loads the active-job resource claims from the job store.
func claimedByJobs(rt *runtime) (map[types.ResourceKey]bool, error) {
	store, err := resilience.OpenStore(rt.cfg.Storage.JobDB)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()
	return store.ClaimedResources()
}

func onlyKeys(plan *reconciler.Plan, ids []string) map[types.ResourceKey]bool {
	if len(ids) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	only := make(map[types.ResourceKey]bool)
	for _, c := range plan.Candidates {
		if wanted[c.Resource.ID] {
			only[c.Resource.Key()] = true
		}
	}
	return only
}

func confirmCleanup(plan *reconciler.Plan) bool {
	fmt.Printf("About to delete %d resources ($%.2f at risk). Type 'yes' to continue: ",
		len(plan.Candidates), plan.TotalCostAtRisk)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}
