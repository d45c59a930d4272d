package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/types"
)

// fakeDeleter records what was deleted and can fail on demand.
type fakeDeleter struct {
	terminated []string
	volumes    []string
	snapshots  []string
	failOn     map[string]error
}

func (d *fakeDeleter) TerminateInstance(_ context.Context, id string) error {
	if err := d.failOn[id]; err != nil {
		return err
	}
	d.terminated = append(d.terminated, id)
	return nil
}

func (d *fakeDeleter) DeleteVolume(_ context.Context, id string) error {
	if err := d.failOn[id]; err != nil {
		return err
	}
	d.volumes = append(d.volumes, id)
	return nil
}

func (d *fakeDeleter) DeleteSnapshot(_ context.Context, id string) error {
	if err := d.failOn[id]; err != nil {
		return err
	}
	d.snapshots = append(d.snapshots, id)
	return nil
}

func candidateFor(resource types.Resource) CleanupCandidate {
	now := time.Now().UTC()
	cost := lifecycle.Compute(&resource, now)
	return CleanupCandidate{
		Resource:          resource,
		Reason:            ReasonOrphaned,
		Age:               resource.Age(now),
		Cost:              cost,
		CostAtRisk:        cost.AccumulatedCost,
		RecommendedAction: ActionDelete,
	}
}

func freshPlan(candidates ...CleanupCandidate) *Plan {
	plan := &Plan{
		ID:         "test-plan",
		TakenAt:    time.Now().UTC(),
		SnapshotAt: time.Now().UTC(),
		Candidates: candidates,
	}
	for _, c := range candidates {
		plan.TotalCostAtRisk += c.CostAtRisk
	}
	return plan
}

func newTestExecutor(d *fakeDeleter, policy Policy) *Executor {
	return NewExecutor(map[string]providers.Deleter{"aws": d}, policy, zerolog.Nop())
}

func TestExecute_DeletesByKind(t *testing.T) {
	d := &fakeDeleter{}
	executor := newTestExecutor(d, Policy{})

	plan := freshPlan(
		candidateFor(ownedInstance("i-1", time.Hour, "running")),
		candidateFor(untaggedVolume("vol-1", time.Hour)),
	)
	result, err := executor.Execute(context.Background(), plan, ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Deleted) != 2 {
		t.Fatalf("deleted = %v, want 2 entries", result.Deleted)
	}
	if len(d.terminated) != 1 || d.terminated[0] != "i-1" {
		t.Errorf("terminated = %v, want [i-1]", d.terminated)
	}
	if len(d.volumes) != 1 || d.volumes[0] != "vol-1" {
		t.Errorf("volumes = %v, want [vol-1]", d.volumes)
	}
}

func TestExecute_RejectsStalePlan(t *testing.T) {
	executor := newTestExecutor(&fakeDeleter{}, Policy{})

	plan := freshPlan(candidateFor(untaggedVolume("vol-1", time.Hour)))
	plan.TakenAt = time.Now().UTC().Add(-time.Hour)

	_, err := executor.Execute(context.Background(), plan, ExecuteOptions{})
	if !types.IsStateConflict(err) {
		t.Fatalf("stale plan error = %v, want state conflict", err)
	}
}

func TestExecute_MinAgeGuardAtExecuteTime(t *testing.T) {
	d := &fakeDeleter{}
	executor := newTestExecutor(d, Policy{MinAge: 5 * time.Minute})

	young := candidateFor(untaggedVolume("vol-young", time.Minute))
	old := candidateFor(untaggedVolume("vol-old", time.Hour))

	result, err := executor.Execute(context.Background(), freshPlan(young, old), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Skipped) != 1 || result.Skipped[0].Key.ID != "vol-young" {
		t.Errorf("skipped = %v, want vol-young", result.Skipped)
	}
	if len(d.volumes) != 1 || d.volumes[0] != "vol-old" {
		t.Errorf("deleted volumes = %v, want [vol-old]", d.volumes)
	}

	// Force bypasses the age guard.
	d2 := &fakeDeleter{}
	executor2 := newTestExecutor(d2, Policy{MinAge: 5 * time.Minute})
	result, err = executor2.Execute(context.Background(), freshPlan(young), ExecuteOptions{Force: true})
	if err != nil {
		t.Fatalf("Execute(force) error = %v", err)
	}
	if len(result.Deleted) != 1 {
		t.Errorf("forced execute deleted = %v, want 1", result.Deleted)
	}
}

func TestExecute_DryRunTouchesNothing(t *testing.T) {
	d := &fakeDeleter{}
	executor := newTestExecutor(d, Policy{})

	plan := freshPlan(candidateFor(untaggedVolume("vol-1", time.Hour)))
	result, err := executor.Execute(context.Background(), plan, ExecuteOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Deleted) != 1 {
		t.Errorf("dry run should report would-delete entries, got %v", result.Deleted)
	}
	if len(d.volumes)+len(d.terminated)+len(d.snapshots) != 0 {
		t.Error("dry run issued real deletions")
	}
}

func TestExecute_OneFailureDoesNotStopRest(t *testing.T) {
	d := &fakeDeleter{failOn: map[string]error{"vol-bad": errors.New("boom")}}
	executor := newTestExecutor(d, Policy{})

	plan := freshPlan(
		candidateFor(untaggedVolume("vol-bad", time.Hour)),
		candidateFor(untaggedVolume("vol-good", time.Hour)),
	)
	result, err := executor.Execute(context.Background(), plan, ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Failed) != 1 || result.Failed[0].Key.ID != "vol-bad" {
		t.Errorf("failed = %v, want vol-bad", result.Failed)
	}
	if len(d.volumes) != 1 || d.volumes[0] != "vol-good" {
		t.Errorf("deleted = %v, want [vol-good]", d.volumes)
	}
}

func TestExecute_JournalsResult(t *testing.T) {
	dir := t.TempDir()
	jrnl, err := journal.Open(dir)
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}

	d := &fakeDeleter{}
	executor := NewExecutor(map[string]providers.Deleter{"aws": d}, Policy{}, zerolog.Nop(),
		WithJournal(jrnl))

	plan := freshPlan(candidateFor(untaggedVolume("vol-1", time.Hour)))
	if _, err := executor.Execute(context.Background(), plan, ExecuteOptions{}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if err := jrnl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var recorded int
	err = journal.Replay(dir, time.Time{}, func(e *journal.Entry) error {
		if e.Kind != journal.EntryCleanupExec {
			return nil
		}
		recorded++
		if e.Subject != plan.ID {
			t.Errorf("entry subject = %s, want plan id %s", e.Subject, plan.ID)
		}
		var result CleanupResult
		if err := json.Unmarshal(e.Data, &result); err != nil {
			return err
		}
		if len(result.Deleted) != 1 {
			t.Errorf("journaled result deleted = %v, want 1 entry", result.Deleted)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if recorded != 1 {
		t.Fatalf("cleanup_exec entries = %d, want 1", recorded)
	}
}

func TestExecute_OnlyRestriction(t *testing.T) {
	d := &fakeDeleter{}
	executor := newTestExecutor(d, Policy{})

	plan := freshPlan(
		candidateFor(untaggedVolume("vol-1", time.Hour)),
		candidateFor(untaggedVolume("vol-2", time.Hour)),
	)
	only := map[types.ResourceKey]bool{{Provider: "aws", ID: "vol-2"}: true}
	result, err := executor.Execute(context.Background(), plan, ExecuteOptions{Only: only})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(result.Deleted) != 1 || result.Deleted[0].ID != "vol-2" {
		t.Errorf("deleted = %v, want just vol-2", result.Deleted)
	}
}
