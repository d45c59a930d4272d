package reconciler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/registry"
	"github.com/arclabs561/runctl/types"
)

func snapshotOf(t *testing.T, resources ...types.Resource) *registry.Snapshot {
	t.Helper()
	return registry.New().Ingest(resources, nil)
}

func ownedInstance(id string, age time.Duration, state string) types.Resource {
	now := time.Now().UTC()
	return types.Resource{
		Provider:   "aws",
		ID:         id,
		Kind:       types.KindInstance,
		RawState:   state,
		Tags:       types.Tags{RunctlOwner: "trainctl"},
		CreatedAt:  now.Add(-age),
		ObservedAt: now,
		Instance:   &types.InstanceDetail{InstanceType: "m5.large"},
	}
}

func untaggedVolume(id string, age time.Duration) types.Resource {
	now := time.Now().UTC()
	return types.Resource{
		Provider:   "aws",
		ID:         id,
		Kind:       types.KindVolume,
		RawState:   "available",
		CreatedAt:  now.Add(-age),
		ObservedAt: now,
		Volume:     &types.VolumeDetail{SizeGB: 100, VolumeType: "gp3"},
	}
}

func newTestPlanner(policy Policy, intent IntentStore) *Planner {
	return NewPlanner(policy, intent, zerolog.Nop())
}

func TestPlan_UnownedIsOrphanedRegardlessOfAge(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	for _, age := range []time.Duration{0, time.Minute, 30 * 24 * time.Hour} {
		snapshot := snapshotOf(t, untaggedVolume("vol-1", age))
		plan := planner.Plan(snapshot, nil, time.Now().UTC())

		if len(plan.Candidates) != 1 {
			t.Fatalf("age %v: got %d candidates, want 1", age, len(plan.Candidates))
		}
		got := plan.Candidates[0]
		if got.Reason != ReasonOrphaned {
			t.Errorf("age %v: reason = %s, want %s", age, got.Reason, ReasonOrphaned)
		}
	}
}

func TestPlan_YoungOwnedNeverStale(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	// 2h old, owned, running, 24h threshold: not stale, not orphaned.
	snapshot := snapshotOf(t, ownedInstance("i-1", 2*time.Hour, "running"))
	plan := planner.Plan(snapshot, nil, time.Now().UTC())

	if len(plan.Candidates) != 0 {
		t.Fatalf("plan = %+v, want empty", plan.Candidates)
	}
}

func TestPlan_OwnedIdleBeyondThresholdIsStale(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	snapshot := snapshotOf(t, ownedInstance("i-1", 48*time.Hour, "running"))
	plan := planner.Plan(snapshot, nil, time.Now().UTC())

	if len(plan.Candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(plan.Candidates))
	}
	if plan.Candidates[0].Reason != ReasonStale {
		t.Errorf("reason = %s, want %s", plan.Candidates[0].Reason, ReasonStale)
	}
}

func TestPlan_ActiveProjectNeverStale(t *testing.T) {
	intent := StaticIntentStore{
		"llm-train": {Name: "llm-train", Active: true},
	}
	planner := newTestPlanner(DefaultPolicy(), intent)

	old := ownedInstance("i-1", 72*time.Hour, "running")
	old.Tags.RunctlProject = "llm-train"
	plan := planner.Plan(snapshotOf(t, old), nil, time.Now().UTC())

	if len(plan.Candidates) != 0 {
		t.Fatalf("resource of active project classified %s", plan.Candidates[0].Reason)
	}
}

func TestPlan_InactiveProjectStillStale(t *testing.T) {
	intent := StaticIntentStore{
		"done-proj": {Name: "done-proj", Active: false},
	}
	planner := newTestPlanner(DefaultPolicy(), intent)

	old := ownedInstance("i-1", 72*time.Hour, "running")
	old.Tags.RunctlProject = "done-proj"
	plan := planner.Plan(snapshotOf(t, old), nil, time.Now().UTC())

	if len(plan.Candidates) != 1 || plan.Candidates[0].Reason != ReasonStale {
		t.Fatalf("inactive project resource should be stale, got %+v", plan.Candidates)
	}
}

func TestPlan_ExcludesJobClaimedResources(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	snapshot := snapshotOf(t,
		untaggedVolume("vol-1", time.Hour),
		untaggedVolume("vol-2", time.Hour),
	)
	excluded := map[types.ResourceKey]bool{
		{Provider: "aws", ID: "vol-1"}: true,
	}
	plan := planner.Plan(snapshot, excluded, time.Now().UTC())

	for _, candidate := range plan.Candidates {
		if excluded[candidate.Resource.Key()] {
			t.Fatalf("candidate %s is claimed by an active job", candidate.Resource.ID)
		}
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Resource.ID != "vol-2" {
		t.Fatalf("plan = %+v, want just vol-2", plan.Candidates)
	}
}

func TestPlan_ProtectedNeverCandidate(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	protected := untaggedVolume("vol-1", 100*time.Hour)
	protected.Tags.RunctlProtected = true
	persistent := untaggedVolume("vol-2", 100*time.Hour)
	persistent.Volume.Persistent = true

	plan := planner.Plan(snapshotOf(t, protected, persistent), nil, time.Now().UTC())
	if len(plan.Candidates) != 0 {
		t.Fatalf("protected resources planned for cleanup: %+v", plan.Candidates)
	}
}

func TestPlan_TerminalNeverCandidate(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	gone := untaggedVolume("vol-1", 100*time.Hour)
	gone.RawState = "deleted"
	plan := planner.Plan(snapshotOf(t, gone), nil, time.Now().UTC())

	if len(plan.Candidates) != 0 {
		t.Fatalf("terminal resource planned for cleanup: %+v", plan.Candidates)
	}
}

func TestPlan_OrphanedBeatsStale(t *testing.T) {
	// Tagged with a non-ownership tag only, old and billable: qualifies
	// as both untagged-orphaned and would-be stale if it were owned.
	resource := untaggedVolume("vol-1", 100*time.Hour)
	resource.Tags.Name = "scratch"

	plan := newTestPlanner(DefaultPolicy(), nil).
		Plan(snapshotOf(t, resource), nil, time.Now().UTC())
	if len(plan.Candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(plan.Candidates))
	}
	if plan.Candidates[0].Reason != ReasonUntagged {
		t.Errorf("reason = %s, want %s", plan.Candidates[0].Reason, ReasonUntagged)
	}
}

func TestPlan_OrderedByCostAtRiskDescending(t *testing.T) {
	planner := newTestPlanner(DefaultPolicy(), nil)

	small := untaggedVolume("vol-small", 10*time.Hour)
	small.Volume.SizeGB = 10
	big := untaggedVolume("vol-big", 10*time.Hour)
	big.Volume.SizeGB = 4000

	plan := planner.Plan(snapshotOf(t, small, big), nil, time.Now().UTC())
	if len(plan.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(plan.Candidates))
	}
	if plan.Candidates[0].Resource.ID != "vol-big" {
		t.Errorf("first candidate = %s, want vol-big (highest cost at risk)", plan.Candidates[0].Resource.ID)
	}
	if plan.TotalCostAtRisk <= 0 {
		t.Error("total cost at risk should be positive")
	}
}

func TestPlan_CarriesDegradedProviders(t *testing.T) {
	snapshot := registry.New().Ingest(nil, []string{"aws"})
	plan := newTestPlanner(DefaultPolicy(), nil).Plan(snapshot, nil, time.Now().UTC())

	if !plan.Partial {
		t.Error("plan over a partial snapshot must be partial")
	}
	if len(plan.Degraded) != 1 || plan.Degraded[0] != "aws" {
		t.Errorf("degraded = %v, want [aws]", plan.Degraded)
	}
}
