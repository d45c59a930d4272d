package reconciler

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/registry"
	"github.com/arclabs561/runctl/types"
)

// Planner derives cleanup candidates from a registry snapshot.
type Planner struct {
	policy Policy
	intent IntentStore
	logger zerolog.Logger
}

// NewPlanner creates a planner with the given policy and intent store.
// A nil intent store means no project is ever considered active.
func NewPlanner(policy Policy, intent IntentStore, logger zerolog.Logger) *Planner {
	if intent == nil {
		intent = emptyIntent{}
	}
	return &Planner{
		policy: policy,
		intent: intent,
		logger: logger.With().Str("component", "planner").Logger(),
	}
}

type emptyIntent struct{}

func (emptyIntent) ActiveProject(string) (ProjectIntent, bool) {
	return ProjectIntent{}, false
}

// Plan classifies every resource in the snapshot and returns an ordered
// cleanup plan. Resources whose keys appear in excluded (volumes and
// instances referenced by in-flight resilience jobs) are never
// candidates regardless of their tags or age.
//
// Classification is advisory: nothing is deleted here.
func (p *Planner) Plan(snapshot *registry.Snapshot, excluded map[types.ResourceKey]bool, now time.Time) *Plan {
	plan := &Plan{
		ID:         uuid.New().String(),
		TakenAt:    now,
		SnapshotAt: snapshot.TakenAt,
		Partial:    snapshot.Partial(),
		Degraded:   append([]string(nil), snapshot.Degraded...),
	}

	for resource := range snapshot.All() {
		if excluded[resource.Key()] {
			continue
		}
		candidate, ok := p.classify(&resource, now)
		if !ok {
			continue
		}
		plan.Candidates = append(plan.Candidates, candidate)
		plan.TotalCostAtRisk += candidate.CostAtRisk
	}

	// Most expensive first: the operator's attention goes where the
	// money is going.
	sort.SliceStable(plan.Candidates, func(i, j int) bool {
		return plan.Candidates[i].CostAtRisk > plan.Candidates[j].CostAtRisk
	})

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Int("candidates", len(plan.Candidates)).
		Float64("cost_at_risk", plan.TotalCostAtRisk).
		Bool("partial", plan.Partial).
		Msg("cleanup plan built")

	return plan
}

// classify decides whether one resource is a cleanup candidate.
func (p *Planner) classify(resource *types.Resource, now time.Time) (CleanupCandidate, bool) {
	if resource.IsProtected() {
		return CleanupCandidate{}, false
	}

	state := lifecycle.Normalize(resource.Kind, resource.RawState)
	if lifecycle.Terminal(state) {
		// Already going away on its own.
		return CleanupCandidate{}, false
	}

	orphaned := !resource.IsOwned()
	stale := p.isStale(resource, state, now)

	var reason Reason
	switch {
	case orphaned && stale:
		if p.policy.PreferStaleOverOrphaned {
			reason = ReasonStale
		} else {
			reason = p.orphanReason(resource)
		}
	case orphaned:
		reason = p.orphanReason(resource)
	case stale:
		reason = ReasonStale
	default:
		return CleanupCandidate{}, false
	}

	cost := lifecycle.Compute(resource, now)
	return CleanupCandidate{
		Resource:          *resource,
		Reason:            reason,
		Age:               resource.Age(now),
		Cost:              cost,
		CostAtRisk:        cost.AccumulatedCost,
		RecommendedAction: recommendedAction(resource.Kind, reason),
	}, true
}

// isStale: owned, still billing, older than the idle threshold, and not
// claimed by any active project in local intent.
func (p *Planner) isStale(resource *types.Resource, state lifecycle.State, now time.Time) bool {
	if !resource.IsOwned() || !lifecycle.Billable(resource.Kind, state) {
		return false
	}
	if resource.Age(now) <= p.policy.IdleThreshold {
		return false
	}
	if project := resource.Tags.RunctlProject; project != "" {
		if intent, ok := p.intent.ActiveProject(project); ok && intent.Active {
			return false
		}
	}
	return true
}

func (p *Planner) orphanReason(resource *types.Resource) Reason {
	if resource.Tags.IsEmpty() {
		return ReasonOrphaned
	}
	return ReasonUntagged
}

func recommendedAction(kind types.ResourceKind, reason Reason) Action {
	// Stale-but-owned resources get a softer default than unowned ones.
	if reason == ReasonStale {
		return ActionReview
	}
	switch kind {
	case types.KindInstance:
		return ActionTerminate
	case types.KindVolume, types.KindSnapshot:
		return ActionDelete
	}
	return ActionReview
}
