package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/telemetry"
	"github.com/arclabs561/runctl/types"
)

// maxPlanAge bounds how stale a plan may be before execution refuses
// it. Deleting from an old plan risks acting on resources that have
// since changed hands.
const maxPlanAge = 10 * time.Minute

// SkippedCandidate records a candidate that was deliberately not acted on.
type SkippedCandidate struct {
	Key    types.ResourceKey `json:"key"`
	Reason string            `json:"reason"`
}

// FailedCandidate records a candidate whose deletion failed.
type FailedCandidate struct {
	Key   types.ResourceKey `json:"key"`
	Error string            `json:"error"`
}

// CleanupResult summarizes one cleanup execution.
type CleanupResult struct {
	PlanID     string              `json:"plan_id"`
	DryRun     bool                `json:"dry_run"`
	Deleted    []types.ResourceKey `json:"deleted"`
	Skipped    []SkippedCandidate  `json:"skipped"`
	Failed     []FailedCandidate   `json:"failed"`
	Reclaimed  float64             `json:"reclaimed_cost"`
	ExecutedAt time.Time           `json:"executed_at"`
}

// ExecuteOptions tune one cleanup execution.
type ExecuteOptions struct {
	// DryRun logs every decision without issuing any delete.
	DryRun bool
	// Force bypasses the minimum-age guard, not the protection guard.
	Force bool
	// Only restricts execution to the listed resource keys. Empty means
	// the whole plan.
	Only map[types.ResourceKey]bool
}

// Executor acts on cleanup plans through provider deleters.
type Executor struct {
	deleters map[string]providers.Deleter
	policy   Policy
	journal  *journal.Journal
	logger   zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithJournal records every execution outcome in the audit journal.
func WithJournal(j *journal.Journal) ExecutorOption {
	return func(e *Executor) { e.journal = j }
}

// NewExecutor creates an executor over the given per-provider deleters.
func NewExecutor(deleters map[string]providers.Deleter, policy Policy, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		deleters: deleters,
		policy:   policy,
		logger:   logger.With().Str("component", "cleanup-executor").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute deletes the candidates of a plan. The plan must come from the
// current reconciliation pass; anything older than maxPlanAge is
// rejected outright. Each candidate is re-checked against the
// protection and minimum-age guards at the moment of deletion, and one
// failure never stops the rest of the plan.
func (e *Executor) Execute(ctx context.Context, plan *Plan, opts ExecuteOptions) (*CleanupResult, error) {
	now := time.Now().UTC()
	if now.Sub(plan.TakenAt) > maxPlanAge {
		return nil, &types.StateConflictError{
			ResourceID: plan.ID,
			Msg:        fmt.Sprintf("plan is %s old, re-plan before executing", now.Sub(plan.TakenAt).Round(time.Second)),
		}
	}

	result := &CleanupResult{
		PlanID:     plan.ID,
		DryRun:     opts.DryRun,
		ExecutedAt: now,
	}

	for _, candidate := range plan.Candidates {
		key := candidate.Resource.Key()
		if len(opts.Only) > 0 && !opts.Only[key] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if reason, skip := e.guard(&candidate, now, opts); skip {
			result.Skipped = append(result.Skipped, SkippedCandidate{Key: key, Reason: reason})
			e.logger.Info().Str("resource", key.String()).Str("reason", reason).Msg("cleanup skipped")
			continue
		}

		if opts.DryRun {
			result.Deleted = append(result.Deleted, key)
			result.Reclaimed += candidate.CostAtRisk
			e.logger.Info().
				Str("resource", key.String()).
				Str("reason", string(candidate.Reason)).
				Float64("cost_at_risk", candidate.CostAtRisk).
				Msg("would delete (dry run)")
			continue
		}

		if err := e.delete(ctx, &candidate.Resource); err != nil {
			result.Failed = append(result.Failed, FailedCandidate{Key: key, Error: err.Error()})
			e.logger.Warn().Err(err).Str("resource", key.String()).Msg("cleanup failed")
			continue
		}

		result.Deleted = append(result.Deleted, key)
		result.Reclaimed += candidate.CostAtRisk
		if telemetry.CleanupDeleted != nil {
			telemetry.CleanupDeleted.Add(ctx, 1)
		}
		e.logger.Info().
			Str("resource", key.String()).
			Str("reason", string(candidate.Reason)).
			Float64("cost_at_risk", candidate.CostAtRisk).
			Msg("resource deleted")
	}

	if e.journal != nil {
		if err := e.journal.Record(journal.EntryCleanupExec, plan.ID, result); err != nil {
			e.logger.Warn().Err(err).Msg("journal write failed")
		}
	}

	return result, nil
}

// guard re-checks the per-candidate safety rules at execute time.
func (e *Executor) guard(candidate *CleanupCandidate, now time.Time, opts ExecuteOptions) (string, bool) {
	if candidate.Resource.IsProtected() {
		return "protected", true
	}
	if !opts.Force && candidate.Resource.Age(now) < e.policy.MinAge {
		return fmt.Sprintf("younger than minimum age %s", e.policy.MinAge), true
	}
	if _, ok := e.deleters[candidate.Resource.Provider]; !ok {
		return "no deleter for provider " + candidate.Resource.Provider, true
	}
	return "", false
}

func (e *Executor) delete(ctx context.Context, resource *types.Resource) error {
	deleter := e.deleters[resource.Provider]
	switch resource.Kind {
	case types.KindInstance:
		return deleter.TerminateInstance(ctx, resource.ID)
	case types.KindVolume:
		return deleter.DeleteVolume(ctx, resource.ID)
	case types.KindSnapshot:
		return deleter.DeleteSnapshot(ctx, resource.ID)
	}
	return types.NewValidationError("kind", "unknown resource kind "+string(resource.Kind))
}
