// Package engine runs the periodic observe-reconcile loop and hands
// immutable state updates to whoever is watching. One goroutine owns
// the cycle; consumers only ever see published snapshots and plans.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/collector"
	"github.com/arclabs561/runctl/journal"
	"github.com/arclabs561/runctl/reconciler"
	"github.com/arclabs561/runctl/registry"
	"github.com/arclabs561/runctl/resilience"
	"github.com/arclabs561/runctl/telemetry"
	"github.com/arclabs561/runctl/types"
)

// Update is one published engine state: the snapshot of a completed
// cycle and the cleanup plan derived from it.
type Update struct {
	Snapshot *registry.Snapshot
	Plan     *reconciler.Plan
	Cycle    int64
}

// Engine owns the collection cycle. Construct with New, run with Run.
type Engine struct {
	collector *collector.Collector
	registry  *registry.Registry
	planner   *reconciler.Planner
	jobs      *resilience.Store
	journal   *journal.Journal
	logger    zerolog.Logger
	cadence   time.Duration

	// updates is a single-slot mailbox: a slow consumer sees the
	// latest completed cycle, never a backlog of old ones.
	updates chan *Update
	// refresh carries on-demand cycle requests from ForceRefresh.
	refresh chan chan *Update

	cycle  atomic.Int64
	latest atomic.Pointer[Update]
}

// New creates an engine. The journal may be nil (no audit trail).
func New(c *collector.Collector, r *registry.Registry, p *reconciler.Planner,
	jobs *resilience.Store, j *journal.Journal, cadence time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		collector: c,
		registry:  r,
		planner:   p,
		jobs:      jobs,
		journal:   j,
		logger:    logger.With().Str("component", "engine").Logger(),
		cadence:   cadence,
		updates:   make(chan *Update, 1),
		refresh:   make(chan chan *Update),
	}
}

// Updates returns the mailbox of published cycles. Reading drains the
// single slot; the next publish refills it.
func (e *Engine) Updates() <-chan *Update {
	return e.updates
}

// Latest returns the most recently published update, or nil before the
// first cycle completes.
func (e *Engine) Latest() *Update {
	return e.latest.Load()
}

// Run executes one cycle immediately, then one per cadence tick, until
// the context is cancelled. ForceRefresh requests run between ticks
// without moving the cadence baseline: a manual refresh at t+5s does
// not delay the scheduled cycle at t+60s.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.runCycle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.runCycle(ctx); err != nil {
				return err
			}
		case reply := <-e.refresh:
			update, err := e.runCycle(ctx)
			if err != nil {
				close(reply)
				return err
			}
			reply <- update
		}
	}
}

// ForceRefresh runs a cycle now and returns its update. Blocks until
// the cycle completes or ctx is cancelled.
func (e *Engine) ForceRefresh(ctx context.Context) (*Update, error) {
	reply := make(chan *Update, 1)
	select {
	case e.refresh <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case update, ok := <-reply:
		if !ok {
			return nil, ctx.Err()
		}
		return update, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runCycle performs one full observe-ingest-plan pass.
// Only context cancellation is an error; degraded providers are data.
func (e *Engine) runCycle(ctx context.Context) (*Update, error) {
	started := time.Now()
	cycle := e.cycle.Add(1)

	batch, err := e.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	degraded := batch.Degraded()
	snapshot := e.registry.Ingest(batch.Resources, degraded)

	excluded, err := e.claimedResources()
	if err != nil {
		return nil, err
	}
	plan := e.planner.Plan(snapshot, excluded, time.Now().UTC())

	update := &Update{Snapshot: snapshot, Plan: plan, Cycle: cycle}
	e.latest.Store(update)
	e.publish(update)
	e.record(cycle, snapshot, plan, time.Since(started))

	return update, nil
}

// claimedResources asks the job store which resources in-flight
// workflows still hold. No store means nothing is claimed.
func (e *Engine) claimedResources() (map[types.ResourceKey]bool, error) {
	if e.jobs == nil {
		return nil, nil
	}
	return e.jobs.ClaimedResources()
}

// publish replaces whatever is sitting in the mailbox with the newest
// update.
func (e *Engine) publish(update *Update) {
	for {
		select {
		case e.updates <- update:
			return
		default:
			select {
			case <-e.updates:
			default:
			}
		}
	}
}

func (e *Engine) record(cycle int64, snapshot *registry.Snapshot, plan *reconciler.Plan, elapsed time.Duration) {
	// Instruments are nil when telemetry.Init was not called (one-shot
	// CLI commands, tests).
	if telemetry.CyclesCompleted != nil {
		ctx := context.Background()
		telemetry.CyclesCompleted.Add(ctx, 1)
		telemetry.CycleDuration.Record(ctx, elapsed.Seconds())
		telemetry.ResourcesObserved.Record(ctx, int64(snapshot.Len()))
		telemetry.ProvidersDegraded.Record(ctx, int64(len(snapshot.Degraded)))
		telemetry.CostAtRisk.Record(ctx, plan.TotalCostAtRisk)
	}

	e.logger.Info().
		Int64("cycle", cycle).
		Int("resources", snapshot.Len()).
		Int("candidates", len(plan.Candidates)).
		Strs("degraded", snapshot.Degraded).
		Dur("elapsed", elapsed).
		Msg("cycle completed")

	if e.journal == nil {
		return
	}
	summary := struct {
		Cycle      int64    `json:"cycle"`
		Resources  int      `json:"resources"`
		Candidates int      `json:"candidates"`
		CostAtRisk float64  `json:"cost_at_risk"`
		Degraded   []string `json:"degraded,omitempty"`
		ElapsedMS  int64    `json:"elapsed_ms"`
	}{cycle, snapshot.Len(), len(plan.Candidates), plan.TotalCostAtRisk, snapshot.Degraded, elapsed.Milliseconds()}

	if err := e.journal.Record(journal.EntryCycle, plan.ID, summary); err != nil {
		e.logger.Warn().Err(err).Msg("journal write failed")
	}
	// The full plan only goes in when there is something in it; empty
	// plans would drown the journal at a short cadence.
	if len(plan.Candidates) > 0 {
		if err := e.journal.Record(journal.EntryPlan, plan.ID, plan); err != nil {
			e.logger.Warn().Err(err).Msg("journal write failed")
		}
	}
}
