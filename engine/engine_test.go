package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/collector"
	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/reconciler"
	"github.com/arclabs561/runctl/registry"
)

type countingLister struct {
	cycles atomic.Int64
}

func (l *countingLister) ListInstances(context.Context) ([]providers.RawInstance, error) {
	l.cycles.Add(1)
	return []providers.RawInstance{{ID: "i-1", State: "running", LaunchedAt: time.Now().Add(-time.Hour)}}, nil
}

func (l *countingLister) ListVolumes(context.Context) ([]providers.RawVolume, error) {
	return nil, nil
}

func (l *countingLister) ListSnapshots(context.Context) ([]providers.RawSnapshot, error) {
	return nil, nil
}

func newTestEngine(lister providers.Lister, cadence time.Duration) *Engine {
	c := collector.New(map[string]providers.Lister{"aws": lister}, zerolog.Nop())
	planner := reconciler.NewPlanner(reconciler.DefaultPolicy(), nil, zerolog.Nop())
	return New(c, registry.New(), planner, nil, nil, cadence, zerolog.Nop())
}

func TestEngine_FirstCyclePublishesImmediately(t *testing.T) {
	lister := &countingLister{}
	eng := newTestEngine(lister, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()

	select {
	case update := <-eng.Updates():
		if update.Cycle != 1 {
			t.Errorf("first cycle = %d, want 1", update.Cycle)
		}
		if update.Snapshot.Len() != 1 {
			t.Errorf("snapshot len = %d, want 1", update.Snapshot.Len())
		}
		if update.Plan == nil {
			t.Error("update carries no plan")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update published before the first cadence tick")
	}

	if eng.Latest() == nil {
		t.Error("Latest() nil after first publish")
	}

	cancel()
	<-done
}

func TestEngine_MailboxHoldsOnlyNewest(t *testing.T) {
	lister := &countingLister{}
	eng := newTestEngine(lister, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()

	// Let several forced cycles pile up without reading the mailbox.
	for i := 0; i < 3; i++ {
		if _, err := eng.ForceRefresh(ctx); err != nil {
			t.Fatalf("ForceRefresh() error = %v", err)
		}
	}

	update := <-eng.Updates()
	if update.Cycle != 4 {
		t.Errorf("mailbox held cycle %d, want newest (4)", update.Cycle)
	}

	cancel()
	<-done
}

func TestEngine_ForceRefreshReturnsFreshCycle(t *testing.T) {
	lister := &countingLister{}
	eng := newTestEngine(lister, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()

	// Drain the startup cycle so the refresh below is attributable.
	<-eng.Updates()

	update, err := eng.ForceRefresh(ctx)
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if update.Cycle != 2 {
		t.Errorf("forced cycle = %d, want 2", update.Cycle)
	}
	if lister.cycles.Load() != 2 {
		t.Errorf("collections = %d, want 2", lister.cycles.Load())
	}

	cancel()
	<-done
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	lister := &countingLister{}
	eng := newTestEngine(lister, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- eng.Run(ctx) }()

	<-eng.Updates()
	cancel()

	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
