package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/types"
)

// fakeLister serves canned listings, optionally failing the first N
// calls to ListInstances.
type fakeLister struct {
	instances []providers.RawInstance
	volumes   []providers.RawVolume
	snapshots []providers.RawSnapshot

	failuresLeft int
	failWith     error
	calls        int
}

func (f *fakeLister) ListInstances(context.Context) ([]providers.RawInstance, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, f.failWith
	}
	return f.instances, nil
}

func (f *fakeLister) ListVolumes(context.Context) ([]providers.RawVolume, error) {
	return f.volumes, nil
}

func (f *fakeLister) ListSnapshots(context.Context) ([]providers.RawSnapshot, error) {
	return f.snapshots, nil
}

func TestCollect_NormalizesAllKinds(t *testing.T) {
	now := time.Now().UTC()
	lister := &fakeLister{
		instances: []providers.RawInstance{{ID: "i-1", State: "running", LaunchedAt: now.Add(-time.Hour),
			Tags: map[string]string{"runctl:owner": "trainctl"}}},
		volumes:   []providers.RawVolume{{ID: "vol-1", State: "available", CreatedAt: now.Add(-time.Hour)}},
		snapshots: []providers.RawSnapshot{{ID: "snap-1", State: "completed", CreatedAt: now.Add(-time.Hour)}},
	}

	c := New(map[string]providers.Lister{"aws": lister}, zerolog.Nop())
	batch, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(batch.Resources) != 3 {
		t.Fatalf("got %d resources, want 3", len(batch.Resources))
	}
	byID := make(map[string]types.Resource)
	for _, r := range batch.Resources {
		byID[r.ID] = r
	}
	instance := byID["i-1"]
	if instance.Kind != types.KindInstance || !instance.IsOwned() {
		t.Errorf("i-1 = %+v, want owned instance", instance)
	}
	if byID["vol-1"].Kind != types.KindVolume {
		t.Errorf("vol-1 kind = %s, want volume", byID["vol-1"].Kind)
	}
	if byID["snap-1"].Kind != types.KindSnapshot {
		t.Errorf("snap-1 kind = %s, want snapshot", byID["snap-1"].Kind)
	}
	if len(batch.Degraded()) != 0 {
		t.Errorf("degraded = %v, want none", batch.Degraded())
	}
}

func TestCollect_TransientFailureIsRetried(t *testing.T) {
	lister := &fakeLister{
		instances:    []providers.RawInstance{{ID: "i-1", State: "running"}},
		failuresLeft: 2,
		failWith:     &types.ProviderUnavailableError{Provider: "aws", Err: errors.New("throttled")},
	}

	c := New(map[string]providers.Lister{"aws": lister}, zerolog.Nop(),
		WithInitialWait(time.Millisecond))
	batch, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(batch.Degraded()) != 0 {
		t.Fatalf("provider degraded despite retries succeeding: %v", batch.Statuses)
	}
	if lister.calls != 3 {
		t.Errorf("calls = %d, want 3 (two failures, one success)", lister.calls)
	}
}

func TestCollect_DeniedIsNotRetried(t *testing.T) {
	lister := &fakeLister{
		failuresLeft: 100,
		failWith:     &types.ProviderDeniedError{Provider: "aws", Err: errors.New("no access")},
	}

	c := New(map[string]providers.Lister{"aws": lister}, zerolog.Nop(),
		WithInitialWait(time.Millisecond))
	batch, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if lister.calls != 1 {
		t.Errorf("calls = %d, want 1 (denied is permanent)", lister.calls)
	}
	degraded := batch.Degraded()
	if len(degraded) != 1 || degraded[0] != "aws" {
		t.Errorf("degraded = %v, want [aws]", degraded)
	}
}

func TestCollect_OneDegradedProviderDoesNotBlockOthers(t *testing.T) {
	healthy := &fakeLister{
		instances: []providers.RawInstance{{ID: "i-1", State: "running"}},
	}
	broken := &fakeLister{
		failuresLeft: 100,
		failWith:     &types.ProviderUnavailableError{Provider: "runpod", Err: errors.New("down")},
	}

	c := New(map[string]providers.Lister{"aws": healthy, "runpod": broken}, zerolog.Nop(),
		WithMaxRetries(1), WithInitialWait(time.Millisecond))
	batch, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(batch.Resources) != 1 || batch.Resources[0].ID != "i-1" {
		t.Errorf("resources = %+v, want healthy provider's instance", batch.Resources)
	}
	degraded := batch.Degraded()
	if len(degraded) != 1 || degraded[0] != "runpod" {
		t.Errorf("degraded = %v, want [runpod]", degraded)
	}
	if !batch.Statuses["runpod"].Degraded || batch.Statuses["runpod"].Error == "" {
		t.Errorf("runpod status = %+v, want degraded with error", batch.Statuses["runpod"])
	}
}
