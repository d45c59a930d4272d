package resilience

import (
	"path/filepath"
	"testing"

	"github.com/arclabs561/runctl/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	job := NewJob(JobPreWarm, "aws", "vol-1")
	job.ObjectSource = "s3://bucket/data"
	job.BootstrapInstanceID = "i-boot"
	if err := store.Put(job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != JobPreWarm || got.VolumeID != "vol-1" || got.BootstrapInstanceID != "i-boot" {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestStore_GetMissingIsValidation(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Get("nope"); !types.IsValidation(err) {
		t.Errorf("missing job error = %v, want validation", err)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	job := NewJob(JobDetachSnapshot, "aws", "vol-9")
	if err := store.Put(job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.VolumeID != "vol-9" {
		t.Errorf("volume = %s, want vol-9", got.VolumeID)
	}
}

func TestStore_ClaimedResources(t *testing.T) {
	store := openTestStore(t)

	active := NewJob(JobPreWarm, "aws", "vol-active")
	active.BootstrapInstanceID = "i-boot"
	active.Status = StatusRunning

	done := NewJob(JobPreWarm, "aws", "vol-done")
	done.Status = StatusCompleted

	for _, job := range []*Job{active, done} {
		if err := store.Put(job); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	claimed, err := store.ClaimedResources()
	if err != nil {
		t.Fatalf("ClaimedResources() error = %v", err)
	}

	if !claimed[types.ResourceKey{Provider: "aws", ID: "vol-active"}] {
		t.Error("active job volume not claimed")
	}
	if !claimed[types.ResourceKey{Provider: "aws", ID: "i-boot"}] {
		t.Error("active job bootstrap instance not claimed")
	}
	if claimed[types.ResourceKey{Provider: "aws", ID: "vol-done"}] {
		t.Error("completed job volume still claimed")
	}
}

func TestStore_DeleteRefusesActive(t *testing.T) {
	store := openTestStore(t)

	job := NewJob(JobPreWarm, "aws", "vol-1")
	job.Status = StatusRunning
	if err := store.Put(job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.Delete(job.ID); !types.IsStateConflict(err) {
		t.Errorf("deleting active job error = %v, want state conflict", err)
	}

	job.Status = StatusFailed
	if err := store.Put(job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(job.ID); err != nil {
		t.Errorf("deleting terminal job error = %v", err)
	}
	if _, err := store.Get(job.ID); err == nil {
		t.Error("job still present after delete")
	}
}
