package lifecycle

import (
	"testing"
	"time"

	"github.com/arclabs561/runctl/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		kind types.ResourceKind
		raw  string
		want State
	}{
		{types.KindInstance, "running", StateRunning},
		{types.KindInstance, "RUNNING", StateRunning},
		{types.KindInstance, " shutting-down ", StateStopping},
		{types.KindInstance, "exited", StateStopped},
		{types.KindInstance, "what-is-this", StateUnknown},
		{types.KindVolume, "in-use", StateInUse},
		{types.KindVolume, "deleted", StateDeleted},
		{types.KindSnapshot, "pending", StateSnapshotPending},
		{types.KindSnapshot, "completed", StateCompleted},
		{types.KindSnapshot, "error", StateError},
		{types.ResourceKind("bucket"), "running", StateUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.raw, func(t *testing.T) {
			if got := Normalize(tt.kind, tt.raw); got != tt.want {
				t.Errorf("Normalize(%s, %q) = %s, want %s", tt.kind, tt.raw, got, tt.want)
			}
		})
	}
}

func TestBillable(t *testing.T) {
	tests := []struct {
		kind  types.ResourceKind
		state State
		want  bool
	}{
		{types.KindInstance, StateRunning, true},
		{types.KindInstance, StatePending, true},
		{types.KindInstance, StateStopped, false},
		{types.KindInstance, StateTerminated, false},
		{types.KindVolume, StateAvailable, true},
		{types.KindVolume, StateInUse, true},
		{types.KindVolume, StateDeleted, false},
		{types.KindSnapshot, StateSnapshotPending, true},
		{types.KindSnapshot, StateCompleted, true},
		{types.KindSnapshot, StateError, false},
		{types.KindInstance, StateUnknown, false},
	}

	for _, tt := range tests {
		if got := Billable(tt.kind, tt.state); got != tt.want {
			t.Errorf("Billable(%s, %s) = %v, want %v", tt.kind, tt.state, got, tt.want)
		}
	}
}

func TestHourlyRate_SpotFallbackIsEstimate(t *testing.T) {
	spotNoPrice := &types.Resource{
		Kind:     types.KindInstance,
		Instance: &types.InstanceDetail{InstanceType: "g5.xlarge", Spot: true},
	}
	rate, exact := HourlyRate(spotNoPrice)
	if exact {
		t.Error("spot instance without observed price must be an estimate")
	}
	if rate != 1.006 {
		t.Errorf("rate = %v, want on-demand fallback 1.006", rate)
	}

	spotPriced := &types.Resource{
		Kind:     types.KindInstance,
		Instance: &types.InstanceDetail{InstanceType: "g5.xlarge", Spot: true, SpotPrice: 0.42},
	}
	rate, exact = HourlyRate(spotPriced)
	if !exact {
		t.Error("spot instance with observed price is exact")
	}
	if rate != 0.42 {
		t.Errorf("rate = %v, want spot price 0.42", rate)
	}
}

func TestHourlyRate_VolumePerGB(t *testing.T) {
	vol := &types.Resource{
		Kind:   types.KindVolume,
		Volume: &types.VolumeDetail{SizeGB: 730, VolumeType: "gp3"},
	}
	rate, exact := HourlyRate(vol)
	if !exact {
		t.Error("known volume type should be exact")
	}
	// 730 GB * $0.08/GB-month / 730 h/month = $0.08/h
	if rate < 0.0799 || rate > 0.0801 {
		t.Errorf("rate = %v, want ~0.08", rate)
	}
}

func TestCompute_TerminatedCostDoesNotGrow(t *testing.T) {
	created := time.Now().UTC().Add(-10 * time.Hour)
	frozen := created.Add(4 * time.Hour)
	r := &types.Resource{
		ID:           "i-1",
		Kind:         types.KindInstance,
		RawState:     "terminated",
		CreatedAt:    created,
		CostFrozenAt: frozen,
		Instance:     &types.InstanceDetail{InstanceType: "m5.large"},
	}

	first := Compute(r, time.Now().UTC())
	second := Compute(r, time.Now().UTC().Add(2*time.Hour))

	if second.AccumulatedCost > first.AccumulatedCost {
		t.Errorf("terminated cost grew between cycles: %v -> %v",
			first.AccumulatedCost, second.AccumulatedCost)
	}
	wantHours := 4.0
	if first.ElapsedHours < wantHours-0.01 || first.ElapsedHours > wantHours+0.01 {
		t.Errorf("elapsed = %v, want %v (frozen)", first.ElapsedHours, wantHours)
	}
}

func TestCompute_RunningCostAccrues(t *testing.T) {
	created := time.Now().UTC().Add(-2 * time.Hour)
	r := &types.Resource{
		ID:        "i-1",
		Kind:      types.KindInstance,
		RawState:  "running",
		CreatedAt: created,
		Instance:  &types.InstanceDetail{InstanceType: "m5.large"},
	}

	now := time.Now().UTC()
	first := Compute(r, now)
	second := Compute(r, now.Add(time.Hour))

	if second.AccumulatedCost <= first.AccumulatedCost {
		t.Error("running instance cost should accrue between cycles")
	}
}
