package lifecycle

import (
	"time"

	"github.com/arclabs561/runctl/types"
)

// CostRecord is the derived cost estimate for one resource at one
// observation. Recomputed every cycle, never stored.
type CostRecord struct {
	ResourceID      string  `json:"resource_id"`
	HourlyRate      float64 `json:"hourly_rate"`
	ElapsedHours    float64 `json:"elapsed_hours"`
	AccumulatedCost float64 `json:"accumulated_cost"`
	// Estimated marks records computed from a fallback rate,
	// e.g. on-demand rate for a spot instance with no observed spot price.
	Estimated bool `json:"estimated"`
}

// Published on-demand rates, best effort. Unknown instance types fall
// back to defaultInstanceRate and mark the record as an estimate.
var instanceHourlyRates = map[string]float64{
	"t3.micro":     0.0104,
	"t3.small":     0.0208,
	"t3.medium":    0.0416,
	"t3.large":     0.0832,
	"m5.large":     0.096,
	"m5.xlarge":    0.192,
	"m5.2xlarge":   0.384,
	"c5.xlarge":    0.17,
	"c5.2xlarge":   0.34,
	"g4dn.xlarge":  0.526,
	"g4dn.2xlarge": 0.752,
	"g5.xlarge":    1.006,
	"g5.2xlarge":   1.212,
	"p3.2xlarge":   3.06,
	"p3.8xlarge":   12.24,
	"p4d.24xlarge": 32.77,
}

const defaultInstanceRate = 0.10

// Per-GB-month volume rates by type, converted to hourly below.
var volumeMonthlyRates = map[string]float64{
	"gp3":      0.08,
	"gp2":      0.10,
	"io1":      0.125,
	"io2":      0.125,
	"st1":      0.045,
	"sc1":      0.015,
	"standard": 0.05,
}

const (
	defaultVolumeMonthlyRate = 0.08
	snapshotMonthlyRatePerGB = 0.05
	hoursPerMonth            = 730.0
)

// HourlyRate returns the best-effort hourly rate for a resource.
// The second return is false when a fallback rate was used.
func HourlyRate(r *types.Resource) (float64, bool) {
	switch r.Kind {
	case types.KindInstance:
		if r.Instance == nil {
			return 0, false
		}
		if r.Instance.HourlyRate > 0 {
			return r.Instance.HourlyRate, true
		}
		if r.Instance.Spot && r.Instance.SpotPrice > 0 {
			return r.Instance.SpotPrice, true
		}
		rate, ok := instanceHourlyRates[r.Instance.InstanceType]
		if !ok {
			return defaultInstanceRate, false
		}
		// Spot instance with no observed spot price: on-demand
		// fallback is an estimate by definition.
		if r.Instance.Spot {
			return rate, false
		}
		return rate, true
	case types.KindVolume:
		if r.Volume == nil {
			return 0, false
		}
		monthly, ok := volumeMonthlyRates[r.Volume.VolumeType]
		if !ok {
			monthly = defaultVolumeMonthlyRate
		}
		return float64(r.Volume.SizeGB) * monthly / hoursPerMonth, ok
	case types.KindSnapshot:
		if r.Snapshot == nil {
			return 0, false
		}
		return float64(r.Snapshot.SizeGB) * snapshotMonthlyRatePerGB / hoursPerMonth, true
	}
	return 0, false
}

// Compute derives the cost record for a resource as of now.
// Accrual stops at CostFrozenAt once the registry stamps a terminal
// non-billable observation, so terminal resources never grow cost
// between cycles.
func Compute(r *types.Resource, now time.Time) CostRecord {
	rate, exact := HourlyRate(r)

	end := now
	if !r.CostFrozenAt.IsZero() && r.CostFrozenAt.Before(end) {
		end = r.CostFrozenAt
	}

	elapsed := 0.0
	if !r.CreatedAt.IsZero() && end.After(r.CreatedAt) {
		elapsed = end.Sub(r.CreatedAt).Hours()
	}

	return CostRecord{
		ResourceID:      r.ID,
		HourlyRate:      rate,
		ElapsedHours:    elapsed,
		AccumulatedCost: rate * elapsed,
		Estimated:       !exact,
	}
}
