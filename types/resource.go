package types

import "time"

// ResourceKind classifies a tracked cloud resource.
type ResourceKind string

const (
	KindInstance ResourceKind = "instance"
	KindVolume   ResourceKind = "volume"
	KindSnapshot ResourceKind = "snapshot"
)

// kindOrder fixes the sort order used by registry iteration.
var kindOrder = map[ResourceKind]int{
	KindInstance: 0,
	KindVolume:   1,
	KindSnapshot: 2,
}

// Order returns the canonical sort position of the kind.
// Unknown kinds sort last.
func (k ResourceKind) Order() int {
	if o, ok := kindOrder[k]; ok {
		return o
	}
	return len(kindOrder)
}

// ResourceKey uniquely identifies a resource across providers.
type ResourceKey struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

func (k ResourceKey) String() string {
	return k.Provider + "/" + k.ID
}

// Resource is the canonical view of a tracked cloud resource.
// Immutable between collection cycles except for ObservedAt and Tags,
// which are refreshed on every cycle.
type Resource struct {
	Provider   string       `json:"provider"`
	ID         string       `json:"id"`
	Kind       ResourceKind `json:"kind"`
	Name       string       `json:"name,omitempty"`
	Region     string       `json:"region,omitempty"`
	RawState   string       `json:"raw_state"`
	Tags       Tags         `json:"tags"`
	CreatedAt  time.Time    `json:"created_at"`
	ObservedAt time.Time    `json:"observed_at"`

	// CostFrozenAt is stamped by the registry when the resource is first
	// observed in a terminal non-billable state. Cost accrual stops there.
	CostFrozenAt time.Time `json:"cost_frozen_at,omitempty"`

	// Exactly one of these is set, matching Kind.
	Instance *InstanceDetail `json:"instance,omitempty"`
	Volume   *VolumeDetail   `json:"volume,omitempty"`
	Snapshot *SnapshotDetail `json:"snapshot,omitempty"`
}

// InstanceDetail holds compute-instance specifics.
type InstanceDetail struct {
	InstanceType    string   `json:"instance_type"`
	PublicIP        string   `json:"public_ip,omitempty"`
	AttachedVolumes []string `json:"attached_volumes,omitempty"`
	HourlyRate      float64  `json:"hourly_rate"`
	Spot            bool     `json:"spot"`
	// SpotPrice is the observed spot price at collection time.
	// Zero means unavailable; cost falls back to HourlyRate.
	SpotPrice float64 `json:"spot_price,omitempty"`
}

// VolumeDetail holds block-volume specifics.
type VolumeDetail struct {
	SizeGB     int32  `json:"size_gb"`
	VolumeType string `json:"volume_type"`
	IOPS       int32  `json:"iops,omitempty"`
	Throughput int32  `json:"throughput,omitempty"`
	AttachedTo string `json:"attached_to,omitempty"`
	Persistent bool   `json:"persistent"`
}

// SnapshotDetail holds snapshot specifics.
type SnapshotDetail struct {
	SourceVolumeID string `json:"source_volume_id"`
	SizeGB         int32  `json:"size_gb"`
}

// Key returns the unique (provider, id) key for the resource.
func (r *Resource) Key() ResourceKey {
	return ResourceKey{Provider: r.Provider, ID: r.ID}
}

// IsOwned reports whether the resource carries a runctl ownership marker.
func (r *Resource) IsOwned() bool {
	return r.Tags.IsOwned()
}

// IsProtected reports whether the resource must never be deleted.
func (r *Resource) IsProtected() bool {
	if r.Tags.IsProtected() {
		return true
	}
	return r.Kind == KindVolume && r.Volume != nil && r.Volume.Persistent
}

// Age returns how long the resource has existed as of now.
func (r *Resource) Age(now time.Time) time.Duration {
	if r.CreatedAt.IsZero() {
		return 0
	}
	age := now.Sub(r.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// ResourceFilter narrows resource queries.
type ResourceFilter struct {
	Kind     ResourceKind `json:"kind,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Project  string       `json:"project,omitempty"`
	User     string       `json:"user,omitempty"`
	IDs      []string     `json:"ids,omitempty"`
}

// Matches checks if a resource matches the filter criteria.
func (r *Resource) Matches(f ResourceFilter) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.Project != "" && r.Tags.RunctlProject != f.Project {
		return false
	}
	if f.User != "" && r.Tags.RunctlUser != f.User {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if r.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
