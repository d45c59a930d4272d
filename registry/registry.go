// Package registry holds the canonical in-process view of every tracked
// resource for one orchestration cycle, keyed by (provider, resource id).
// One coordinator goroutine writes; everyone else reads immutable
// published snapshots.
package registry

import (
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/types"
)

// entry is the mutable per-resource record inside the registry.
type entry struct {
	resource types.Resource
	// stale marks an entry absent from the most recent ingest.
	// Tolerated for exactly one cycle, then dropped.
	stale bool
}

func entryLess(a, b *entry) bool {
	ra, rb := &a.resource, &b.resource
	if ra.Kind != rb.Kind {
		return ra.Kind.Order() < rb.Kind.Order()
	}
	if !ra.CreatedAt.Equal(rb.CreatedAt) {
		return ra.CreatedAt.Before(rb.CreatedAt)
	}
	if ra.Provider != rb.Provider {
		return ra.Provider < rb.Provider
	}
	return ra.ID < rb.ID
}

// Registry is the single source of truth for one cycle's resources.
type Registry struct {
	mu      sync.Mutex
	index   *btree.BTreeG[*entry]
	byKey   map[types.ResourceKey]*entry
	current atomic.Pointer[Snapshot]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{
		index: btree.NewG(32, entryLess),
		byKey: make(map[types.ResourceKey]*entry),
	}
	r.current.Store(emptySnapshot())
	return r
}

// Ingest merges a batch of resources into the registry and publishes a
// fresh snapshot. Keys present in the batch replace prior data. Keys
// absent from the batch are kept flagged stale for one additional cycle
// (a single missed poll is tolerated), then dropped. Providers named in
// degraded are skipped by the absence accounting: their silence is an
// outage, not a disappearance.
//
// Concurrent ingests are serialized; readers never observe a partial
// merge because the snapshot is swapped in atomically at the end.
func (r *Registry) Ingest(resources []types.Resource, degraded []string) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[types.ResourceKey]bool, len(resources))
	degradedSet := make(map[string]bool, len(degraded))
	for _, name := range degraded {
		degradedSet[name] = true
	}

	for _, resource := range resources {
		key := resource.Key()
		seen[key] = true
		r.upsert(key, resource)
	}

	r.expireMissing(seen, degradedSet)

	snapshot := r.buildSnapshot(degraded)
	r.current.Store(snapshot)
	return snapshot
}

func (r *Registry) upsert(key types.ResourceKey, resource types.Resource) {
	prior, exists := r.byKey[key]

	// Cost freezing: stamp the first observation in a terminal
	// non-billable state, and keep the stamp on later observations.
	state := lifecycle.Normalize(resource.Kind, resource.RawState)
	if exists && !prior.resource.CostFrozenAt.IsZero() {
		resource.CostFrozenAt = prior.resource.CostFrozenAt
	} else if lifecycle.Terminal(state) && resource.CostFrozenAt.IsZero() {
		resource.CostFrozenAt = resource.ObservedAt
	}

	if exists {
		r.index.Delete(prior)
	}
	fresh := &entry{resource: resource}
	r.byKey[key] = fresh
	r.index.ReplaceOrInsert(fresh)
}

func (r *Registry) expireMissing(seen map[types.ResourceKey]bool, degraded map[string]bool) {
	var drop []*entry
	for key, ent := range r.byKey {
		if seen[key] || degraded[key.Provider] {
			continue
		}
		if ent.stale {
			// Second consecutive miss: gone for real.
			drop = append(drop, ent)
			continue
		}
		ent.stale = true
	}
	for _, ent := range drop {
		r.index.Delete(ent)
		delete(r.byKey, ent.resource.Key())
	}

	// A key seen again sheds its staleness.
	for key := range seen {
		if ent, ok := r.byKey[key]; ok {
			ent.stale = false
		}
	}
}

func (r *Registry) buildSnapshot(degraded []string) *Snapshot {
	snapshot := &Snapshot{
		byKey:    make(map[types.ResourceKey]int, len(r.byKey)),
		stale:    make(map[types.ResourceKey]bool),
		Degraded: append([]string(nil), degraded...),
		TakenAt:  time.Now().UTC(),
	}

	instanceIDs := make(map[string]bool)
	r.index.Ascend(func(ent *entry) bool {
		if ent.resource.Kind == types.KindInstance {
			instanceIDs[ent.resource.ID] = true
		}
		return true
	})

	r.index.Ascend(func(ent *entry) bool {
		resource := ent.resource

		// Invariant: a volume's attachment must resolve within this
		// snapshot; dangling references are cleared.
		if resource.Kind == types.KindVolume && resource.Volume != nil &&
			resource.Volume.AttachedTo != "" && !instanceIDs[resource.Volume.AttachedTo] {
			detail := *resource.Volume
			detail.AttachedTo = ""
			resource.Volume = &detail
		}

		snapshot.byKey[resource.Key()] = len(snapshot.resources)
		snapshot.resources = append(snapshot.resources, resource)
		if ent.stale {
			snapshot.stale[resource.Key()] = true
		}
		return true
	})

	return snapshot
}

// Current returns the most recently published snapshot. Never nil.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Snapshot is an immutable point-in-time view of the registry.
type Snapshot struct {
	resources []types.Resource
	byKey     map[types.ResourceKey]int
	stale     map[types.ResourceKey]bool

	// Degraded lists providers whose data is missing from this snapshot.
	Degraded []string
	TakenAt  time.Time
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		byKey:   make(map[types.ResourceKey]int),
		stale:   make(map[types.ResourceKey]bool),
		TakenAt: time.Now().UTC(),
	}
}

// All iterates resources ordered by kind then creation time.
// The sequence is restartable: each call walks from the start.
func (s *Snapshot) All() iter.Seq[types.Resource] {
	return func(yield func(types.Resource) bool) {
		for _, resource := range s.resources {
			if !yield(resource) {
				return
			}
		}
	}
}

// Lookup finds a resource by key.
func (s *Snapshot) Lookup(provider, id string) (types.Resource, bool) {
	idx, ok := s.byKey[types.ResourceKey{Provider: provider, ID: id}]
	if !ok {
		return types.Resource{}, false
	}
	return s.resources[idx], true
}

// IsStale reports whether the resource was absent from the last ingest
// and is being carried for one extra cycle.
func (s *Snapshot) IsStale(provider, id string) bool {
	return s.stale[types.ResourceKey{Provider: provider, ID: id}]
}

// Len returns the number of resources in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.resources)
}

// Partial reports whether any provider was degraded when this snapshot
// was taken.
func (s *Snapshot) Partial() bool {
	return len(s.Degraded) > 0
}
