// Package collector queries every provider adapter for the current raw
// resource listing. Failures are isolated per provider: one degraded
// provider never blocks a collection cycle.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arclabs561/runctl/providers"
	"github.com/arclabs561/runctl/types"
)

// ProviderStatus records the outcome of collecting one provider.
type ProviderStatus struct {
	Provider string `json:"provider"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// Batch is the result of one collection cycle: normalized resources
// plus per-provider health. Reflects one logical point in time.
type Batch struct {
	Resources   []types.Resource          `json:"resources"`
	Statuses    map[string]ProviderStatus `json:"statuses"`
	CollectedAt time.Time                 `json:"collected_at"`
}

// Degraded returns the names of providers that failed this cycle.
func (b *Batch) Degraded() []string {
	var names []string
	for name, status := range b.Statuses {
		if status.Degraded {
			names = append(names, name)
		}
	}
	return names
}

// Collector runs concurrent per-provider collection with bounded retry.
type Collector struct {
	providers   map[string]providers.Lister
	maxRetries  uint64
	initialWait time.Duration
	logger      zerolog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxRetries bounds per-provider retry attempts before degrading.
func WithMaxRetries(n uint64) Option {
	return func(c *Collector) { c.maxRetries = n }
}

// WithInitialWait sets the first backoff interval.
func WithInitialWait(d time.Duration) Option {
	return func(c *Collector) { c.initialWait = d }
}

// New creates a collector over the given provider listers.
func New(listers map[string]providers.Lister, logger zerolog.Logger, opts ...Option) *Collector {
	c := &Collector{
		providers:   listers,
		maxRetries:  3,
		initialWait: 500 * time.Millisecond,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect queries all providers concurrently and joins the results.
// Per-provider errors become degraded statuses, never batch failures.
// The returned error is only non-nil when ctx is cancelled.
func (c *Collector) Collect(ctx context.Context) (*Batch, error) {
	batch := &Batch{
		Statuses:    make(map[string]ProviderStatus, len(c.providers)),
		CollectedAt: time.Now().UTC(),
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)

	for name, lister := range c.providers {
		group.Go(func() error {
			resources, err := c.collectOne(groupCtx, name, lister, batch.CollectedAt)

			mu.Lock()
			defer mu.Unlock()

			status := ProviderStatus{Provider: name}
			if err != nil {
				status.Degraded = true
				status.Error = err.Error()
				c.logger.Warn().
					Str("provider", name).
					Err(err).
					Msg("provider degraded for this cycle")
			} else {
				batch.Resources = append(batch.Resources, resources...)
			}
			batch.Statuses[name] = status
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return batch, nil
}

// collectOne lists one provider's instances, volumes, and snapshots,
// retrying transient failures with exponential backoff.
func (c *Collector) collectOne(ctx context.Context, name string, lister providers.Lister, observedAt time.Time) ([]types.Resource, error) {
	var resources []types.Resource

	operation := func() error {
		instances, err := lister.ListInstances(ctx)
		if err != nil {
			return retryClass(err)
		}
		volumes, err := lister.ListVolumes(ctx)
		if err != nil {
			return retryClass(err)
		}
		snapshots, err := lister.ListSnapshots(ctx)
		if err != nil {
			return retryClass(err)
		}

		resources = resources[:0]
		for _, raw := range instances {
			resources = append(resources, providers.NormalizeInstance(name, raw, observedAt))
		}
		for _, raw := range volumes {
			resources = append(resources, providers.NormalizeVolume(name, raw, observedAt))
		}
		for _, raw := range snapshots {
			resources = append(resources, providers.NormalizeSnapshot(name, raw, observedAt))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(c.initialWait)),
		c.maxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resources, nil
}

// retryClass decides retryability: only transient provider outages are
// retried; denied access and validation failures degrade immediately.
func retryClass(err error) error {
	if types.IsProviderUnavailable(err) {
		return err
	}
	return backoff.Permanent(err)
}
