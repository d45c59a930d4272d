// Package providers defines the adapter interface every cloud platform
// implements, plus the raw descriptor types that cross the adapter
// boundary. Provider payloads never leave an adapter as untyped maps.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/arclabs561/runctl/types"
)

// RawInstance is a provider-shaped compute instance listing entry.
type RawInstance struct {
	ID              string
	Name            string
	Region          string
	State           string
	InstanceType    string
	PublicIP        string
	AttachedVolumes []string
	Spot            bool
	SpotPrice       float64
	HourlyRate      float64
	Tags            map[string]string
	LaunchedAt      time.Time
}

// RawVolume is a provider-shaped block volume listing entry.
type RawVolume struct {
	ID         string
	Name       string
	Region     string
	State      string
	SizeGB     int32
	VolumeType string
	IOPS       int32
	Throughput int32
	AttachedTo string
	Tags       map[string]string
	CreatedAt  time.Time
}

// RawSnapshot is a provider-shaped snapshot listing entry.
type RawSnapshot struct {
	ID             string
	Name           string
	Region         string
	State          string
	SourceVolumeID string
	SizeGB         int32
	Tags           map[string]string
	CreatedAt      time.Time
}

// Lister enumerates the resources a provider currently reports.
// Each method is fallible with a distinguishable error class:
// *types.ProviderUnavailableError (transient), *types.ProviderDeniedError
// (authorization), or any other error (unclassified).
type Lister interface {
	ListInstances(ctx context.Context) ([]RawInstance, error)
	ListVolumes(ctx context.Context) ([]RawVolume, error)
	ListSnapshots(ctx context.Context) ([]RawSnapshot, error)
}

// VolumeActuator issues the typed volume commands the resilience
// manager needs. All operations are remote and fallible.
type VolumeActuator interface {
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) error
	DetachVolume(ctx context.Context, volumeID, instanceID string, force bool) error
	CreateSnapshot(ctx context.Context, volumeID, description string, tags map[string]string) (snapshotID string, err error)
	DescribeSnapshot(ctx context.Context, snapshotID string) (RawSnapshot, error)
	DescribeVolume(ctx context.Context, volumeID string) (RawVolume, error)
	// VerifyMount confirms the attached volume surfaced as a usable
	// block device on the instance. A failure means the attachment is
	// unusable and the caller should revert it.
	VerifyMount(ctx context.Context, instanceID, device string) error
}

// BootstrapRunner manages the short-lived helper instance used to
// pre-warm volumes from object storage.
type BootstrapRunner interface {
	LaunchBootstrap(ctx context.Context, availabilityZone string, tags map[string]string) (instanceID string, err error)
	InstanceAlive(ctx context.Context, instanceID string) (bool, error)
	RunSync(ctx context.Context, instanceID, objectSource, mountPoint string) error
	TerminateInstance(ctx context.Context, instanceID string) error
	// ObjectSourceExists verifies a pre-warm source (e.g. s3://bucket/prefix)
	// before any instance is launched for it.
	ObjectSourceExists(ctx context.Context, source string) (bool, error)
}

// Deleter issues the destructive commands cleanup execution needs.
// Only ever invoked on candidates from the current reconciliation pass.
type Deleter interface {
	TerminateInstance(ctx context.Context, instanceID string) error
	DeleteVolume(ctx context.Context, volumeID string) error
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// Provider bundles everything runctl consumes from one cloud platform.
type Provider interface {
	Lister
	VolumeActuator
	BootstrapRunner
	Deleter
	Name() string
	Region() string
}

// Config holds provider construction parameters.
type Config struct {
	Region       string
	OwnerTag     string
	BootstrapAMI string
}

// Factory creates a provider instance.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

var factories = make(map[string]Factory)

// Register registers a provider factory by name.
func Register(name string, factory Factory) {
	factories[name] = factory
}

// New creates a provider instance by name.
func New(ctx context.Context, name string, cfg Config) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", name)
	}
	return factory(ctx, cfg)
}

// Names returns registered provider names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// NormalizeInstance converts a raw instance into the canonical model.
func NormalizeInstance(provider string, raw RawInstance, observedAt time.Time) types.Resource {
	tags := types.TagsFromMap(raw.Tags)
	name := raw.Name
	if name == "" {
		name = tags.Name
	}
	return types.Resource{
		Provider:   provider,
		ID:         raw.ID,
		Kind:       types.KindInstance,
		Name:       name,
		Region:     raw.Region,
		RawState:   raw.State,
		Tags:       tags,
		CreatedAt:  raw.LaunchedAt,
		ObservedAt: observedAt,
		Instance: &types.InstanceDetail{
			InstanceType:    raw.InstanceType,
			PublicIP:        raw.PublicIP,
			AttachedVolumes: raw.AttachedVolumes,
			HourlyRate:      raw.HourlyRate,
			Spot:            raw.Spot,
			SpotPrice:       raw.SpotPrice,
		},
	}
}

// NormalizeVolume converts a raw volume into the canonical model.
func NormalizeVolume(provider string, raw RawVolume, observedAt time.Time) types.Resource {
	tags := types.TagsFromMap(raw.Tags)
	name := raw.Name
	if name == "" {
		name = tags.Name
	}
	return types.Resource{
		Provider:   provider,
		ID:         raw.ID,
		Kind:       types.KindVolume,
		Name:       name,
		Region:     raw.Region,
		RawState:   raw.State,
		Tags:       tags,
		CreatedAt:  raw.CreatedAt,
		ObservedAt: observedAt,
		Volume: &types.VolumeDetail{
			SizeGB:     raw.SizeGB,
			VolumeType: raw.VolumeType,
			IOPS:       raw.IOPS,
			Throughput: raw.Throughput,
			AttachedTo: raw.AttachedTo,
			Persistent: tags.RunctlPersistent,
		},
	}
}

// NormalizeSnapshot converts a raw snapshot into the canonical model.
func NormalizeSnapshot(provider string, raw RawSnapshot, observedAt time.Time) types.Resource {
	tags := types.TagsFromMap(raw.Tags)
	name := raw.Name
	if name == "" {
		name = tags.Name
	}
	return types.Resource{
		Provider:   provider,
		ID:         raw.ID,
		Kind:       types.KindSnapshot,
		Name:       name,
		Region:     raw.Region,
		RawState:   raw.State,
		Tags:       tags,
		CreatedAt:  raw.CreatedAt,
		ObservedAt: observedAt,
		Snapshot: &types.SnapshotDetail{
			SourceVolumeID: raw.SourceVolumeID,
			SizeGB:         raw.SizeGB,
		},
	}
}
