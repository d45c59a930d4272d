// Package lifecycle normalizes raw provider state strings into a closed
// set of lifecycle buckets and derives per-resource cost estimates.
package lifecycle

import (
	"strings"

	"github.com/arclabs561/runctl/types"
)

// State is a normalized lifecycle bucket.
type State string

const (
	// Instance states
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"

	// Volume states
	StateCreating  State = "creating"
	StateAvailable State = "available"
	StateInUse     State = "in-use"
	StateDeleting  State = "deleting"
	StateDeleted   State = "deleted"

	// Snapshot states
	StateSnapshotPending State = "snapshot-pending"
	StateCompleted       State = "completed"
	StateError           State = "error"

	// StateUnknown is the terminal-safe fallback for any unmapped
	// provider string. Never billable, never a cleanup trigger on its own.
	StateUnknown State = "unknown"
)

var instanceStates = map[string]State{
	"pending":       StatePending,
	"running":       StateRunning,
	"shutting-down": StateStopping,
	"stopping":      StateStopping,
	"stopped":       StateStopped,
	"terminated":    StateTerminated,
	// RunPod-style vocabulary
	"starting":    StatePending,
	"exited":      StateStopped,
	"terminating": StateStopping,
}

var volumeStates = map[string]State{
	"creating":  StateCreating,
	"available": StateAvailable,
	"in-use":    StateInUse,
	"deleting":  StateDeleting,
	"deleted":   StateDeleted,
}

var snapshotStates = map[string]State{
	"pending":   StateSnapshotPending,
	"completed": StateCompleted,
	"error":     StateError,
}

// Normalize maps a raw provider state string to a normalized bucket.
// Total: any unmapped string yields StateUnknown, never an error.
func Normalize(kind types.ResourceKind, raw string) State {
	raw = strings.ToLower(strings.TrimSpace(raw))

	var table map[string]State
	switch kind {
	case types.KindInstance:
		table = instanceStates
	case types.KindVolume:
		table = volumeStates
	case types.KindSnapshot:
		table = snapshotStates
	default:
		return StateUnknown
	}

	if s, ok := table[raw]; ok {
		return s
	}
	return StateUnknown
}

// Billable reports whether a resource accrues cost in this state.
// Stopped instances do not bill compute; volumes bill while they exist;
// snapshots bill storage once requested.
func Billable(kind types.ResourceKind, s State) bool {
	switch kind {
	case types.KindInstance:
		return s == StatePending || s == StateRunning || s == StateStopping
	case types.KindVolume:
		return s == StateCreating || s == StateAvailable || s == StateInUse
	case types.KindSnapshot:
		return s == StateSnapshotPending || s == StateCompleted
	}
	return false
}

// Terminal reports whether the state ends the resource's billable life.
func Terminal(s State) bool {
	switch s {
	case StateTerminated, StateDeleted, StateError:
		return true
	}
	return false
}
