// Package reconciler compares observed cloud state against locally
// known intent and produces an advisory cleanup plan. Deletion is a
// separate, explicitly confirmed action and never runs on a plan from
// an earlier reconciliation pass.
package reconciler

import (
	"time"

	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/types"
)

// Reason classifies why a resource is a cleanup candidate.
type Reason string

const (
	// ReasonOrphaned: no recognized ownership tag at all. The resource
	// was not created by runctl, or its creation record was lost.
	ReasonOrphaned Reason = "orphaned"
	// ReasonUntagged: tags exist but none of them is a runctl ownership
	// marker. Same signal strength as orphaned, kept distinct for
	// operator triage.
	ReasonUntagged Reason = "untagged"
	// ReasonStale: owned, billable, past the idle threshold, and not
	// backed by an active project in local intent.
	ReasonStale Reason = "stale"
)

// Action is the recommended cleanup action for a candidate.
type Action string

const (
	ActionTerminate Action = "terminate"
	ActionDelete    Action = "delete"
	ActionReview    Action = "review"
)

// CleanupCandidate is one advisory cleanup recommendation.
// Produced fresh each reconciliation pass; never persisted.
type CleanupCandidate struct {
	Resource          types.Resource       `json:"resource"`
	Reason            Reason               `json:"reason"`
	Age               time.Duration        `json:"age"`
	Cost              lifecycle.CostRecord `json:"cost"`
	CostAtRisk        float64              `json:"cost_at_risk"`
	RecommendedAction Action               `json:"recommended_action"`
}

// Plan is the ordered output of one reconciliation pass.
type Plan struct {
	ID              string             `json:"id"`
	TakenAt         time.Time          `json:"taken_at"`
	SnapshotAt      time.Time          `json:"snapshot_at"`
	Partial         bool               `json:"partial"`
	Degraded        []string           `json:"degraded,omitempty"`
	Candidates      []CleanupCandidate `json:"candidates"`
	TotalCostAtRisk float64            `json:"total_cost_at_risk"`
}

// Policy holds the configurable cleanup classification knobs.
type Policy struct {
	// IdleThreshold is the age past which an owned, billable resource
	// with no active project becomes stale.
	IdleThreshold time.Duration
	// MinAge guards execution, not classification: candidates younger
	// than this are skipped at execute time unless forced.
	MinAge time.Duration
	// PreferStaleOverOrphaned flips the tie-break for resources that
	// qualify as both.
	PreferStaleOverOrphaned bool
}

// DefaultPolicy is a 24h idle window with a 5 minute deletion guard;
// orphaned beats stale.
func DefaultPolicy() Policy {
	return Policy{
		IdleThreshold: 24 * time.Hour,
		MinAge:        5 * time.Minute,
	}
}

// ProjectIntent is one locally known project record.
type ProjectIntent struct {
	Name   string `yaml:"name" json:"name"`
	Owner  string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Active bool   `yaml:"active" json:"active"`
}

// IntentStore maps ownership tag values to project metadata.
// Read-only from the planner's point of view.
type IntentStore interface {
	ActiveProject(name string) (ProjectIntent, bool)
}
