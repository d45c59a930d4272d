package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arclabs561/runctl/internal/cliout"
	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/registry"
	"github.com/arclabs561/runctl/types"
)

var (
	resourcesKind     string
	resourcesProvider string
	resourcesProject  string
	resourcesUser     string
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List tracked resources with lifecycle state and cost",
	Example: `  runctl resources                      # Everything, every provider
  runctl resources --kind volume        # Volumes only
  runctl resources --project llm-train  # One project's resources
  runctl resources summary              # Per-provider totals
  runctl resources --json               # Machine-readable`,
	RunE: runResources,
}

var resourcesSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Per-provider totals by kind with accumulated cost",
	RunE:  runResourcesSummary,
}

func init() {
	rootCmd.AddCommand(resourcesCmd)
	resourcesCmd.AddCommand(resourcesSummaryCmd)

	resourcesCmd.Flags().StringVar(&resourcesKind, "kind", "", "Filter by kind (instance, volume, snapshot)")
	resourcesCmd.Flags().StringVar(&resourcesProvider, "provider", "", "Filter by provider")
	resourcesCmd.Flags().StringVar(&resourcesProject, "project", "", "Filter by project tag")
	resourcesCmd.Flags().StringVar(&resourcesUser, "user", "", "Filter by user tag")
}

// resourceRow is one listed resource with its derived fields.
type resourceRow struct {
	types.Resource
	State lifecycle.State      `json:"state"`
	Cost  lifecycle.CostRecord `json:"cost"`
	Stale bool                 `json:"stale,omitempty"`
}

// resourceList is the list payload.
type resourceList struct {
	Resources []resourceRow `json:"resources"`
	Degraded  []string      `json:"degraded,omitempty"`
	TotalCost float64       `json:"total_accumulated_cost"`
}

func (l *resourceList) Headers() []string {
	return []string{"KIND", "ID", "NAME", "STATE", "OWNER", "PROJECT", "AGE", "COST"}
}

func (l *resourceList) Rows() [][]string {
	now := time.Now().UTC()
	rows := make([][]string, 0, len(l.Resources))
	for _, r := range l.Resources {
		id := r.ID
		if r.Stale {
			id += " (stale)"
		}
		rows = append(rows, []string{
			string(r.Kind),
			id,
			r.Name,
			string(r.State),
			r.Tags.Owner(),
			r.Tags.RunctlProject,
			formatDuration(r.Age(now)),
			fmt.Sprintf("$%.2f", r.Cost.AccumulatedCost),
		})
	}
	return rows
}

func runResources(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	snapshot, err := rt.collectOnce(ctx)
	if err != nil {
		return err
	}

	emit(buildResourceList(snapshot, types.ResourceFilter{
		Kind:     types.ResourceKind(resourcesKind),
		Provider: resourcesProvider,
		Project:  resourcesProject,
		User:     resourcesUser,
	}))
	return nil
}

func buildResourceList(snapshot *registry.Snapshot, filter types.ResourceFilter) *cliout.Result {
	now := time.Now().UTC()
	list := &resourceList{Degraded: snapshot.Degraded}

	for resource := range snapshot.All() {
		if !resource.Matches(filter) {
			continue
		}
		cost := lifecycle.Compute(&resource, now)
		list.Resources = append(list.Resources, resourceRow{
			Resource: resource,
			State:    lifecycle.Normalize(resource.Kind, resource.RawState),
			Cost:     cost,
			Stale:    snapshot.IsStale(resource.Provider, resource.ID),
		})
		list.TotalCost += cost.AccumulatedCost
	}

	message := fmt.Sprintf("%d resources, $%.2f accumulated", len(list.Resources), list.TotalCost)
	if snapshot.Partial() {
		message += fmt.Sprintf(" (PARTIAL: %s degraded)", strings.Join(snapshot.Degraded, ", "))
		return cliout.Partial(list, message)
	}
	return cliout.OK(list, message)
}

// summaryLine is one provider+kind aggregate.
type summaryLine struct {
	Provider string             `json:"provider"`
	Kind     types.ResourceKind `json:"kind"`
	Count    int                `json:"count"`
	Billable int                `json:"billable"`
	Cost     float64            `json:"accumulated_cost"`
}

// resourceSummary is the summary payload.
type resourceSummary struct {
	Lines     []summaryLine `json:"summary"`
	Degraded  []string      `json:"degraded,omitempty"`
	Total     int           `json:"total_resources"`
	TotalCost float64       `json:"total_accumulated_cost"`
}

func (s *resourceSummary) Headers() []string {
	return []string{"PROVIDER", "KIND", "COUNT", "BILLABLE", "COST"}
}

func (s *resourceSummary) Rows() [][]string {
	rows := make([][]string, 0, len(s.Lines)+1)
	for _, line := range s.Lines {
		rows = append(rows, []string{
			line.Provider,
			string(line.Kind),
			fmt.Sprintf("%d", line.Count),
			fmt.Sprintf("%d", line.Billable),
			fmt.Sprintf("$%.2f", line.Cost),
		})
	}
	rows = append(rows, []string{
		"TOTAL", "", fmt.Sprintf("%d", s.Total), "", fmt.Sprintf("$%.2f", s.TotalCost),
	})
	return rows
}

func runResourcesSummary(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	snapshot, err := rt.collectOnce(ctx)
	if err != nil {
		return err
	}

	emit(buildResourceSummary(snapshot))
	return nil
}

func buildResourceSummary(snapshot *registry.Snapshot) *cliout.Result {
	now := time.Now().UTC()
	summary := &resourceSummary{Degraded: snapshot.Degraded}

	buckets := make(map[string]*summaryLine)
	for resource := range snapshot.All() {
		key := resource.Provider + "/" + string(resource.Kind)
		line, ok := buckets[key]
		if !ok {
			line = &summaryLine{Provider: resource.Provider, Kind: resource.Kind}
			buckets[key] = line
		}
		line.Count++
		if lifecycle.Billable(resource.Kind, lifecycle.Normalize(resource.Kind, resource.RawState)) {
			line.Billable++
		}
		cost := lifecycle.Compute(&resource, now)
		line.Cost += cost.AccumulatedCost
		summary.Total++
		summary.TotalCost += cost.AccumulatedCost
	}

	for _, line := range buckets {
		summary.Lines = append(summary.Lines, *line)
	}
	sort.Slice(summary.Lines, func(i, j int) bool {
		if summary.Lines[i].Provider != summary.Lines[j].Provider {
			return summary.Lines[i].Provider < summary.Lines[j].Provider
		}
		return summary.Lines[i].Kind < summary.Lines[j].Kind
	})

	message := fmt.Sprintf("%d resources, $%.2f accumulated", summary.Total, summary.TotalCost)
	if snapshot.Partial() {
		message += fmt.Sprintf(" (PARTIAL: %s degraded)", strings.Join(snapshot.Degraded, ", "))
		return cliout.Partial(summary, message)
	}
	return cliout.OK(summary, message)
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	case d >= time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}
