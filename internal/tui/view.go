package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/arclabs561/runctl/lifecycle"
	"github.com/arclabs561/runctl/resilience"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Underline(true)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))

	headerRowStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("246"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	costStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("160"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func (m Model) renderHeader() string {
	header := titleStyle.Render("runctl") + fmt.Sprintf("  cycle %d  %d resources  %s",
		m.update.Cycle,
		m.update.Snapshot.Len(),
		m.update.Snapshot.TakenAt.Local().Format("15:04:05"))

	if m.spinning {
		header += "  refreshing..."
	}

	if m.update.Snapshot.Partial() {
		banner := bannerStyle.Render(fmt.Sprintf("PARTIAL VIEW / degraded: %s",
			strings.Join(m.update.Snapshot.Degraded, ", ")))
		header += "\n" + banner
	}
	return header
}

func (m Model) renderTabs() string {
	var tabs []string
	for p := paneResources; p < paneCount; p++ {
		label := p.title()
		switch p {
		case paneCandidates:
			label = fmt.Sprintf("%s (%d)", label, len(m.update.Plan.Candidates))
		case paneJobs:
			label = fmt.Sprintf("%s (%d)", label, len(m.jobList))
		}
		if p == m.focused {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(label))
		}
	}
	return strings.Join(tabs, "  |  ")
}

func (m Model) renderResources() string {
	var b strings.Builder
	b.WriteString(headerRowStyle.Render(fmt.Sprintf("%-10s %-24s %-9s %-12s %-20s %10s",
		"KIND", "ID", "STATE", "OWNER", "NAME", "COST/H")))
	b.WriteByte('\n')

	count := 0
	for resource := range m.update.Snapshot.All() {
		if count >= m.maxRows() {
			b.WriteString(staleStyle.Render(fmt.Sprintf("  ... %d more", m.update.Snapshot.Len()-count)))
			b.WriteByte('\n')
			break
		}
		count++

		rate, _ := lifecycle.HourlyRate(&resource)
		line := fmt.Sprintf("%-10s %-24s %-9s %-12s %-20s %10s",
			resource.Kind,
			truncate(resource.ID, 24),
			lifecycle.Normalize(resource.Kind, resource.RawState),
			truncate(resource.Tags.Owner(), 12),
			truncate(resource.Name, 20),
			costStyle.Render(fmt.Sprintf("$%.4f", rate)))
		if m.update.Snapshot.IsStale(resource.Provider, resource.ID) {
			line = staleStyle.Render(line + "  (stale)")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if count == 0 {
		b.WriteString("  no resources observed\n")
	}
	return b.String()
}

func (m Model) renderCandidates() string {
	var b strings.Builder
	b.WriteString(headerRowStyle.Render(fmt.Sprintf("%-10s %-24s %-10s %-10s %12s %-10s",
		"KIND", "ID", "REASON", "AGE", "AT RISK", "ACTION")))
	b.WriteByte('\n')

	for i, candidate := range m.update.Plan.Candidates {
		if i >= m.maxRows() {
			b.WriteString(staleStyle.Render(fmt.Sprintf("  ... %d more", len(m.update.Plan.Candidates)-i)))
			b.WriteByte('\n')
			break
		}
		b.WriteString(fmt.Sprintf("%-10s %-24s %-10s %-10s %12s %-10s",
			candidate.Resource.Kind,
			truncate(candidate.Resource.ID, 24),
			candidate.Reason,
			formatAge(candidate.Age),
			costStyle.Render(fmt.Sprintf("$%.2f", candidate.CostAtRisk)),
			candidate.RecommendedAction))
		b.WriteByte('\n')
	}
	if len(m.update.Plan.Candidates) == 0 {
		b.WriteString("  nothing to clean up\n")
	} else {
		b.WriteString(costStyle.Render(fmt.Sprintf("  total at risk: $%.2f", m.update.Plan.TotalCostAtRisk)))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) renderJobs() string {
	var b strings.Builder
	b.WriteString(headerRowStyle.Render(fmt.Sprintf("%-36s %-18s %-10s %-22s %-20s",
		"JOB", "KIND", "STATUS", "STEP", "VOLUME")))
	b.WriteByte('\n')

	for i, job := range m.jobList {
		if i >= m.maxRows() {
			b.WriteString(staleStyle.Render(fmt.Sprintf("  ... %d more", len(m.jobList)-i)))
			b.WriteByte('\n')
			break
		}
		line := fmt.Sprintf("%-36s %-18s %-10s %-22s %-20s",
			job.ID, job.Kind, job.Status, job.Step, truncate(job.VolumeID, 20))
		if job.Status == resilience.StatusFailed {
			line = errorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if len(m.jobList) == 0 {
		b.WriteString("  no jobs\n")
	}
	return b.String()
}

func (m Model) maxRows() int {
	if m.height <= 8 {
		return 20
	}
	return m.height - 8
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func formatAge(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	case d >= time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}
