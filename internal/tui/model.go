// Package tui is the live dashboard: a terminal view over the engine's
// published snapshots. It never touches providers directly; everything
// it shows came out of the single-slot update mailbox.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/arclabs561/runctl/engine"
	"github.com/arclabs561/runctl/resilience"
)

// pane identifies the focused dashboard section.
type pane int

const (
	paneResources pane = iota
	paneCandidates
	paneJobs
	paneCount
)

func (p pane) title() string {
	switch p {
	case paneResources:
		return "Resources"
	case paneCandidates:
		return "Cleanup Candidates"
	case paneJobs:
		return "Jobs"
	}
	return ""
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	engine *engine.Engine
	jobs   *resilience.Store

	update   *engine.Update
	jobList  []*resilience.Job
	focused  pane
	width    int
	height   int
	spinning bool
	err      error
}

// NewModel creates the dashboard over a running engine. The job store
// may be nil; the jobs pane then stays empty.
func NewModel(eng *engine.Engine, jobs *resilience.Store) Model {
	return Model{
		engine: eng,
		jobs:   jobs,
		update: eng.Latest(),
	}
}

type updateMsg struct{ update *engine.Update }

type jobsMsg struct{ jobs []*resilience.Job }

type refreshErrMsg struct{ err error }

// waitForUpdate blocks on the engine mailbox.
func waitForUpdate(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-eng.Updates()
		if !ok {
			return tea.Quit()
		}
		return updateMsg{update: update}
	}
}

// forceRefresh asks the engine for an immediate cycle.
func forceRefresh(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := eng.ForceRefresh(ctx); err != nil {
			return refreshErrMsg{err: err}
		}
		// The refreshed update arrives through the mailbox.
		return nil
	}
}

func loadJobs(store *resilience.Store) tea.Cmd {
	if store == nil {
		return nil
	}
	return func() tea.Msg {
		jobs, err := store.List()
		if err != nil {
			return refreshErrMsg{err: err}
		}
		return jobsMsg{jobs: jobs}
	}
}

// Init starts listening for engine updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.engine), loadJobs(m.jobs))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case updateMsg:
		m.update = msg.update
		m.spinning = false
		m.err = nil
		return m, tea.Batch(waitForUpdate(m.engine), loadJobs(m.jobs))

	case jobsMsg:
		m.jobList = msg.jobs
		return m, nil

	case refreshErrMsg:
		m.spinning = false
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.focused = (m.focused + 1) % paneCount
			return m, nil
		case "r":
			if m.spinning {
				return m, nil
			}
			m.spinning = true
			return m, forceRefresh(m.engine)
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.update == nil {
		return "\n  collecting first snapshot...\n"
	}

	header := m.renderHeader()
	tabs := m.renderTabs()

	var body string
	switch m.focused {
	case paneResources:
		body = m.renderResources()
	case paneCandidates:
		body = m.renderCandidates()
	case paneJobs:
		body = m.renderJobs()
	}

	footer := footerStyle.Render("tab: switch pane  r: refresh  q: quit")
	if m.err != nil {
		footer = errorStyle.Render(fmt.Sprintf("refresh failed: %v", m.err)) + "\n" + footer
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s\n", header, tabs, body, footer)
}
