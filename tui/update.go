package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, loadRunsCmd(m.loader)
		case "j", "down":
			if m.activeTab == TabRuns && m.selectedRow < len(m.runs)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(tickCmd(), loadRunsCmd(m.loader))

	case RunsLoadedMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.runs = msg.Runs
			m.lastRefresh = m.now()
			if m.selectedRow >= len(m.runs) {
				m.selectedRow = max(len(m.runs)-1, 0)
			}
		}

	case EventMsg:
		m.apply(domain.Event(msg))
		cmd := waitForEvent(m.events)
		if msg.Type == domain.EventRunFinished {
			return m, tea.Batch(cmd, loadRunsCmd(m.loader))
		}
		return m, cmd

	case DisconnectedMsg:
		m.connected = false
	}

	return m, nil
}

// apply folds one event into the live view
func (m *Model) apply(ev domain.Event) {
	l := &m.live
	if ev.RunID != "" && ev.RunID != l.RunID && ev.Type != domain.EventReportChanged {
		if ev.Type != domain.EventRunStarted && l.RunID != "" {
			// Stale event from a run we are no longer showing.
			return
		}
		l.reset(ev.RunID)
	}

	switch ev.Type {
	case domain.EventRunStarted:
		if ev.Run != nil {
			l.Key = ev.Run.Key
			l.StartedAt = ev.Run.StartedAt
			l.Deadline = ev.Run.Deadline
			l.Status = ev.Run.Status
		}
		l.State = domain.StatePending
	case domain.EventPhaseStarted:
		if i := phaseSlot(ev.Phase); i >= 0 {
			l.Phases[i].Started = true
			l.Current = ev.Phase.Index
		}
	case domain.EventPhaseWritten:
		if i := phaseSlot(ev.Phase); i >= 0 {
			l.Phases[i].Written = true
			l.Phases[i].OK = ev.Phase.OK
		}
	case domain.EventPollSample:
		if ev.Poll == nil {
			return
		}
		l.Polls = append(l.Polls, *ev.Poll)
		if len(l.Polls) > maxPolls {
			l.Polls = l.Polls[len(l.Polls)-maxPolls:]
		}
		l.State = ev.Poll.State
	case domain.EventTelemetryCollected:
		l.Queries = len(ev.Telemetry)
		l.Failed = 0
		for _, e := range ev.Telemetry {
			if e.Error != "" {
				l.Failed++
			}
		}
	case domain.EventRunFinished:
		if ev.Run != nil {
			l.Status = ev.Run.Status
			if ev.Run.State != "" {
				l.State = ev.Run.State
			}
		}
		l.Current = 0
	}
}

func phaseSlot(p *domain.PhaseRecord) int {
	if p == nil || p.Index < 1 || p.Index > len(LiveRun{}.Phases) {
		return -1
	}
	return p.Index - 1
}

// SetRuns replaces the run list
func (m *Model) SetRuns(runs []*domain.RunInfo) {
	m.runs = runs
}

// Live returns the live run state
func (m Model) Live() LiveRun {
	return m.live
}
