package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	landedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("237"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	live := "offline"
	if m.connected {
		live = "live"
	}
	header := fmt.Sprintf(" Gastown Harness │ Runs: %d │ Landed: %d │ Stream: %s ",
		len(m.runs), m.countLanded(), live)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case TabRuns:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRuns()))
	case TabLive:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderLive()))
	}
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) countLanded() int {
	n := 0
	for _, r := range m.runs {
		if r.State == domain.StateLanded {
			n++
		}
	}
	return n
}

func (m Model) renderTabs() string {
	tabs := []string{"Runs", "Live"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderRuns() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RECENT RUNS"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(failedStyle.Render("  error: " + m.err.Error()))
		b.WriteString("\n")
	}
	if len(m.runs) == 0 {
		b.WriteString(dimmedStyle.Render("  No runs recorded yet"))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("  %-20s %-12s %-10s %-9s %4s  %s", "RUN", "STATE", "STATUS", "DURATION", "EXIT", "STARTED")))
	b.WriteString("\n")

	now := m.now()
	for i, r := range m.runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = formatDuration(r.FinishedAt.Sub(r.StartedAt))
		} else if r.Status == domain.RunRunning {
			dur = formatDuration(now.Sub(r.StartedAt))
		}
		state := string(r.State)
		if state == "" {
			state = "-"
		}
		line := fmt.Sprintf("  %-20s %s %-10s %-9s %4d  %s",
			truncate(r.Key, 20),
			stateStyle(r.State).Render(fmt.Sprintf("%-12s", state)),
			r.Status, dur, r.ExitCode,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"))
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if sel := m.selected(); sel != nil && sel.Error != "" {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render("  " + truncate(sel.Error, m.width-8)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) selected() *domain.RunInfo {
	if m.selectedRow < 0 || m.selectedRow >= len(m.runs) {
		return nil
	}
	return m.runs[m.selectedRow]
}

func (m Model) renderLive() string {
	var b strings.Builder
	l := m.live

	if l.RunID == "" {
		b.WriteString(titleStyle.Render("LIVE"))
		b.WriteString("\n")
		if !m.connected {
			b.WriteString(dimmedStyle.Render("  Not connected. Start a run with --serve and pass --url to dash."))
		} else {
			b.WriteString(dimmedStyle.Render("  Waiting for a run to start..."))
		}
		return b.String()
	}

	b.WriteString(titleStyle.Render("LIVE " + l.Key))
	b.WriteString("  ")
	b.WriteString(stateStyle(l.State).Render(string(l.State)))
	if !l.StartedAt.IsZero() {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  elapsed %s of %s", formatDuration(m.now().Sub(l.StartedAt)), formatDuration(l.Deadline))))
	}
	b.WriteString("\n\n")

	for i, p := range l.Phases {
		mark := dimmedStyle.Render("·")
		switch {
		case p.Written && p.OK:
			mark = landedStyle.Render("✓")
		case p.Written:
			mark = failedStyle.Render("⚠")
		case p.Started:
			mark = runningStyle.Render("▶")
		}
		b.WriteString(fmt.Sprintf("  %s %d. %s\n", mark, i+1, p.Title))
	}

	if len(l.Polls) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("POLLS"))
		b.WriteString("\n")
		for _, p := range l.Polls {
			line := fmt.Sprintf("  #%-3d %s  %-9s %s", p.Poll, p.At.Format("15:04:05"),
				formatDuration(time.Duration(p.ElapsedMS)*time.Millisecond), stateStyle(p.State).Render(string(p.State)))
			if p.Label != "" {
				line += dimmedStyle.Render(" (" + p.Label + ")")
			}
			if p.Error != "" {
				line += failedStyle.Render(" " + truncate(p.Error, 40))
			}
			b.WriteString(line + "\n")
		}
	}

	if l.Queries > 0 {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  Telemetry: %s queries, %s failed\n", humanize.Comma(int64(l.Queries)), humanize.Comma(int64(l.Failed))))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = humanize.RelTime(m.lastRefresh, m.now(), "ago", "from now")
	}
	bar := fmt.Sprintf(" q quit │ r refresh │ tab switch │ j/k select │ refreshed %s ", refreshed)
	return statusBarStyle.Width(m.width).Render(bar)
}

func stateStyle(s domain.WorkUnitState) lipgloss.Style {
	switch s {
	case domain.StateLanded:
		return landedStyle
	case domain.StateFailed, domain.StateTimedOut:
		return failedStyle
	case domain.StateRunning:
		return runningStyle
	}
	return dimmedStyle
}

func truncate(s string, max int) string {
	if max <= 3 || len([]rune(s)) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
