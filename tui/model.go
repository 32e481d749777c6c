package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Tabs
const (
	TabRuns = iota
	TabLive
	tabCount
)

// maxPolls is how many poll samples the live tab keeps
const maxPolls = 12

// RunLoader fetches recent runs from the history store
type RunLoader func() ([]*domain.RunInfo, error)

// Model is the TUI application model
type Model struct {
	// Data
	runs   []*domain.RunInfo
	live   LiveRun
	loader RunLoader
	events <-chan domain.Event
	url    string

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	connected   bool
	err         error

	// Refresh
	lastRefresh time.Time
	now         func() time.Time
}

// LiveRun is the run currently streamed over the websocket
type LiveRun struct {
	RunID     string
	Key       string
	StartedAt time.Time
	Deadline  time.Duration
	Status    domain.RunStatus
	State     domain.WorkUnitState
	Phases    [8]PhaseView
	Current   int
	Polls     []domain.PollSample
	Queries   int
	Failed    int
}

// PhaseView is one phase row on the live tab
type PhaseView struct {
	Title   string
	Started bool
	Written bool
	OK      bool
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Runs   []*domain.RunInfo
	Loader RunLoader
	// Events is nil when no live stream is connected
	Events <-chan domain.Event
	URL    string
	Now    func() time.Time
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := Model{
		runs:      cfg.Runs,
		loader:    cfg.Loader,
		events:    cfg.Events,
		url:       cfg.URL,
		connected: cfg.Events != nil,
		now:       now,
	}
	m.live.reset("")
	return m
}

func (l *LiveRun) reset(runID string) {
	*l = LiveRun{RunID: runID}
	for i, spec := range domain.Phases {
		if i < len(l.Phases) {
			l.Phases[i].Title = spec.Title
		}
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		loadRunsCmd(m.loader),
		waitForEvent(m.events),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// RunsLoadedMsg carries a fresh run list
type RunsLoadedMsg struct {
	Runs []*domain.RunInfo
	Err  error
}

func loadRunsCmd(loader RunLoader) tea.Cmd {
	if loader == nil {
		return nil
	}
	return func() tea.Msg {
		runs, err := loader()
		return RunsLoadedMsg{Runs: runs, Err: err}
	}
}

// EventMsg carries one live pipeline event
type EventMsg domain.Event

// DisconnectedMsg is sent when the live stream ends
type DisconnectedMsg struct{}

func waitForEvent(events <-chan domain.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return DisconnectedMsg{}
		}
		return EventMsg(ev)
	}
}
