package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

var testNow = time.Date(2026, 1, 26, 14, 0, 0, 0, time.UTC)

func testRuns() []*domain.RunInfo {
	finished := testNow.Add(-30 * time.Minute)
	return []*domain.RunInfo{
		{ID: "b", Key: "2026-01-26_13-00-00", StartedAt: testNow.Add(-time.Hour), FinishedAt: &finished, Status: domain.RunCompleted, State: domain.StateLanded},
		{ID: "a", Key: "2026-01-26_12-00-00", StartedAt: testNow.Add(-2 * time.Hour), Status: domain.RunAborted, ExitCode: 1, Error: "services not ready after 1m0s: VictoriaMetrics"},
	}
}

func newTestModel(cfg ModelConfig) Model {
	cfg.Now = func() time.Time { return testNow }
	m := NewModel(cfg)
	m.width = 120
	m.height = 40
	return m
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNewModel(t *testing.T) {
	model := newTestModel(ModelConfig{Runs: testRuns()})

	if len(model.runs) != 2 {
		t.Errorf("runs count = %d, want 2", len(model.runs))
	}
	if model.activeTab != TabRuns {
		t.Errorf("activeTab = %d, want %d", model.activeTab, TabRuns)
	}
	if model.connected {
		t.Error("model without events should not be connected")
	}
	if model.live.Phases[0].Title != domain.Phases[0].Title {
		t.Errorf("phase 1 title = %q, want %q", model.live.Phases[0].Title, domain.Phases[0].Title)
	}
}

func TestModel_TabSwitching(t *testing.T) {
	model := newTestModel(ModelConfig{})

	model, _ = update(model, tea.KeyMsg{Type: tea.KeyTab})
	if model.activeTab != TabLive {
		t.Errorf("after tab: activeTab = %d, want %d", model.activeTab, TabLive)
	}

	model, _ = update(model, tea.KeyMsg{Type: tea.KeyTab})
	if model.activeTab != TabRuns {
		t.Errorf("after wrap: activeTab = %d, want %d", model.activeTab, TabRuns)
	}
}

func TestModel_QuitKey(t *testing.T) {
	model := newTestModel(ModelConfig{})
	_, cmd := update(model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModel_RefreshKeyLoadsRuns(t *testing.T) {
	calls := 0
	loader := func() ([]*domain.RunInfo, error) {
		calls++
		return testRuns(), nil
	}
	model := newTestModel(ModelConfig{Loader: loader})

	model, cmd := update(model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Fatal("r should return a load command")
	}
	msg := cmd()
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}

	model, _ = update(model, msg)
	if len(model.runs) != 2 {
		t.Errorf("runs count = %d, want 2", len(model.runs))
	}
	if !model.lastRefresh.Equal(testNow) {
		t.Errorf("lastRefresh = %v, want %v", model.lastRefresh, testNow)
	}
}

func TestModel_LoadErrorKeepsRuns(t *testing.T) {
	model := newTestModel(ModelConfig{Runs: testRuns()})
	model, _ = update(model, RunsLoadedMsg{Err: errors.New("database is locked")})

	if len(model.runs) != 2 {
		t.Errorf("runs count = %d, want 2 kept", len(model.runs))
	}
	if !strings.Contains(model.View(), "database is locked") {
		t.Error("view should show the load error")
	}
}

func TestModel_Selection(t *testing.T) {
	model := newTestModel(ModelConfig{Runs: testRuns()})

	model, _ = update(model, tea.KeyMsg{Type: tea.KeyDown})
	model, _ = update(model, tea.KeyMsg{Type: tea.KeyDown})
	if model.selectedRow != 1 {
		t.Errorf("selectedRow = %d, want 1 (clamped)", model.selectedRow)
	}
	if !strings.Contains(model.View(), "services not ready") {
		t.Error("view should show the selected run's error")
	}

	model, _ = update(model, tea.KeyMsg{Type: tea.KeyUp})
	model, _ = update(model, tea.KeyMsg{Type: tea.KeyUp})
	if model.selectedRow != 0 {
		t.Errorf("selectedRow = %d, want 0", model.selectedRow)
	}
}

func TestModel_ApplyLiveEvents(t *testing.T) {
	events := make(chan domain.Event, 1)
	model := newTestModel(ModelConfig{Events: events})

	started := testNow.Add(-5 * time.Minute)
	steps := []domain.Event{
		{Type: domain.EventRunStarted, RunID: "r1", Run: &domain.RunInfo{ID: "r1", Key: "2026-01-26_13-55-00", StartedAt: started, Deadline: time.Hour, Status: domain.RunRunning}},
		{Type: domain.EventPhaseStarted, RunID: "r1", Phase: &domain.PhaseRecord{Index: 1}},
		{Type: domain.EventPhaseWritten, RunID: "r1", Phase: &domain.PhaseRecord{Index: 1, OK: true}},
		{Type: domain.EventPhaseStarted, RunID: "r1", Phase: &domain.PhaseRecord{Index: 6}},
		{Type: domain.EventPollSample, RunID: "r1", Poll: &domain.PollSample{Poll: 1, At: testNow, Label: "open", State: domain.StateRunning}},
		{Type: domain.EventPollSample, RunID: "other", Poll: &domain.PollSample{Poll: 9, State: domain.StateFailed}},
	}
	for _, ev := range steps {
		var cmd tea.Cmd
		model, cmd = update(model, EventMsg(ev))
		if cmd == nil {
			t.Fatalf("%s: expected a command waiting for the next event", ev.Type)
		}
	}

	live := model.Live()
	if live.Key != "2026-01-26_13-55-00" {
		t.Errorf("Key = %q", live.Key)
	}
	if !live.Phases[0].Written || !live.Phases[0].OK {
		t.Errorf("phase 1 = %+v, want written ok", live.Phases[0])
	}
	if !live.Phases[5].Started || live.Phases[5].Written {
		t.Errorf("phase 6 = %+v, want started only", live.Phases[5])
	}
	if live.Current != 6 {
		t.Errorf("Current = %d, want 6", live.Current)
	}
	if len(live.Polls) != 1 {
		t.Errorf("polls = %d, want 1 (events from other runs ignored)", len(live.Polls))
	}
	if live.State != domain.StateRunning {
		t.Errorf("State = %s, want RUNNING", live.State)
	}

	model.activeTab = TabLive
	view := model.View()
	for _, want := range []string{"LIVE 2026-01-26_13-55-00", "RUNNING", "(open)", "elapsed 5m0s of 1h0m0s"} {
		if !strings.Contains(view, want) {
			t.Errorf("live view missing %q", want)
		}
	}
}

func TestModel_NewRunResetsLiveView(t *testing.T) {
	model := newTestModel(ModelConfig{})
	model.apply(domain.Event{Type: domain.EventRunStarted, RunID: "r1", Run: &domain.RunInfo{Key: "one"}})
	model.apply(domain.Event{Type: domain.EventPollSample, RunID: "r1", Poll: &domain.PollSample{Poll: 1, State: domain.StateRunning}})
	model.apply(domain.Event{Type: domain.EventRunStarted, RunID: "r2", Run: &domain.RunInfo{Key: "two"}})

	if model.live.Key != "two" || len(model.live.Polls) != 0 {
		t.Errorf("live = %+v, want fresh run two", model.live)
	}
	if model.live.State != domain.StatePending {
		t.Errorf("State = %s, want PENDING", model.live.State)
	}
}

func TestModel_PollHistoryIsBounded(t *testing.T) {
	model := newTestModel(ModelConfig{})
	for i := 1; i <= maxPolls+5; i++ {
		model.apply(domain.Event{Type: domain.EventPollSample, RunID: "r1", Poll: &domain.PollSample{Poll: i, State: domain.StateRunning}})
	}
	if len(model.live.Polls) != maxPolls {
		t.Fatalf("polls = %d, want %d", len(model.live.Polls), maxPolls)
	}
	if model.live.Polls[0].Poll != 6 {
		t.Errorf("oldest poll = %d, want 6", model.live.Polls[0].Poll)
	}
}

func TestModel_RunFinishedReloads(t *testing.T) {
	events := make(chan domain.Event)
	model := newTestModel(ModelConfig{
		Events: events,
		Loader: func() ([]*domain.RunInfo, error) { return nil, nil },
	})
	model.apply(domain.Event{Type: domain.EventRunStarted, RunID: "r1", Run: &domain.RunInfo{Key: "one"}})

	model, cmd := update(model, EventMsg{Type: domain.EventRunFinished, RunID: "r1", Run: &domain.RunInfo{Status: domain.RunCompleted, State: domain.StateTimedOut}})
	if cmd == nil {
		t.Fatal("expected commands")
	}
	if model.live.State != domain.StateTimedOut || model.live.Status != domain.RunCompleted {
		t.Errorf("live = %s/%s, want TIMED_OUT/completed", model.live.State, model.live.Status)
	}
}

func TestModel_Disconnected(t *testing.T) {
	events := make(chan domain.Event)
	close(events)
	model := newTestModel(ModelConfig{Events: events})

	msg := waitForEvent(events)()
	if _, ok := msg.(DisconnectedMsg); !ok {
		t.Fatalf("msg = %T, want DisconnectedMsg", msg)
	}
	model, _ = update(model, msg)
	if model.connected {
		t.Error("model should be disconnected")
	}
	if !strings.Contains(model.View(), "Stream: offline") {
		t.Error("header should say offline")
	}
}

func TestView_RunsTable(t *testing.T) {
	model := newTestModel(ModelConfig{Runs: testRuns()})
	view := model.View()

	for _, want := range []string{"Gastown Harness", "Runs: 2", "Landed: 1", "2026-01-26_13-00-00", "LANDED", "30m0s", "1 hour ago"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestView_Loading(t *testing.T) {
	model := NewModel(ModelConfig{})
	if model.View() != "Loading..." {
		t.Errorf("View() = %q, want Loading...", model.View())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"much longer text", 10, "much lo..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
