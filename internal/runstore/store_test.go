package runstore

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRun(id, key string, started time.Time) domain.RunInfo {
	return domain.RunInfo{
		ID:        id,
		Key:       key,
		Dir:       "/srv/reports/" + key,
		StartedAt: started,
		Deadline:  time.Hour,
		Status:    domain.RunRunning,
	}
}

func TestStore_CreateAndFinishRun(t *testing.T) {
	store := newStore(t)
	start := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)

	if err := store.CreateRun(testRun("r1", "20260126-120000", start)); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
	if got.Deadline != time.Hour {
		t.Errorf("Deadline = %v, want 1h", got.Deadline)
	}

	end := start.Add(42 * time.Minute)
	fin := testRun("r1", "20260126-120000", start)
	fin.FinishedAt = &end
	fin.Status = domain.RunCompleted
	fin.State = domain.StateTimedOut
	if err := store.FinishRun(fin); err != nil {
		t.Fatal(err)
	}

	got, err = store.GetRun("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateTimedOut {
		t.Errorf("State = %q, want TIMED_OUT", got.State)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(end) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, end)
	}

	byKey, err := store.GetRunByKey("20260126-120000")
	if err != nil {
		t.Fatal(err)
	}
	if byKey.ID != "r1" {
		t.Errorf("GetRunByKey ID = %q, want r1", byKey.ID)
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newStore(t)

	if _, err := store.GetRun("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun err = %v, want ErrNotFound", err)
	}
	if err := store.FinishRun(domain.RunInfo{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)

	states := []domain.WorkUnitState{domain.StateLanded, domain.StateTimedOut, domain.StateLanded}
	for i, st := range states {
		run := testRun(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour).Format(domain.RunKeyLayout), base.Add(time.Duration(i)*time.Hour))
		if err := store.CreateRun(run); err != nil {
			t.Fatal(err)
		}
		run.Status = domain.RunCompleted
		run.State = st
		if err := store.FinishRun(run); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListRuns(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("All runs count = %d, want 3", len(all))
	}
	if all[0].ID != "c" {
		t.Errorf("newest run = %q, want c", all[0].ID)
	}

	landed, err := store.ListRuns(ListOptions{State: domain.StateLanded})
	if err != nil {
		t.Fatal(err)
	}
	if len(landed) != 2 {
		t.Errorf("Landed count = %d, want 2", len(landed))
	}

	limited, err := store.ListRuns(ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("Limited count = %d, want 1", len(limited))
	}
}

func TestStore_PhasesPollsTelemetry(t *testing.T) {
	store := newStore(t)
	start := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)
	if err := store.CreateRun(testRun("r1", "k", start)); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 2; i++ {
		spec, _ := domain.PhaseByIndex(i)
		rec := domain.PhaseRecord{Index: i, Slug: spec.Slug, Title: spec.Title, File: domain.PhaseFileName(i, spec.Slug), OK: i == 1, WrittenAt: start}
		if err := store.RecordPhase("r1", rec); err != nil {
			t.Fatal(err)
		}
	}
	phases, err := store.ListPhases("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 2 || phases[1].File != "02-gastown-reset.md" || phases[1].OK {
		t.Errorf("phases = %+v", phases)
	}

	polls := []domain.PollSample{
		{Poll: 1, At: start, ElapsedMS: 0, Label: "", State: domain.StatePending},
		{Poll: 2, At: start.Add(30 * time.Second), ElapsedMS: 30000, Error: "exit 1: locked", State: domain.StatePending},
		{Poll: 3, At: start.Add(time.Minute), ElapsedMS: 60000, Label: "landed", State: domain.StateLanded},
	}
	for _, p := range polls {
		if err := store.RecordPoll("r1", p); err != nil {
			t.Fatal(err)
		}
	}
	gotPolls, err := store.ListPolls("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotPolls) != 3 {
		t.Fatalf("polls = %d, want 3", len(gotPolls))
	}
	if gotPolls[1].Error != "exit 1: locked" || gotPolls[2].State != domain.StateLanded {
		t.Errorf("polls = %+v", gotPolls)
	}

	entries := []domain.TelemetryEntry{
		{Name: "nudges", Group: "Gastown Metrics", Lang: domain.LangPromQL, Expr: "gastown_nudge_total", Value: "gastown_nudge_total = 4"},
		{Name: "errors", Lang: domain.LangLogsQL, Expr: "level:error", Error: "status 502"},
	}
	if err := store.RecordTelemetry("r1", entries); err != nil {
		t.Fatal(err)
	}
	gotTel, err := store.ListTelemetry("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotTel) != 2 || gotTel[0].Group != "Gastown Metrics" || gotTel[1].Error != "status 502" {
		t.Errorf("telemetry = %+v", gotTel)
	}
}

func TestStore_ForeignKeys(t *testing.T) {
	store := newStore(t)
	err := store.RecordPoll("missing", domain.PollSample{Poll: 1, At: time.Now()})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestStore_FileDatabaseCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
}

func TestRecorder(t *testing.T) {
	store := newStore(t)
	rec := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	start := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)

	info := testRun("r9", "k9", start)
	rec.Emit(domain.Event{Type: domain.EventRunStarted, RunID: "r9", Run: &info})
	rec.Emit(domain.Event{Type: domain.EventPhaseWritten, RunID: "r9", Phase: &domain.PhaseRecord{Index: 1, Slug: "otel-reset", File: "01-otel-reset.md", OK: true, WrittenAt: start}})
	rec.Emit(domain.Event{Type: domain.EventPollSample, RunID: "r9", Poll: &domain.PollSample{Poll: 1, At: start, State: domain.StateRunning}})
	rec.Emit(domain.Event{Type: domain.EventTelemetryCollected, RunID: "r9", Telemetry: []domain.TelemetryEntry{{Name: "x", Lang: domain.LangPromQL, Expr: "up"}}})
	// Unknown run: logged, not fatal.
	rec.Emit(domain.Event{Type: domain.EventPollSample, RunID: "ghost", Poll: &domain.PollSample{Poll: 1, At: start}})

	info.Status = domain.RunCompleted
	info.State = domain.StateLanded
	rec.Emit(domain.Event{Type: domain.EventRunFinished, RunID: "r9", Run: &info})

	got, err := store.GetRun("r9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunCompleted || got.State != domain.StateLanded {
		t.Errorf("run = %+v", got)
	}
	phases, _ := store.ListPhases("r9")
	polls, _ := store.ListPolls("r9")
	tel, _ := store.ListTelemetry("r9")
	if len(phases) != 1 || len(polls) != 1 || len(tel) != 1 {
		t.Errorf("phases=%d polls=%d telemetry=%d, want 1 each", len(phases), len(polls), len(tel))
	}
}
