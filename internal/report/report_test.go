package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

var t0 = time.Date(2026, 1, 26, 12, 0, 0, 0, time.Local)

func fixedNow() time.Time { return t0 }

func newTestRun(t *testing.T) (*domain.Run, string) {
	t.Helper()
	reports := filepath.Join(t.TempDir(), "reports")
	run, err := NewRun(reports, t0, time.Hour, domain.Paths{})
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	return run, reports
}

// writeAll writes every phase report of run
func writeAll(t *testing.T, w *Writer, run *domain.Run) {
	t.Helper()
	for _, spec := range domain.Phases {
		if _, err := w.WritePhase(run, spec.Index, "x", true); err != nil {
			t.Fatalf("WritePhase(%d): %v", spec.Index, err)
		}
	}
}

func TestNewRun_CollisionSuffix(t *testing.T) {
	reports := filepath.Join(t.TempDir(), "reports")

	want := []string{"20260126-120000", "20260126-120000-2", "20260126-120000-3"}
	ids := map[string]bool{}
	for _, name := range want {
		run, err := NewRun(reports, t0, time.Hour, domain.Paths{})
		if err != nil {
			t.Fatalf("NewRun: %v", err)
		}
		if filepath.Base(run.Dir) != name {
			t.Errorf("Dir = %q, want %q", filepath.Base(run.Dir), name)
		}
		if run.Paths.ReportsDir != reports {
			t.Errorf("Paths.ReportsDir = %q, want %q", run.Paths.ReportsDir, reports)
		}
		if ids[run.ID] {
			t.Errorf("duplicate run ID %s", run.ID)
		}
		ids[run.ID] = true
	}
}

func TestWritePhase_NeverOverwrites(t *testing.T) {
	run, _ := newTestRun(t)
	w := NewWriter()

	rec, err := w.WritePhase(run, 1, "first", true)
	if err != nil {
		t.Fatalf("WritePhase: %v", err)
	}
	if rec.File != "01-otel-reset.md" {
		t.Errorf("File = %q, want 01-otel-reset.md", rec.File)
	}

	// A second writer for the same run directory, as after a restart.
	other := &domain.Run{Dir: run.Dir, Key: run.Key}
	_, err = NewWriter().WritePhase(other, 1, "second", true)
	if !errors.Is(err, ErrPhaseExists) {
		t.Fatalf("err = %v, want ErrPhaseExists", err)
	}

	data, _ := os.ReadFile(filepath.Join(run.Dir, "01-otel-reset.md"))
	if string(data) != "first" {
		t.Errorf("content = %q, want first", data)
	}
}

func TestWritePhase_Order(t *testing.T) {
	run, _ := newTestRun(t)
	w := NewWriter()

	if _, err := w.WritePhase(run, 3, "x", true); err != nil {
		t.Fatalf("WritePhase(3): %v", err)
	}
	for _, idx := range []int{1, 3, 0, 9} {
		if _, err := w.WritePhase(run, idx, "x", true); !errors.Is(err, ErrPhaseOrder) {
			t.Errorf("WritePhase(%d) err = %v, want ErrPhaseOrder", idx, err)
		}
	}
	if _, err := w.WritePhase(run, 4, "x", false); err != nil {
		t.Errorf("WritePhase(4): %v", err)
	}
	if run.LastPhase() != 4 {
		t.Errorf("LastPhase = %d, want 4", run.LastPhase())
	}
}

func TestFinalize_SwapsLatest(t *testing.T) {
	reports := filepath.Join(t.TempDir(), "reports")
	w := NewWriter()

	first, _ := NewRun(reports, t0, time.Hour, domain.Paths{})
	writeAll(t, w, first)
	if err := w.Finalize(first); err != nil {
		t.Fatalf("Finalize first: %v", err)
	}
	second, _ := NewRun(reports, t0.Add(time.Minute), time.Hour, domain.Paths{})
	writeAll(t, w, second)
	if err := w.Finalize(second); err != nil {
		t.Fatalf("Finalize second: %v", err)
	}

	got, err := Latest(reports)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got != "20260126-120100" {
		t.Errorf("latest = %q, want 20260126-120100", got)
	}

	entries, _ := os.ReadDir(reports)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "latest.tmp") {
			t.Errorf("temporary link left behind: %s", e.Name())
		}
	}

	if _, err := os.Stat(filepath.Join(reports, LatestLink, "01-otel-reset.md")); err != nil {
		t.Errorf("latest does not resolve into run dir: %v", err)
	}
}

func TestFinalize_IncompleteRun(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, w *Writer, run *domain.Run)
	}{
		{"written file removed", func(t *testing.T, w *Writer, run *domain.Run) {
			writeAll(t, w, run)
			os.Remove(filepath.Join(run.Dir, "01-otel-reset.md"))
		}},
		{"only phase 1 written", func(t *testing.T, w *Writer, run *domain.Run) {
			if _, err := w.WritePhase(run, 1, "x", true); err != nil {
				t.Fatal(err)
			}
		}},
		{"nothing written", func(t *testing.T, w *Writer, run *domain.Run) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, reports := newTestRun(t)
			w := NewWriter()
			tt.setup(t, w, run)

			if err := w.Finalize(run); !errors.Is(err, ErrIncompleteRun) {
				t.Fatalf("err = %v, want ErrIncompleteRun", err)
			}
			if _, err := os.Lstat(filepath.Join(reports, LatestLink)); !os.IsNotExist(err) {
				t.Errorf("latest should not exist, got %v", err)
			}
		})
	}
}

func TestWriteIndex(t *testing.T) {
	run, _ := newTestRun(t)
	w := NewWriter()
	w.SetClock(fixedNow)
	w.WritePhase(run, 1, "x", true)
	w.WritePhase(run, 2, "x", false)

	err := w.WriteIndex(run, []Link{{Name: "Grafana", URL: "http://localhost:9429"}}, "gastown-trace PID: 4242")
	if err != nil {
		t.Fatalf("WriteIndex: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(run.Dir, IndexFile))
	content := string(data)

	for _, want := range []string{
		"# Gastown Test Run: 20260126-120000",
		"[01-otel-reset.md](01-otel-reset.md)",
		"[08-recommendations.md](08-recommendations.md)",
		"| Grafana | http://localhost:9429 |",
		"gastown-trace PID: 4242",
		"⚠",
		"not written",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("README missing %q", want)
		}
	}
}

func TestDoc(t *testing.T) {
	doc := NewDoc("Phase 1: Reset OpenTelemetry", fixedNow).
		H2("Stop stack").
		Cmd("docker compose down", "Stopped\n\n").
		Table([]string{"Volume", "Removed"}, [][]string{{"gastown-otel_vm-data", "yes"}, {"x", "no"}}).
		Blockquote("note").
		Close(false)

	want := "# Phase 1: Reset OpenTelemetry\n\n> Started: 2026-01-26 12:00:00\n\n" +
		"\n## Stop stack\n\n" +
		"```\n$ docker compose down\nStopped\n```\n\n" +
		"| Volume               | Removed |\n" +
		"|----------------------|---------|\n" +
		"| gastown-otel_vm-data | yes     |\n" +
		"| x                    | no      |\n\n" +
		"> note\n\n" +
		"> ⚠ **Phase failed, see details above** (2026-01-26 12:00:00)\n\n"

	if got := doc.String(); got != want {
		t.Errorf("Doc =\n%s\nwant\n%s", got, want)
	}
}

func TestDoc_StatusDefaults(t *testing.T) {
	got := NewDoc("t", fixedNow).Status(true, "").String()
	if !strings.Contains(got, "> ✓ **OK** (2026-01-26 12:00:00)") {
		t.Errorf("Status(true) = %q", got)
	}
}
