package domain

import (
	"fmt"
	"time"
)

// Paths holds the collaborator locations resolved for a run
type Paths struct {
	TownDir     string
	OtelDir     string
	ComposeFile string
	TraceBin    string
	PromptFile  string
	ReportsDir  string
}

// Run is one execution of the harness pipeline. It is created once at launch
// and handed to every phase.
type Run struct {
	ID        string
	Key       RunKey
	Dir       string
	StartedAt time.Time
	Deadline  time.Duration
	Paths     Paths

	Phases     []PhaseRecord
	FinishedAt *time.Time
	Status     RunStatus
}

// PhaseRecord notes a phase report that has been written for a run
type PhaseRecord struct {
	Index     int       `json:"index"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	File      string    `json:"file"`
	OK        bool      `json:"ok"`
	WrittenAt time.Time `json:"written_at"`
}

// LastPhase returns the index of the last written phase, or 0
func (r *Run) LastPhase() int {
	if len(r.Phases) == 0 {
		return 0
	}
	return r.Phases[len(r.Phases)-1].Index
}

// Duration returns how long the run has taken so far
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// PhaseReport is the content of one phase artifact
type PhaseReport struct {
	Index int
	Slug  string
	Title string
	Body  string
	OK    bool
}

// FileName returns the fixed artifact name for the phase
func (p PhaseReport) FileName() string {
	return PhaseFileName(p.Index, p.Slug)
}

// PhaseFileName renders the phase-number + slug artifact name
func PhaseFileName(index int, slug string) string {
	return fmt.Sprintf("%02d-%s.md", index, slug)
}

// PhaseSpec describes one fixed pipeline phase
type PhaseSpec struct {
	Index int
	Slug  string
	Title string
	Label string
}

// Phases is the fixed phase table, in execution order
var Phases = []PhaseSpec{
	{1, "otel-reset", "Phase 1: Reset OpenTelemetry", "Reset OpenTelemetry data"},
	{2, "gastown-reset", "Phase 2: Reset Gastown", "Reset Gastown instance"},
	{3, "otel-start", "Phase 3: OTEL Stack + gastown-trace", "Start OTEL stack + gastown-trace"},
	{4, "gastown-start", "Phase 4: Start Mayor", "Start Mayor"},
	{5, "test-launch", "Phase 5: Test Suite Launch", "Launch test suite"},
	{6, "test-results", "Phase 6: Test Results", "Test results (convoy landing)"},
	{7, "otel-data", "Phase 7: OTEL Data", "OTEL metrics + logs collected"},
	{8, "recommendations", "Phase 8: Recommendations", "Recommendations"},
}

// PhaseByIndex looks up a phase in the fixed table
func PhaseByIndex(index int) (PhaseSpec, bool) {
	for _, p := range Phases {
		if p.Index == index {
			return p, true
		}
	}
	return PhaseSpec{}, false
}
