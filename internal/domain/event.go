package domain

import (
	"sync"
	"time"
)

// EventType names a pipeline event
type EventType string

const (
	EventRunStarted         EventType = "run_started"
	EventPhaseStarted       EventType = "phase_started"
	EventPhaseWritten       EventType = "phase_written"
	EventPollSample         EventType = "poll_sample"
	EventTelemetryCollected EventType = "telemetry_collected"
	EventRunFinished        EventType = "run_finished"
	EventReportChanged      EventType = "report_changed"
)

// RunInfo is the flat, serializable view of a run used by history and the live API
type RunInfo struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	Dir        string        `json:"dir"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Deadline   time.Duration `json:"deadline"`
	Status     RunStatus     `json:"status"`
	State      WorkUnitState `json:"state,omitempty"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
}

// Info returns the RunInfo snapshot of r
func (r *Run) Info() RunInfo {
	return RunInfo{
		ID:         r.ID,
		Key:        r.Key.String(),
		Dir:        r.Dir,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Deadline:   r.Deadline,
		Status:     r.Status,
	}
}

// PollSample is one completion poll as stored and streamed
type PollSample struct {
	Poll      int           `json:"poll"`
	At        time.Time     `json:"at"`
	ElapsedMS int64         `json:"elapsed_ms"`
	Label     string        `json:"label"`
	State     WorkUnitState `json:"state"`
	Error     string        `json:"error,omitempty"`
}

// TelemetryEntry is one query result as stored
type TelemetryEntry struct {
	Name  string    `json:"name"`
	Group string    `json:"group,omitempty"`
	Lang  QueryLang `json:"lang"`
	Expr  string    `json:"expr"`
	Value string    `json:"value"`
	Error string    `json:"error,omitempty"`
}

// Entries flattens the sample for storage
func (s TelemetrySample) Entries() []TelemetryEntry {
	out := make([]TelemetryEntry, len(s))
	for i, r := range s {
		out[i] = TelemetryEntry{Name: r.Query.Name, Group: r.Query.Group, Lang: r.Query.Lang, Expr: r.Query.Expr, Value: r.Value}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// Event is emitted by the pipeline as a run progresses. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType        `json:"type"`
	RunID     string           `json:"run_id,omitempty"`
	At        time.Time        `json:"at"`
	Run       *RunInfo         `json:"run,omitempty"`
	Phase     *PhaseRecord     `json:"phase,omitempty"`
	Poll      *PollSample      `json:"poll,omitempty"`
	Telemetry []TelemetryEntry `json:"telemetry,omitempty"`
	Path      string           `json:"path,omitempty"`
}

// EventSink receives pipeline events. Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// MultiSink fans an event out to several sinks
type MultiSink struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewMultiSink creates a MultiSink
func NewMultiSink(sinks ...EventSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add registers another sink. Nil sinks are ignored.
func (m *MultiSink) Add(s EventSink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Emit implements EventSink
func (m *MultiSink) Emit(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		s.Emit(ev)
	}
}

// SinkFunc adapts a function into an EventSink
type SinkFunc func(Event)

// Emit implements EventSink
func (f SinkFunc) Emit(ev Event) { f(ev) }
