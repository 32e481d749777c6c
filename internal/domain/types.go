package domain

import "strings"

// WorkUnitState is the observed lifecycle of the convoy being polled
type WorkUnitState string

const (
	StatePending  WorkUnitState = "PENDING"
	StateRunning  WorkUnitState = "RUNNING"
	StateLanded   WorkUnitState = "LANDED"
	StateFailed   WorkUnitState = "FAILED"
	StateTimedOut WorkUnitState = "TIMED_OUT"
)

// IsTerminal reports whether polling stops in this state
func (s WorkUnitState) IsTerminal() bool {
	switch s {
	case StateLanded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// ParseWorkUnitState maps a stored state name back to its variant.
// Unknown names map to StatePending.
func ParseWorkUnitState(s string) WorkUnitState {
	if state, ok := LookupWorkUnitState(s); ok {
		return state
	}
	return StatePending
}

// LookupWorkUnitState resolves a state name case-insensitively and reports
// whether it names a known state
func LookupWorkUnitState(s string) (WorkUnitState, bool) {
	state := WorkUnitState(strings.ToUpper(strings.TrimSpace(s)))
	switch state {
	case StatePending, StateRunning, StateLanded, StateFailed, StateTimedOut:
		return state, true
	}
	return "", false
}

// RunStatus represents the execution state of a harness run
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunAborted     RunStatus = "aborted"
	RunInterrupted RunStatus = "interrupted"
)

// QueryLang selects the backend a telemetry query runs against
type QueryLang string

const (
	LangPromQL QueryLang = "promql"
	LangLogsQL QueryLang = "logsql"
)
