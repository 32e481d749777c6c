package runstore

import (
	"log/slog"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Recorder persists pipeline events. Storage errors are logged and
// otherwise ignored so history never fails a run.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

// NewRecorder creates a Recorder writing to store
func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log}
}

// Emit implements domain.EventSink
func (r *Recorder) Emit(ev domain.Event) {
	var err error
	switch ev.Type {
	case domain.EventRunStarted:
		if ev.Run != nil {
			err = r.store.CreateRun(*ev.Run)
		}
	case domain.EventPhaseWritten:
		if ev.Phase != nil {
			err = r.store.RecordPhase(ev.RunID, *ev.Phase)
		}
	case domain.EventPollSample:
		if ev.Poll != nil {
			err = r.store.RecordPoll(ev.RunID, *ev.Poll)
		}
	case domain.EventTelemetryCollected:
		err = r.store.RecordTelemetry(ev.RunID, ev.Telemetry)
	case domain.EventRunFinished:
		if ev.Run != nil {
			err = r.store.FinishRun(*ev.Run)
		}
	}
	if err != nil {
		r.log.Warn("recording run history failed", "event", ev.Type, "run", ev.RunID, "error", err)
	}
}
