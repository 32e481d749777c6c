package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

func TestMetrics_FromEvents(t *testing.T) {
	m := New()
	t0 := time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC)
	phase := &domain.PhaseRecord{Index: 6, Slug: "test-results"}

	m.Emit(domain.Event{Type: domain.EventPhaseStarted, RunID: "r", At: t0, Phase: phase})
	m.Emit(domain.Event{Type: domain.EventPollSample, RunID: "r", Poll: &domain.PollSample{Poll: 1}})
	m.Emit(domain.Event{Type: domain.EventPollSample, RunID: "r", Poll: &domain.PollSample{Poll: 2, Error: "exit 1"}})
	m.Emit(domain.Event{Type: domain.EventPhaseWritten, RunID: "r", At: t0.Add(90 * time.Second), Phase: phase})
	m.Emit(domain.Event{Type: domain.EventTelemetryCollected, RunID: "r", Telemetry: []domain.TelemetryEntry{
		{Name: "a"}, {Name: "b", Error: "status 502"},
	}})
	m.Emit(domain.Event{Type: domain.EventRunFinished, RunID: "r", Run: &domain.RunInfo{State: domain.StateLanded}})
	m.Emit(domain.Event{Type: domain.EventRunFinished, RunID: "s", Run: &domain.RunInfo{Status: domain.RunAborted}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Polls))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueryErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("LANDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("aborted")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PhaseDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Polls.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "harness_polls_total 1"), "body missing counter")
	assert.Contains(t, body, "go_goroutines")
}
