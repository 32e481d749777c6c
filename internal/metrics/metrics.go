// Package metrics exposes the harness's own Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Metrics holds the harness collectors. It is a domain.EventSink.
type Metrics struct {
	Runs          *prometheus.CounterVec
	Polls         prometheus.Counter
	QueryErrors   prometheus.Counter
	PhaseDuration *prometheus.HistogramVec

	registry *prometheus.Registry

	mu      sync.Mutex
	started map[string]time.Time
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harness_runs_total",
			Help: "Finished harness runs by final work unit state.",
		}, []string{"state"}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harness_polls_total",
			Help: "Completion status queries issued.",
		}),
		QueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harness_query_errors_total",
			Help: "Failed status and telemetry queries.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harness_phase_duration_seconds",
			Help:    "Wall time per pipeline phase.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"phase"}),
		registry: prometheus.NewRegistry(),
		started:  make(map[string]time.Time),
	}
	m.registry.MustRegister(
		m.Runs, m.Polls, m.QueryErrors, m.PhaseDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Emit implements domain.EventSink
func (m *Metrics) Emit(ev domain.Event) {
	switch ev.Type {
	case domain.EventPhaseStarted:
		if ev.Phase != nil {
			m.mu.Lock()
			m.started[phaseKey(ev)] = ev.At
			m.mu.Unlock()
		}
	case domain.EventPhaseWritten:
		if ev.Phase == nil {
			return
		}
		m.mu.Lock()
		start, ok := m.started[phaseKey(ev)]
		delete(m.started, phaseKey(ev))
		m.mu.Unlock()
		if ok {
			m.PhaseDuration.WithLabelValues(ev.Phase.Slug).Observe(ev.At.Sub(start).Seconds())
		}
	case domain.EventPollSample:
		m.Polls.Inc()
		if ev.Poll != nil && ev.Poll.Error != "" {
			m.QueryErrors.Inc()
		}
	case domain.EventTelemetryCollected:
		for _, e := range ev.Telemetry {
			if e.Error != "" {
				m.QueryErrors.Inc()
			}
		}
	case domain.EventRunFinished:
		state := "none"
		if ev.Run != nil {
			switch {
			case ev.Run.State != "":
				state = string(ev.Run.State)
			case ev.Run.Status != "":
				state = string(ev.Run.Status)
			}
		}
		m.Runs.WithLabelValues(state).Inc()
	}
}

func phaseKey(ev domain.Event) string {
	return ev.RunID + "/" + ev.Phase.Slug
}
