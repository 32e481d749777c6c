// Package api serves run history, raw phase reports and live pipeline
// events over HTTP, SSE and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/runstore"
)

// Store interface for database operations
type Store interface {
	ListRuns(opts runstore.ListOptions) ([]*domain.RunInfo, error)
	GetRun(id string) (*domain.RunInfo, error)
	GetRunByKey(key string) (*domain.RunInfo, error)
	ListPhases(runID string) ([]domain.PhaseRecord, error)
	ListPolls(runID string) ([]domain.PollSample, error)
	ListTelemetry(runID string) ([]domain.TelemetryEntry, error)
}

// Server is the HTTP API server
type Server struct {
	store      Store
	reportsDir string
	addr       string
	hub        *Hub
	metrics    http.Handler
	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewServer creates a new API server. metrics may be nil.
func NewServer(store Store, reportsDir, addr string, hub *Hub, metrics http.Handler, log *slog.Logger) *Server {
	if hub == nil {
		hub = NewHub()
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:      store,
		reportsDir: reportsDir,
		addr:       addr,
		hub:        hub,
		metrics:    metrics,
		mux:        http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/latest", s.latestHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

// Hub returns the event hub clients subscribe to
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
