package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/report"
	"github.com/hochfrequenz/gastown-harness/internal/runstore"
)

// RunDetailResponse is the API response for a single run
type RunDetailResponse struct {
	Run       *domain.RunInfo         `json:"run"`
	Phases    []domain.PhaseRecord    `json:"phases"`
	Polls     []domain.PollSample     `json:"polls"`
	Telemetry []domain.TelemetryEntry `json:"telemetry"`
}

// LatestResponse is the API response for the latest link
type LatestResponse struct {
	Key string          `json:"key"`
	Dir string          `json:"dir"`
	Run *domain.RunInfo `json:"run,omitempty"`
}

var reportFilePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.(md|log)$`)

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := runstore.ListOptions{Limit: 20}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}
		if v := r.URL.Query().Get("state"); v != "" {
			opts.State = domain.ParseWorkUnitState(v)
		}
		if v := r.URL.Query().Get("status"); v != "" {
			opts.Status = domain.RunStatus(v)
		}

		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []*domain.RunInfo{}
		}
		writeJSON(w, runs)
	}
}

// runHandler serves /api/runs/{id} and /api/runs/{id}/phases/{file}
func (s *Server) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		parts := strings.Split(path, "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			s.getRun(w, parts[0])
		case len(parts) == 3 && parts[1] == "phases":
			s.getPhaseFile(w, parts[0], parts[2])
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getRun(w http.ResponseWriter, id string) {
	run, err := s.store.GetRun(id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := RunDetailResponse{Run: run}
	if resp.Phases, err = s.store.ListPhases(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.Polls, err = s.store.ListPolls(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.Telemetry, err = s.store.ListTelemetry(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (s *Server) getPhaseFile(w http.ResponseWriter, id, file string) {
	if !reportFilePattern.MatchString(file) {
		writeError(w, http.StatusBadRequest, "invalid report file name")
		return
	}
	run, err := s.store.GetRun(id)
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := os.ReadFile(filepath.Join(s.reportsDir, run.Key, file))
	if os.IsNotExist(err) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}

func (s *Server) latestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		key, err := report.Latest(s.reportsDir)
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no finished run yet")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := LatestResponse{Key: key, Dir: filepath.Join(s.reportsDir, key)}
		if run, err := s.store.GetRunByKey(key); err == nil {
			resp.Run = run
		}
		writeJSON(w, resp)
	}
}
