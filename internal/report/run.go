// Package report lays out run directories and writes markdown phase reports.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Names of the non-phase files in a run directory
const (
	IndexFile    = "README.md"
	LogFile      = "run.log"
	TraceLogFile = "gastown-trace.log"
	LatestLink   = "latest"
)

// maxCollisions bounds the -N suffix search for runs started in the same second
const maxCollisions = 1000

// NewRun creates a fresh run directory under reportsDir named by the start
// time. An existing directory is never reused.
func NewRun(reportsDir string, now time.Time, deadline time.Duration, paths domain.Paths) (*domain.Run, error) {
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}

	key := domain.NewRunKey(now)
	for i := 0; i < maxCollisions; i++ {
		dir := filepath.Join(reportsDir, key.String())
		err := os.Mkdir(dir, 0755)
		if err == nil {
			paths.ReportsDir = reportsDir
			return &domain.Run{
				ID:        uuid.NewString(),
				Key:       key,
				Dir:       dir,
				StartedAt: now,
				Deadline:  deadline,
				Paths:     paths,
				Status:    domain.RunRunning,
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create run dir: %w", err)
		}
		key = key.Next()
	}
	return nil, fmt.Errorf("create run dir: %d runs already started at %s", maxCollisions, now.Format(domain.RunKeyLayout))
}

// LogPath returns the path of the run's log file
func LogPath(run *domain.Run) string { return filepath.Join(run.Dir, LogFile) }

// TraceLogPath returns the path the trace daemon logs to
func TraceLogPath(run *domain.Run) string { return filepath.Join(run.Dir, TraceLogFile) }

// Latest resolves the latest link in reportsDir to a run directory name
func Latest(reportsDir string) (string, error) {
	target, err := os.Readlink(filepath.Join(reportsDir, LatestLink))
	if err != nil {
		return "", err
	}
	return filepath.Base(target), nil
}

// IndexPath returns the path of the run's README
func IndexPath(run *domain.Run) string { return filepath.Join(run.Dir, IndexFile) }
