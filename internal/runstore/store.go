// Package runstore keeps the history of harness runs in SQLite.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// ErrNotFound is returned when a run ID is unknown
var ErrNotFound = errors.New("run not found")

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection serializes writes and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run as it starts
func (s *Store) CreateRun(run domain.RunInfo) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, key, dir, started_at, deadline_ms, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Key,
		run.Dir,
		run.StartedAt,
		run.Deadline.Milliseconds(),
		string(run.Status),
	)
	return err
}

// FinishRun records the end state of a run
func (s *Store) FinishRun(run domain.RunInfo) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, state = ?, exit_code = ?, error = ?
		WHERE id = ?
	`, finished, string(run.Status), string(run.State), run.ExitCode, run.Error, run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, run.ID)
	}
	return nil
}

// RecordPhase stores a written phase report
func (s *Store) RecordPhase(runID string, p domain.PhaseRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO phases (run_id, idx, slug, title, file, ok, written_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			ok = excluded.ok,
			written_at = excluded.written_at
	`, runID, p.Index, p.Slug, p.Title, p.File, p.OK, p.WrittenAt)
	return err
}

// RecordPoll stores one completion poll
func (s *Store) RecordPoll(runID string, p domain.PollSample) error {
	_, err := s.db.Exec(`
		INSERT INTO polls (run_id, poll, at, elapsed_ms, label, state, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, p.Poll, p.At, p.ElapsedMS, p.Label, string(p.State), p.Error)
	return err
}

// RecordTelemetry stores the results of one collection pass
func (s *Store) RecordTelemetry(runID string, entries []domain.TelemetryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO telemetry (run_id, name, grp, lang, expr, value, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(runID, e.Name, e.Group, string(e.Lang), e.Expr, e.Value, e.Error); err != nil {
			return fmt.Errorf("insert telemetry %q: %w", e.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, key, dir, started_at, finished_at, deadline_ms, status, state, exit_code, error`

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*domain.RunInfo, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// GetRunByKey retrieves a run by its directory name
func (s *Store) GetRunByKey(key string) (*domain.RunInfo, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE key = ? ORDER BY started_at DESC LIMIT 1`, key)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return run, err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Limit  int
	State  domain.WorkUnitState
	Status domain.RunStatus
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(opts ListOptions) ([]*domain.RunInfo, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}

	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunInfo
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListPhases returns the phase records of a run in order
func (s *Store) ListPhases(runID string) ([]domain.PhaseRecord, error) {
	rows, err := s.db.Query(`
		SELECT idx, slug, title, file, ok, written_at FROM phases WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []domain.PhaseRecord
	for rows.Next() {
		var p domain.PhaseRecord
		var title sql.NullString
		var written sql.NullTime
		if err := rows.Scan(&p.Index, &p.Slug, &title, &p.File, &p.OK, &written); err != nil {
			return nil, err
		}
		p.Title = title.String
		p.WrittenAt = written.Time
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// ListPolls returns the polls of a run in order
func (s *Store) ListPolls(runID string) ([]domain.PollSample, error) {
	rows, err := s.db.Query(`
		SELECT poll, at, elapsed_ms, label, state, error FROM polls WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []domain.PollSample
	for rows.Next() {
		var p domain.PollSample
		var label, state, errText sql.NullString
		var elapsed sql.NullInt64
		if err := rows.Scan(&p.Poll, &p.At, &elapsed, &label, &state, &errText); err != nil {
			return nil, err
		}
		p.ElapsedMS = elapsed.Int64
		p.Label = label.String
		p.State = domain.ParseWorkUnitState(state.String)
		p.Error = errText.String
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// ListTelemetry returns the stored query results of a run
func (s *Store) ListTelemetry(runID string) ([]domain.TelemetryEntry, error) {
	rows, err := s.db.Query(`
		SELECT name, grp, lang, expr, value, error FROM telemetry WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TelemetryEntry
	for rows.Next() {
		var e domain.TelemetryEntry
		var grp, value, errText sql.NullString
		var lang string
		if err := rows.Scan(&e.Name, &grp, &lang, &e.Expr, &value, &errText); err != nil {
			return nil, err
		}
		e.Group = grp.String
		e.Lang = domain.QueryLang(lang)
		e.Value = value.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunInfo, error) {
	var run domain.RunInfo
	var finished sql.NullTime
	var deadlineMS sql.NullInt64
	var status string
	var state, errText sql.NullString
	var exitCode sql.NullInt64

	err := row.Scan(&run.ID, &run.Key, &run.Dir, &run.StartedAt, &finished, &deadlineMS, &status, &state, &exitCode, &errText)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	run.Deadline = time.Duration(deadlineMS.Int64) * time.Millisecond
	run.Status = domain.RunStatus(status)
	if state.Valid && state.String != "" {
		run.State = domain.ParseWorkUnitState(state.String)
	}
	run.ExitCode = int(exitCode.Int64)
	run.Error = errText.String
	return &run, nil
}
