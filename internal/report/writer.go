package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

var (
	// ErrPhaseExists is returned when a phase file is already on disk
	ErrPhaseExists = errors.New("phase report already exists")
	// ErrPhaseOrder is returned for a phase index that is unknown or not after the last one written
	ErrPhaseOrder = errors.New("phase written out of order")
	// ErrIncompleteRun is returned by Finalize when a written phase file has gone missing
	ErrIncompleteRun = errors.New("run is missing phase reports")
)

// Writer persists phase reports into run directories
type Writer struct {
	mu  sync.Mutex
	now func() time.Time
}

// NewWriter creates a Writer
func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// SetClock replaces the time source used for WrittenAt
func (w *Writer) SetClock(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// WritePhase writes the report for phase index. Files are created
// exclusively; an existing file is never overwritten.
func (w *Writer) WritePhase(run *domain.Run, index int, body string, ok bool) (domain.PhaseRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	spec, known := domain.PhaseByIndex(index)
	if !known || index <= run.LastPhase() {
		return domain.PhaseRecord{}, fmt.Errorf("%w: phase %d after %d", ErrPhaseOrder, index, run.LastPhase())
	}

	name := domain.PhaseFileName(spec.Index, spec.Slug)
	if err := writeExclusive(filepath.Join(run.Dir, name), body); err != nil {
		return domain.PhaseRecord{}, err
	}

	rec := domain.PhaseRecord{
		Index:     spec.Index,
		Slug:      spec.Slug,
		Title:     spec.Title,
		File:      name,
		OK:        ok,
		WrittenAt: w.now(),
	}
	run.Phases = append(run.Phases, rec)
	return rec, nil
}

func writeExclusive(path, body string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrPhaseExists, filepath.Base(path))
		}
		return fmt.Errorf("create report: %w", err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Finalize points reportsDir/latest at the run. Every phase file must
// exist. The link is created under a temporary name and renamed over the
// old one, so readers never see it missing.
func (w *Writer) Finalize(run *domain.Run) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var missing []string
	for _, spec := range domain.Phases {
		name := domain.PhaseFileName(spec.Index, spec.Slug)
		if _, err := os.Stat(filepath.Join(run.Dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrIncompleteRun, missing)
	}

	reportsDir := filepath.Dir(run.Dir)
	tmp := filepath.Join(reportsDir, LatestLink+".tmp-"+run.Key.String()+"-"+strconv.Itoa(os.Getpid()))
	_ = os.Remove(tmp)

	if err := os.Symlink(filepath.Base(run.Dir), tmp); err != nil {
		return fmt.Errorf("create latest link: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(reportsDir, LatestLink)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap latest link: %w", err)
	}
	return nil
}

// Link is one row of the README quick-links table
type Link struct {
	Name string
	URL  string
}

// WriteIndex writes README.md for the run: the phase table plus links
func (w *Writer) WriteIndex(run *domain.Run, links []Link, notes ...string) error {
	doc := NewDoc("Gastown Test Run: "+run.Key.String(), w.now)
	doc.H2("Overview")
	doc.P("Full test cycle: OTEL reset, Gastown reset, stack start, test suite, recommendations.")

	written := make(map[int]domain.PhaseRecord, len(run.Phases))
	for _, p := range run.Phases {
		written[p.Index] = p
	}

	doc.H2("Reports")
	rows := make([][]string, 0, len(domain.Phases))
	for _, spec := range domain.Phases {
		name := domain.PhaseFileName(spec.Index, spec.Slug)
		status := "not written"
		if rec, ok := written[spec.Index]; ok {
			status = "✓"
			if !rec.OK {
				status = "⚠"
			}
		}
		rows = append(rows, []string{strconv.Itoa(spec.Index), "[" + name + "](" + name + ")", spec.Label, status})
	}
	doc.Table([]string{"#", "File", "Phase", "Status"}, rows)

	if len(links) > 0 {
		doc.H2("Quick Links")
		lrows := make([][]string, len(links))
		for i, l := range links {
			lrows[i] = []string{l.Name, l.URL}
		}
		doc.Table([]string{"Service", "URL"}, lrows)
	}
	if len(notes) > 0 {
		doc.P(notes...)
	}

	path := filepath.Join(run.Dir, IndexFile)
	if err := os.WriteFile(path, []byte(doc.String()), 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
