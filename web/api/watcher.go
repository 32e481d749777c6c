package api

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// ReportWatcher watches the reports directory and emits a report_changed
// event per changed file once writes settle
type ReportWatcher struct {
	watcher  *fsnotify.Watcher
	root     string
	sink     domain.EventSink
	debounce time.Duration
	log      *slog.Logger

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReportWatcher watches root and every run directory under it. root is
// created when missing.
func NewReportWatcher(root string, sink domain.EventSink, log *slog.Logger) (*ReportWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	rw := &ReportWatcher{
		watcher:  watcher,
		root:     root,
		sink:     sink,
		debounce: 500 * time.Millisecond,
		log:      log,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(root, e.Name())); err != nil {
				log.Warn("cannot watch run directory", "dir", e.Name(), "error", err)
			}
		}
	}
	return rw, nil
}

// SetDebounce sets how long writes must be quiet before events go out
func (rw *ReportWatcher) SetDebounce(d time.Duration) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.debounce = d
}

// Start begins watching until ctx is done or Stop is called
func (rw *ReportWatcher) Start(ctx context.Context) {
	ctx, rw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(rw.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rw.watcher.Events:
				if !ok {
					return
				}
				rw.handleEvent(event)
			case err, ok := <-rw.watcher.Errors:
				if !ok {
					return
				}
				rw.log.Warn("report watcher error", "error", err)
			}
		}
	}()
}

// Stop stops watching and waits for the event loop to exit
func (rw *ReportWatcher) Stop() {
	if rw.cancel != nil {
		rw.cancel()
		<-rw.done
	}
	rw.watcher.Close()

	rw.mu.Lock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.mu.Unlock()
}

func (rw *ReportWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// A new run directory: watch it so its phase files are seen.
	if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == rw.root {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := rw.watcher.Add(event.Name); err != nil {
				rw.log.Warn("cannot watch run directory", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".md") {
		return
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.pending[event.Name] = struct{}{}
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, rw.flush)
}

func (rw *ReportWatcher) flush() {
	rw.mu.Lock()
	pending := rw.pending
	rw.pending = make(map[string]struct{})
	rw.mu.Unlock()

	if rw.sink == nil {
		return
	}

	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		rel, err := filepath.Rel(rw.root, f)
		if err != nil {
			rel = f
		}
		rw.sink.Emit(domain.Event{Type: domain.EventReportChanged, At: time.Now(), Path: filepath.ToSlash(rel)})
	}
}
