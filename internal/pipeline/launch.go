package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/config"
	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/notify"
	"github.com/hochfrequenz/gastown-harness/internal/report"
	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

// ParseLevel maps a --log-level value to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger returns a text logger writing to every w
func NewLogger(level slog.Level, w ...io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(io.MultiWriter(w...), &slog.HandlerOptions{Level: level}))
}

// LaunchOptions configures one end-to-end run
type LaunchOptions struct {
	Runner   shell.Runner
	Stdout   io.Writer
	Stderr   io.Writer
	Level    slog.Level
	Sinks    []domain.EventSink
	Notifier notify.Notifier
	// LookPath defaults to shell.LookPath
	LookPath func(names ...string) []string
	// Prepare may adjust the pipeline before it executes
	Prepare func(*Pipeline)
	Now     func() time.Time
}

// Launch does everything a single run needs: preflight, the run directory,
// the run log, the phases, and the final notification. Preflight problems
// return before any directory is created.
func Launch(ctx context.Context, cfg *config.Config, opts LaunchOptions) Result {
	if opts.Runner == nil {
		opts.Runner = shell.Exec{}
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.LookPath == nil {
		opts.LookPath = shell.LookPath
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	out := &teeWriter{writers: []io.Writer{opts.Stderr}}
	log := NewLogger(opts.Level, out)

	if err := Preflight(cfg, opts.LookPath, log); err != nil {
		return Result{Err: err, ExitCode: ExitPreflight}
	}
	p, err := New(cfg, opts.Runner, log)
	if err != nil {
		log.Error("cannot build pipeline", "error", err)
		return Result{Err: fmt.Errorf("%w: %w", ErrPreflight, err), ExitCode: ExitPreflight}
	}

	paths := domain.Paths{
		TownDir:     cfg.General.TownDir,
		OtelDir:     cfg.Stack.OtelDir,
		ComposeFile: cfg.Stack.ComposeFile,
		TraceBin:    cfg.Stack.TraceBin,
		PromptFile:  cfg.General.PromptFile,
	}
	run, err := report.NewRun(cfg.ReportsDir(), opts.Now(), cfg.Convoy.Deadline.Std(), paths)
	if err != nil {
		log.Error("cannot create run directory", "error", err)
		return Result{Err: err, ExitCode: ExitFailure}
	}

	logFile, err := os.OpenFile(report.LogPath(run), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("cannot open run log, logging to stderr only", "error", err)
	} else {
		defer logFile.Close()
		out.add(logFile)
	}

	p.Console = opts.Stdout
	fmt.Fprintf(opts.Stdout, "Reports: %s\n", run.Dir)
	for _, s := range opts.Sinks {
		p.Events.Add(s)
	}
	if opts.Prepare != nil {
		opts.Prepare(p)
	}

	res := p.Execute(ctx, run)

	n := notify.ForRun(res.Info(), report.IndexPath(run))
	if err := opts.Notifier.Send(n); err != nil {
		log.Warn("notification failed", "error", err)
	}
	return res
}

// teeWriter writes to a set of writers that can grow once the run log exists
type teeWriter struct {
	mu      sync.Mutex
	writers []io.Writer
}

func (t *teeWriter) add(w io.Writer) {
	t.mu.Lock()
	t.writers = append(t.writers, w)
	t.mu.Unlock()
}

func (t *teeWriter) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.writers {
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}
