// Package pipeline runs the eight test phases against one Run and writes a
// report for every phase, including the ones an abort skipped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/advisor"
	"github.com/hochfrequenz/gastown-harness/internal/config"
	"github.com/hochfrequenz/gastown-harness/internal/convoy"
	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/gastown"
	"github.com/hochfrequenz/gastown-harness/internal/inject"
	"github.com/hochfrequenz/gastown-harness/internal/report"
	"github.com/hochfrequenz/gastown-harness/internal/shell"
	"github.com/hochfrequenz/gastown-harness/internal/stack"
	"github.com/hochfrequenz/gastown-harness/internal/telemetry"
)

// Exit codes of a harness run
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitPreflight   = 2
	ExitInterrupted = 130
)

// ErrPreflight marks configuration and environment problems found before a run starts
var ErrPreflight = errors.New("preflight failed")

// TraceStarter launches the trace daemon
type TraceStarter interface {
	Launch(ctx context.Context, logPath string) (stack.TraceDaemon, error)
}

// Pipeline holds every collaborator of a run. Fields are set by New and
// may be replaced before Execute.
type Pipeline struct {
	Config    *config.Config
	Gastown   *gastown.Client
	Compose   *stack.Compose
	Trace     TraceStarter
	Injector  *inject.Injector
	Poller    *convoy.Poller
	Collector *telemetry.Collector
	Catalog   *telemetry.Catalog
	Writer    *report.Writer
	Events    *domain.MultiSink
	Log       *slog.Logger
	// Console receives the phase banners; io.Discard by default
	Console io.Writer

	// ServiceProbes are checked in phase 3; nil means VictoriaMetrics and VictoriaLogs health endpoints
	ServiceProbes []stack.Probe

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Pipeline from cfg. runner executes docker and gt.
func New(cfg *config.Config, runner shell.Runner, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}

	gt := gastown.NewClient(runner, cfg.General.TownDir, gastown.OtelEnv(cfg.Stack.VMURL, cfg.Stack.VLURL))

	strategy, err := inject.ParseStrategy(cfg.Inject.Strategy, gt, cfg.Inject.Subject)
	if err != nil {
		return nil, err
	}

	prom, err := telemetry.NewPromQL(cfg.Stack.VMURL, nil)
	if err != nil {
		return nil, err
	}
	collector := telemetry.NewCollector(log).
		Register(domain.LangPromQL, prom).
		Register(domain.LangLogsQL, telemetry.NewLogsQL(cfg.Stack.VLURL, nil))

	catalog, err := telemetry.LoadCatalog(cfg.Telemetry.CatalogFile)
	if err != nil {
		return nil, err
	}

	dec := convoy.NewDecoder(cfg.Convoy.Success, cfg.Convoy.Failure)
	poller := convoy.NewPoller(convoy.GastownSource{Lister: gt, Decoder: dec}, cfg.Convoy.PollInterval.Std(), cfg.Convoy.Deadline.Std(), log)
	poller.Decoder = dec

	return &Pipeline{
		Config:  cfg,
		Gastown: gt,
		Compose: stack.NewCompose(runner, cfg.Stack.ComposeFile, cfg.Stack.Project, cfg.Stack.Volumes),
		Trace: stack.TraceLauncher{
			Bin:     cfg.Stack.TraceBin,
			LogsURL: cfg.Stack.VLURL,
			Port:    cfg.Stack.TracePort,
		},
		Injector:  inject.NewInjector(strategy, log),
		Poller:    poller,
		Collector: collector,
		Catalog:   catalog,
		Writer:    report.NewWriter(),
		Events:    domain.NewMultiSink(),
		Log:       log,
		Console:   io.Discard,
		now:       time.Now,
		sleep:     stack.Sleep,
	}, nil
}

// SetClock replaces the time source and sleeper of the pipeline and every
// waiting component it owns
func (p *Pipeline) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		p.now = now
		p.Writer.SetClock(now)
	}
	if sleep != nil {
		p.sleep = sleep
	}
	p.Poller.SetClock(now, sleep)
}

// Result is what Execute hands back to the caller
type Result struct {
	Run       *domain.Run
	State     domain.WorkUnitState
	Outcome   convoy.Outcome
	Telemetry domain.TelemetrySample
	Summary   advisor.Summary
	ExitCode  int
	Err       error
}

// Info returns the run's history record
func (r Result) Info() domain.RunInfo {
	var info domain.RunInfo
	if r.Run != nil {
		info = r.Run.Info()
	}
	info.State = r.State
	info.ExitCode = r.ExitCode
	if r.Err != nil {
		info.Error = r.Err.Error()
	}
	return info
}

// runState carries values between phases of one Execute call
type runState struct {
	run       *domain.Run
	trace     stack.TraceDaemon
	testStart time.Time
	ack       inject.Ack
	outcome   convoy.Outcome
	sample    domain.TelemetrySample
	summary   advisor.Summary
}

type phaseFunc func(ctx context.Context, st *runState, doc *report.Doc) (bool, error)

// Execute runs phases 1 to 8. A bootstrap or injection failure, or a
// cancelled ctx, stops the run: the failing phase's report is still
// written, every later phase gets a skip report, and the latest link is
// still moved. A convoy that times out or fails is not an error.
func (p *Pipeline) Execute(ctx context.Context, run *domain.Run) Result {
	st := &runState{run: run}
	p.emit(domain.Event{Type: domain.EventRunStarted, RunID: run.ID, Run: ptr(run.Info())})
	p.Log.Info("run started", "run", run.Key.String(), "dir", run.Dir, "deadline", run.Deadline)

	phases := []phaseFunc{
		p.resetOtel,
		p.resetGastown,
		p.startOtel,
		p.startMayor,
		p.launchTest,
		p.waitConvoy,
		p.collectTelemetry,
		p.recommend,
	}

	var fatal error
	for i, fn := range phases {
		spec := domain.Phases[i]
		if fatal != nil {
			p.writeSkipped(run, spec, fatal)
			continue
		}

		fmt.Fprintf(p.Console, "\n══ PHASE %d: %s ══\n", spec.Index, spec.Label)
		p.emit(domain.Event{Type: domain.EventPhaseStarted, RunID: run.ID, Phase: &domain.PhaseRecord{Index: spec.Index, Slug: spec.Slug, Title: spec.Title}})
		p.Log.Info("phase started", "phase", spec.Index, "name", spec.Label)

		doc := report.NewDoc(spec.Title, p.now)
		ok, err := fn(ctx, st, doc)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			ok = false
			fatal = err
			doc.Blockquote("**Error:** " + err.Error())
			p.Log.Error("phase failed, aborting run", "phase", spec.Index, "error", err)
		}
		doc.Close(ok)
		p.writePhase(run, spec, doc.String(), ok)
	}

	res := Result{
		Run:       run,
		State:     st.outcome.State,
		Outcome:   st.outcome,
		Telemetry: st.sample,
		Summary:   st.summary,
		Err:       fatal,
		ExitCode:  ExitCode(fatal),
	}
	if res.State == "" {
		res.State = domain.StatePending
	}

	p.finish(st, &res)
	return res
}

func (p *Pipeline) writePhase(run *domain.Run, spec domain.PhaseSpec, body string, ok bool) {
	rec, err := p.Writer.WritePhase(run, spec.Index, body, ok)
	if err != nil {
		p.Log.Error("writing phase report failed", "phase", spec.Index, "error", err)
		return
	}
	p.Log.Info("phase report written", "file", rec.File, "ok", ok)
	p.emit(domain.Event{Type: domain.EventPhaseWritten, RunID: run.ID, Phase: &rec})
}

func (p *Pipeline) writeSkipped(run *domain.Run, spec domain.PhaseSpec, cause error) {
	doc := report.NewDoc(spec.Title, p.now)
	doc.Blockquote("skipped: " + skipReason(cause))
	doc.Status(false, "Skipped")
	p.writePhase(run, spec, doc.String(), false)
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "run interrupted"
	case errors.Is(err, stack.ErrServicesUnready):
		return "bootstrap failed: " + err.Error()
	case errors.Is(err, inject.ErrInjection):
		return "injection failed: " + err.Error()
	}
	return err.Error()
}

func (p *Pipeline) finish(st *runState, res *Result) {
	run := st.run

	links := p.links()
	var notes []string
	if st.trace.PID > 0 {
		notes = append(notes, fmt.Sprintf("gastown-trace PID: %d (left running)", st.trace.PID))
	}
	if err := p.Writer.WriteIndex(run, links, notes...); err != nil {
		p.Log.Error("writing run index failed", "error", err)
	}
	if err := p.Writer.Finalize(run); err != nil {
		p.Log.Error("updating latest link failed", "error", err)
	}

	finished := p.now()
	run.FinishedAt = &finished
	switch {
	case res.Err == nil:
		run.Status = domain.RunCompleted
	case errors.Is(res.Err, context.Canceled):
		run.Status = domain.RunInterrupted
	default:
		run.Status = domain.RunAborted
	}

	p.emit(domain.Event{Type: domain.EventRunFinished, RunID: run.ID, Run: ptr(res.Info())})
	p.Log.Info("run finished",
		"run", run.Key.String(),
		"status", run.Status,
		"state", res.State,
		"duration", finished.Sub(run.StartedAt).Round(time.Second),
		"reports", run.Dir,
	)
}

func (p *Pipeline) links() []report.Link {
	cfg := p.Config.Stack
	return []report.Link{
		{Name: "gastown-trace", URL: traceURL(cfg.TracePort)},
		{Name: "Grafana", URL: cfg.GrafanaURL + " (admin/admin)"},
		{Name: "VictoriaMetrics VMUI", URL: cfg.VMURL + "/vmui/"},
		{Name: "VictoriaLogs live-tail", URL: advisor.VMUIURL(cfg.VLURL, "service_name:gastown") + "&view=liveTailing"},
	}
}

func traceURL(port int) string { return fmt.Sprintf("http://localhost:%d", port) }

func (p *Pipeline) emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = p.now()
	}
	p.Events.Emit(ev)
}

// ExitCode maps a run error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, ErrPreflight):
		return ExitPreflight
	}
	return ExitFailure
}

func ptr[T any](v T) *T { return &v }

// readPrompt loads the scenario prompt
func readPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}
