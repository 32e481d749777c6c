package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/advisor"
	"github.com/hochfrequenz/gastown-harness/internal/convoy"
	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/gastown"
	"github.com/hochfrequenz/gastown-harness/internal/report"
	"github.com/hochfrequenz/gastown-harness/internal/shell"
	"github.com/hochfrequenz/gastown-harness/internal/stack"
	"github.com/hochfrequenz/gastown-harness/internal/telemetry"
)

// Phase 1: tear the observability stack down and drop its volumes
func (p *Pipeline) resetOtel(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	doc.P("Stops the docker-compose stack and removes all named volumes " +
		"so the next run starts with a completely clean telemetry slate.")

	r := p.Compose.Reset(ctx)

	doc.H2("docker compose down")
	cmd(doc, r.Down)
	doc.H2("Remove volumes")
	if r.VolumeRm.Name != "" {
		cmd(doc, r.VolumeRm)
	} else {
		doc.P("No volumes configured.")
	}
	cmd(doc, r.VolumeLs)

	if !r.OK() {
		p.Log.Warn("stack reset was not clean, continuing", "project", p.Compose.Project())
	}
	return r.OK(), nil
}

// Phase 2: stop the Mayor
func (p *Pipeline) resetGastown(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	doc.P("Stops the Mayor session so the next run starts clean.", "",
		fmt.Sprintf("Global town root: `%s`", p.Config.General.TownDir))

	doc.H2("Mayor status before reset")
	state, res := p.Gastown.MayorStatus(ctx)
	doc.Code(res.Output, "")
	doc.P("Decoded state: " + state.String())

	doc.H2("Stop Mayor")
	stop := p.Gastown.MayorStop(ctx)
	cmd(doc, stop)

	// A mayor that was not running refuses to stop; that is still a clean slate.
	return stop.OK() || state == gastown.MayorStopped, nil
}

// Phase 3: start the stack, wait for its health endpoints, launch the trace daemon
func (p *Pipeline) startOtel(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	cfg := p.Config.Stack

	var up shell.Result
	start := func(ctx context.Context) error {
		up = p.Compose.Up(ctx)
		if !up.OK() {
			return fmt.Errorf("docker compose up: exit %d", up.ExitCode)
		}
		return nil
	}

	probes := p.ServiceProbes
	if probes == nil {
		probes = []stack.Probe{
			stack.HTTPProbe{Service: "VictoriaMetrics", URL: cfg.VMURL + "/health"},
			stack.HTTPProbe{Service: "VictoriaLogs", URL: cfg.VLURL + "/health"},
		}
	}
	b := stack.NewBootstrapper(start, cfg.HealthInterval.Std(), p.Log, probes...)
	b.SetClock(p.now, p.sleep)

	ready, bootErr := b.Start(ctx, cfg.HealthTimeout.Std())

	doc.H2("docker compose up")
	cmd(doc, up)
	if up.ExitCode != 0 {
		doc.Blockquote(fmt.Sprintf("⚠ docker compose up returned %d", up.ExitCode))
	}

	statuses := ready.Services
	if be, ok := asBootstrapError(bootErr); ok {
		statuses = be.Services
	}

	ok := bootErr == nil
	if ok {
		doc.H2("gastown-trace")
		d, err := p.Trace.Launch(ctx, report.TraceLogPath(st.run))
		st.trace = d
		switch {
		case err != nil:
			doc.P("FAILED TO START: " + err.Error())
			p.Log.Warn("trace daemon did not start", "error", err)
		case !d.Alive:
			doc.P(fmt.Sprintf("PID %d → %s: FAILED TO START (%v)", d.PID, d.URL, d.ExitErr))
			p.Log.Warn("trace daemon exited", "pid", d.PID, "error", d.ExitErr)
		default:
			doc.P(fmt.Sprintf("PID %d → %s: running", d.PID, d.URL))
			p.Log.Info("trace daemon running", "pid", d.PID, "url", d.URL)
		}
	}

	doc.H2("OTEL Environment")
	doc.Code(envLines(p.Gastown.Env()), "")

	doc.H2("Services Health")
	rows := make([][]string, 0, len(statuses)+2)
	for i, s := range statuses {
		url := ""
		if hp, isHTTP := probes[i].(stack.HTTPProbe); isHTTP {
			url = hp.URL
		}
		status := "UNREACHABLE"
		if s.Ready {
			status = fmt.Sprintf("OK after %s (%d attempts)", s.After.Round(time.Millisecond), s.Attempts)
		} else if s.LastErr != nil {
			status += ": " + s.LastErr.Error()
		}
		rows = append(rows, []string{s.Name, url, status})
	}
	traceStatus := "not started"
	if st.trace.Alive {
		traceStatus = fmt.Sprintf("PID %d", st.trace.PID)
	} else if st.trace.PID > 0 {
		traceStatus = "FAILED"
	}
	rows = append(rows,
		[]string{"gastown-trace", traceURL(cfg.TracePort), traceStatus},
		[]string{"Grafana", cfg.GrafanaURL, "started (may take 10s)"},
	)
	doc.Table([]string{"Service", "URL", "Status"}, rows)

	if bootErr != nil {
		return false, bootErr
	}
	return st.trace.Alive, nil
}

// Phase 4: start the Mayor and wait until it reports running
func (p *Pipeline) startMayor(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	doc.P(fmt.Sprintf("Starting Mayor in global town: `%s`", p.Config.General.TownDir))

	var startRes, lastStatus shell.Result
	start := func(ctx context.Context) error {
		startRes = p.Gastown.MayorStart(ctx)
		if !startRes.OK() {
			return fmt.Errorf("gt mayor start: exit %d", startRes.ExitCode)
		}
		return nil
	}
	probe := stack.CheckFunc{Service: "mayor", Fn: func(ctx context.Context) error {
		state, res := p.Gastown.MayorStatus(ctx)
		lastStatus = res
		if state != gastown.MayorRunning {
			return fmt.Errorf("mayor %s", state)
		}
		return nil
	}}

	b := stack.NewBootstrapper(start, p.Config.Stack.HealthInterval.Std(), p.Log, probe)
	b.SetClock(p.now, p.sleep)
	_, err := b.Start(ctx, p.Config.Stack.HealthTimeout.Std())

	doc.H2("gt mayor start")
	cmd(doc, startRes)
	doc.H2("Waiting for Mayor")
	doc.Code(lastStatus.Output, "")

	if err != nil {
		doc.Status(false, fmt.Sprintf("Mayor not ready after %s", p.Config.Stack.HealthTimeout.Std()))
		return false, err
	}
	doc.Status(true, "Mayor running")
	return true, nil
}

// Phase 5: hand the scenario prompt to the Mayor
func (p *Pipeline) launchTest(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	st.testStart = p.now()

	prompt, err := readPrompt(p.Config.General.PromptFile)
	if err != nil {
		return false, err
	}

	doc.H2("Prompt Content")
	doc.Write(prompt + "\n\n---\n\n")

	strategy := p.Injector.Strategy().Name()
	target := p.Config.Inject.Target
	doc.H2("Delivery (" + strategy + ")")

	ack, err := p.Injector.Inject(ctx, prompt, target)
	st.ack = ack
	for _, a := range ack.Attempts {
		if a.Err != nil {
			doc.P(fmt.Sprintf("- attempt `%s` failed: %v", a.Strategy, a.Err))
		} else {
			doc.P(fmt.Sprintf("- attempt `%s` delivered", a.Strategy))
		}
	}
	if err != nil {
		doc.Status(false, fmt.Sprintf("Delivery to %s failed", target))
		return false, err
	}

	doc.Cmd(fmt.Sprintf("gt %s %s <%s content>", ack.Strategy, target, p.Config.General.PromptFile), ack.Output)
	doc.Status(true, fmt.Sprintf("Delivered via %s", ack.Strategy))
	return true, nil
}

// Phase 6: poll the convoy until it lands, fails or the deadline passes
func (p *Pipeline) waitConvoy(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	cfg := p.Config.Convoy
	unit := convoy.WorkUnit{Name: cfg.Name, Match: cfg.Match}

	doc.Blockquote(fmt.Sprintf("Polling every %s, timeout %s", p.Poller.Interval, p.Poller.Deadline))
	doc.H2("Poll Log")

	p.Poller.OnSample = func(s convoy.Sample) {
		line := fmt.Sprintf("- `%s` [%s] **%s**", s.At.Format("15:04:05"), s.Elapsed.Round(time.Second), s.State)
		if s.Label != "" {
			line += " (" + s.Label + ")"
		}
		poll := domain.PollSample{
			Poll:      s.Poll,
			At:        s.At,
			ElapsedMS: s.Elapsed.Milliseconds(),
			Label:     s.Label,
			State:     s.State,
		}
		if s.Err != nil {
			line += ": query failed: " + s.Err.Error()
			poll.Error = s.Err.Error()
		}
		doc.Write(line + "\n")
		p.emit(domain.Event{Type: domain.EventPollSample, RunID: st.run.ID, At: s.At, Poll: &poll})
	}
	defer func() { p.Poller.OnSample = nil }()

	out, err := p.Poller.Wait(ctx, unit)
	st.outcome = out
	doc.Write("\n")

	if err != nil {
		// Cancelled. The diagnostics below would only fail too.
		return false, err
	}

	doc.H2("Convoy Status")
	doc.Code(p.Gastown.ConvoyList(ctx).Output, "")
	doc.H2("Doctor")
	doc.Code(p.Gastown.Doctor(ctx).Output, "")
	doc.H2("Recent Agent Activity")
	doc.Code(p.Gastown.TrailCommits(ctx, 20).Output, "")

	elapsed := out.Elapsed.Round(time.Second)
	switch out.State {
	case domain.StateLanded:
		doc.Blockquote(fmt.Sprintf("Convoy **LANDED** ✓ after %s", elapsed))
	case domain.StateFailed:
		doc.Blockquote(fmt.Sprintf("⚠ Convoy **FAILED** after %s", elapsed))
	default:
		doc.Blockquote(fmt.Sprintf("⚠ Timeout after %s, convoy still open", elapsed))
	}
	if out.Errors > 0 {
		doc.P(fmt.Sprintf("%d of %d status queries failed.", out.Errors, out.Polls))
	}
	return out.State == domain.StateLanded, nil
}

// Phase 7: run the telemetry catalog
func (p *Pipeline) collectTelemetry(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	sample := p.Collector.Collect(ctx, p.Catalog.Queries())
	st.sample = sample
	p.emit(domain.Event{Type: domain.EventTelemetryCollected, RunID: st.run.ID, Telemetry: sample.Entries()})

	i := 0
	for _, g := range p.Catalog.Groups {
		results := sample[i : i+len(g.Queries)]
		i += len(g.Queries)

		title := g.Name
		if g.Lang == domain.LangLogsQL {
			title = "VictoriaLogs: " + g.Name
		}
		doc.H2(title)

		if g.Lang == domain.LangLogsQL {
			rows := make([][]string, len(results))
			for j, r := range results {
				n := "?"
				if r.OK() {
					n = strconv.Itoa(r.Count)
				}
				rows[j] = []string{r.Query.Name, n}
			}
			doc.Table([]string{"Event type", "Count"}, rows)
			continue
		}

		blocks := make([]string, len(results))
		for j, r := range results {
			val := r.Value
			if !r.OK() {
				val = "(query failed: " + r.Err.Error() + ")"
			}
			blocks[j] = r.Query.Name + ":\n" + indent(val)
		}
		doc.Code(strings.Join(blocks, "\n\n"), "")
	}

	cfg := p.Config.Stack
	doc.H2("Explore Further")
	doc.Table([]string{"What", "URL"}, [][]string{
		{"All gastown events", advisor.VMUIURL(cfg.VLURL, "service_name:gastown")},
		{"Live-tail", advisor.VMUIURL(cfg.VLURL, "service_name:gastown") + "&view=liveTailing"},
		{"Errors", advisor.VMUIURL(cfg.VLURL, advisor.ErrorQuery)},
		{"Claude Code", advisor.VMUIURL(cfg.VLURL, "service.name:claude-code")},
		{"Metrics VMUI", cfg.VMURL + "/vmui/#/?query=gastown_bd_calls_total"},
		{"Grafana", cfg.GrafanaURL},
		{"gastown-trace", traceURL(cfg.TracePort)},
	})

	if failed := sample.Failed(); failed > 0 {
		doc.P(fmt.Sprintf("%d of %d queries failed.", failed, len(sample)))
		return false, nil
	}
	return true, nil
}

// Phase 8: summarize and advise
func (p *Pipeline) recommend(ctx context.Context, st *runState, doc *report.Doc) (bool, error) {
	scalars := p.Collector.Scalars(ctx, p.Catalog.Summary)
	errorEvents := -1
	if v, ok := scalars[telemetry.SummaryErrorEvents]; ok {
		errorEvents = int(v)
	}

	cfg := p.Config
	s := advisor.Summary{
		State:            st.outcome.State,
		ConvoyName:       cfg.Convoy.Name,
		Waited:           st.outcome.Elapsed,
		TestDuration:     p.now().Sub(st.testStart),
		Deadline:         p.Poller.Deadline,
		SessionStarts:    scalars[telemetry.SummarySessionStarts],
		PolecatSpawns:    scalars[telemetry.SummaryPolecatSpawns],
		InputTokens:      scalars[telemetry.SummaryInputTokens],
		OutputTokens:     scalars[telemetry.SummaryOutputTokens],
		ErrorEvents:      errorEvents,
		ExpectedPolecats: cfg.Convoy.ExpectedPolecats,
		TokenWarning:     cfg.Telemetry.TokenWarning,
		TownDir:          cfg.General.TownDir,
		PromptFile:       cfg.General.PromptFile,
		VLURL:            cfg.Stack.VLURL,
		GrafanaURL:       cfg.Stack.GrafanaURL,
		TraceURL:         traceURL(cfg.Stack.TracePort),
		TracePID:         st.trace.PID,
	}
	st.summary = s

	doc.H2("Run Summary")
	doc.Table([]string{"Metric", "Value"}, advisor.Table(s))

	doc.H2("Recommendations")
	for _, r := range advisor.Advise(s) {
		doc.H3(r.Heading())
		if r.Body != "" {
			doc.P(r.Body)
		}
		if r.Code != "" {
			doc.Code(r.Code, r.Lang)
		}
	}
	doc.Write(fmt.Sprintf("\n---\n\n*Generated by `gastown-harness` at %s*\n\n", p.now().Format(report.TimestampLayout)))
	return true, nil
}

func cmd(doc *report.Doc, r shell.Result) {
	out := r.Output
	if r.Err != nil && out == "" {
		out = r.Err.Error()
	}
	doc.Cmd(r.Cmdline(), out)
}

func envLines(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + env[k]
	}
	return strings.Join(lines, "\n")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func asBootstrapError(err error) (*stack.BootstrapError, bool) {
	var be *stack.BootstrapError
	ok := errors.As(err, &be)
	return be, ok
}
