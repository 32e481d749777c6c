// Package advisor turns the numbers of a finished run into follow-up advice.
package advisor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// ErrorQuery is the LogsQL expression for gastown error events
const ErrorQuery = "service_name:gastown AND level:error"

// Summary is what a run measured
type Summary struct {
	State        domain.WorkUnitState
	ConvoyName   string
	Waited       time.Duration
	TestDuration time.Duration
	Deadline     time.Duration

	SessionStarts float64
	PolecatSpawns float64
	InputTokens   float64
	OutputTokens  float64
	// ErrorEvents is -1 when the log store could not be queried
	ErrorEvents int

	ExpectedPolecats int
	TokenWarning     int

	TownDir    string
	PromptFile string
	VLURL      string
	GrafanaURL string
	TraceURL   string
	TracePID   int
}

// Recommendation is one numbered piece of advice
type Recommendation struct {
	Number int
	Title  string
	Body   string
	Code   string
	Lang   string
}

// Heading returns the numbered title
func (r Recommendation) Heading() string {
	return fmt.Sprintf("%d. %s", r.Number, r.Title)
}

// VMUIURL links the VictoriaLogs UI to a query
func VMUIURL(vlURL, query string) string {
	return strings.TrimRight(vlURL, "/") + "/select/vmui/#/?query=" + url.QueryEscape(query)
}

// Table returns the run summary rows
func Table(s Summary) [][]string {
	landed := "Yes ✓"
	switch s.State {
	case domain.StateLanded:
	case domain.StateFailed:
		landed = "No (failed after " + roundSeconds(s.Waited) + ")"
	default:
		landed = "No (timeout at " + roundSeconds(s.Waited) + ")"
	}
	errs := "?"
	if s.ErrorEvents >= 0 {
		errs = humanize.Comma(int64(s.ErrorEvents))
	}
	return [][]string{
		{"Convoy landed", landed},
		{"Final state", string(s.State)},
		{"Total test duration", roundSeconds(s.TestDuration)},
		{"Claude sessions started", humanize.Comma(int64(s.SessionStarts))},
		{"Polecats spawned", humanize.Comma(int64(s.PolecatSpawns))},
		{"Input tokens", humanize.Comma(int64(s.InputTokens))},
		{"Output tokens", humanize.Comma(int64(s.OutputTokens))},
		{"Errors in logs", errs},
	}
}

func roundSeconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d.Round(time.Second)/time.Second))
}

// Advise returns the recommendations that apply to s, numbered in order
func Advise(s Summary) []Recommendation {
	var out []Recommendation
	add := func(r Recommendation) {
		r.Number = len(out) + 1
		out = append(out, r)
	}

	if s.State != domain.StateLanded {
		add(Recommendation{
			Title: "Convoy did not land: investigate agent states",
			Body:  fmt.Sprintf("The convoy %q ended %s and did not reach LANDED within %s.", s.ConvoyName, s.State, s.Deadline),
			Code: strings.Join([]string{
				"cd " + s.TownDir,
				"gt convoy list --all --tree   # full convoy state",
				"gt agents                      # list running sessions",
				"gt ready                       # work stuck as pending?",
				"gt doctor                      # health check",
			}, "\n"),
			Lang: "bash",
		})
	}

	if s.ErrorEvents > 0 {
		add(Recommendation{
			Title: fmt.Sprintf("%s error(s) detected in logs", humanize.Comma(int64(s.ErrorEvents))),
			Body:  fmt.Sprintf("Investigate in VictoriaLogs: [%s](%s)", "VMUI", VMUIURL(s.VLURL, ErrorQuery)),
			Code:  ErrorQuery,
			Lang:  "logsql",
		})
	}

	expected := s.ExpectedPolecats
	spawns := int(s.PolecatSpawns)
	switch {
	case spawns == 0:
		add(Recommendation{
			Title: "No polecats were spawned",
			Body: fmt.Sprintf("%s requires %d polecats. None were spawned.\n\n", s.PromptFile, expected) +
				"Possible causes: Mayor did not receive the prompt, Mayor session crashed, or rig initialization failed.\n\n" +
				"Attach to the Mayor: `gt mayor attach`",
		})
	case expected > 0 && spawns < expected:
		add(Recommendation{
			Title: fmt.Sprintf("Unexpected polecat count: %d (expected %d)", spawns, expected),
			Body:  fmt.Sprintf("Only %d/%d agents started. Check `gt ready` for unassigned issues.", spawns, expected),
		})
	case expected > 0 && spawns > expected:
		add(Recommendation{
			Title: fmt.Sprintf("Unexpected polecat count: %d (expected %d)", spawns, expected),
			Body:  fmt.Sprintf("%d polecats spawned. Mayor may have created retries or parallel tracks. Check `gt trail` and `gt convoy list --tree`.", spawns),
		})
	}

	if s.TokenWarning > 0 && s.InputTokens > float64(s.TokenWarning) {
		add(Recommendation{
			Title: fmt.Sprintf("High input token usage (%s tokens)", humanize.Comma(int64(s.InputTokens))),
			Body: "Consider:\n\n" +
				"- Run `gt compact` between test runs to clean expired wisps\n" +
				"- Review `gt prime` formula length and shorten boilerplate in agent context\n" +
				"- Check `gt costs` for per-session breakdown",
		})
	}

	add(Recommendation{
		Title: "Verify the scenario deliverables",
		Body:  "Once polecats are done, run the end-to-end chain from a shared working directory.",
		Code: strings.Join([]string{
			"cd " + s.TownDir,
			"gt rig list                          # find the polecat repos",
			"python alice.py && python bob.py && python eve.py",
		}, "\n"),
		Lang: "bash",
	})

	add(Recommendation{
		Title: "Check Claude Code OTLP coverage per agent",
		Body: "Each polecat session should emit telemetry tagged with `gt.role` and `gt.rig`. " +
			"A missing session did not inherit `CLAUDE_CODE_ENABLE_TELEMETRY=1`; " +
			"`GT_OTEL_METRICS_URL` must be exported before `gt mayor start`.",
		Code: "service.name:claude-code AND gt.role:*",
		Lang: "logsql",
	})

	traceBody := fmt.Sprintf("gastown-trace is running at **%s**", s.TraceURL)
	if s.TracePID > 0 {
		traceBody += fmt.Sprintf(" (PID %d)", s.TracePID)
	}
	add(Recommendation{
		Title: "Explore traces in gastown-trace",
		Body: traceBody + ".\n\nKey views:\n\n" +
			"- Session transcripts per polecat\n" +
			"- Bead lifecycle: issue open → in_progress → done\n" +
			"- Delegation chain: Mayor → polecats\n" +
			"- Cost breakdown per session",
	})

	add(Recommendation{
		Title: "Review Grafana dashboards",
		Body:  fmt.Sprintf("Open [Grafana](%s) (admin/admin) for pre-built dashboards.", s.GrafanaURL),
		Code: strings.Join([]string{
			"# bd calls per second",
			"rate(gastown_bd_calls_total[5m])",
			"",
			"# Polecat spawn rate",
			"increase(gastown_polecat_spawns_total[1h])",
			"",
			"# Token cost by model",
			"sum by (model)(bd_ai_input_tokens_total + bd_ai_output_tokens_total)",
		}, "\n"),
		Lang: "promql",
	})

	return out
}
