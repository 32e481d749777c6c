package advisor

import (
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

func baseSummary() Summary {
	return Summary{
		State:            domain.StateLanded,
		ConvoyName:       "The Crypto Tales",
		Waited:           20 * time.Minute,
		TestDuration:     21 * time.Minute,
		Deadline:         time.Hour,
		SessionStarts:    4,
		PolecatSpawns:    3,
		InputTokens:      50_000,
		OutputTokens:     9_000,
		ErrorEvents:      0,
		ExpectedPolecats: 3,
		TokenWarning:     100_000,
		TownDir:          "/home/u/gt",
		PromptFile:       "PROMPT1.md",
		VLURL:            "http://localhost:9428",
		GrafanaURL:       "http://localhost:9429",
		TraceURL:         "http://localhost:7428",
	}
}

func titles(recs []Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Heading()
	}
	return out
}

func TestAdvise_HealthyRunHasOnlyStandingAdvice(t *testing.T) {
	recs := Advise(baseSummary())
	if len(recs) != 4 {
		t.Fatalf("got %d recommendations, want 4: %v", len(recs), titles(recs))
	}
	if recs[0].Heading() != "1. Verify the scenario deliverables" {
		t.Errorf("first = %q", recs[0].Heading())
	}
	if recs[3].Number != 4 {
		t.Errorf("last Number = %d, want 4", recs[3].Number)
	}
}

func TestAdvise_ProblemsComeFirstAndNumberSequentially(t *testing.T) {
	s := baseSummary()
	s.State = domain.StateTimedOut
	s.ErrorEvents = 1234
	s.PolecatSpawns = 0
	s.InputTokens = 250_000

	recs := Advise(s)
	got := titles(recs)
	want := []string{
		"1. Convoy did not land: investigate agent states",
		"2. 1,234 error(s) detected in logs",
		"3. No polecats were spawned",
		"4. High input token usage (250,000 tokens)",
		"5. Verify the scenario deliverables",
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("recommendation %d = %q, want %q", i, got[i], w)
		}
	}
	if !strings.Contains(recs[1].Body, "query=service_name%3Agastown+AND+level%3Aerror") {
		t.Errorf("error body missing VMUI link: %s", recs[1].Body)
	}
}

func TestAdvise_PolecatCount(t *testing.T) {
	tests := []struct {
		spawns float64
		want   string
	}{
		{2, "Only 2/3 agents started"},
		{5, "5 polecats spawned"},
	}
	for _, tt := range tests {
		s := baseSummary()
		s.PolecatSpawns = tt.spawns
		recs := Advise(s)
		if !strings.HasPrefix(recs[0].Title, "Unexpected polecat count") {
			t.Errorf("spawns=%v: first = %q", tt.spawns, recs[0].Title)
			continue
		}
		if !strings.Contains(recs[0].Body, tt.want) {
			t.Errorf("spawns=%v: body = %q, want %q", tt.spawns, recs[0].Body, tt.want)
		}
	}
}

func TestTable(t *testing.T) {
	s := baseSummary()
	s.State = domain.StateTimedOut
	s.Waited = time.Hour
	s.InputTokens = 1_234_567
	s.ErrorEvents = -1

	rows := Table(s)
	get := func(metric string) string {
		for _, r := range rows {
			if r[0] == metric {
				return r[1]
			}
		}
		return ""
	}
	if got := get("Convoy landed"); got != "No (timeout at 3600s)" {
		t.Errorf("Convoy landed = %q", got)
	}
	if got := get("Input tokens"); got != "1,234,567" {
		t.Errorf("Input tokens = %q", got)
	}
	if got := get("Errors in logs"); got != "?" {
		t.Errorf("Errors in logs = %q, want ?", got)
	}
}
