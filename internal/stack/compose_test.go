package stack

import (
	"context"
	"testing"

	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

func TestCompose_ResetRunsEveryStepEvenOnFailure(t *testing.T) {
	fake := &shell.Fake{Respond: func(c shell.Call) shell.Result {
		if c.Line() == "docker compose -f /otel/docker-compose.yml down" {
			return shell.Result{ExitCode: 1, Output: "no such project"}
		}
		return shell.Result{}
	}}
	c := NewCompose(fake, "/otel/docker-compose.yml", "gastown-otel",
		[]string{"gastown-otel_vm-data", "gastown-otel_vl-data"})

	r := c.Reset(context.Background())

	calls := fake.Calls()
	want := []string{
		"docker compose -f /otel/docker-compose.yml down",
		"docker volume rm gastown-otel_vm-data gastown-otel_vl-data",
		"docker volume ls --filter name=gastown-otel",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(calls), len(want))
	}
	for i := range want {
		if calls[i].Line() != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i].Line(), want[i])
		}
	}
	if r.OK() {
		t.Error("Reset should report the failed down step")
	}
	if r.Down.Output != "no such project" {
		t.Errorf("Down.Output = %q", r.Down.Output)
	}
}

func TestCompose_Up(t *testing.T) {
	fake := &shell.Fake{}
	c := NewCompose(fake, "stack.yml", "p", nil)

	res := c.Up(context.Background())

	if res.Cmdline() != "docker compose -f stack.yml up -d" {
		t.Errorf("Cmdline = %q", res.Cmdline())
	}
}
