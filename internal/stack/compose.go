// Package stack manages the docker-compose observability stack: reset,
// startup with readiness probes, and the trace daemon.
package stack

import (
	"context"

	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

// Compose drives `docker compose` for one project file
type Compose struct {
	runner  shell.Runner
	file    string
	project string
	volumes []string
}

// NewCompose creates a Compose for the given compose file and project
func NewCompose(runner shell.Runner, file, project string, volumes []string) *Compose {
	return &Compose{runner: runner, file: file, project: project, volumes: volumes}
}

// Project returns the compose project name
func (c *Compose) Project() string { return c.project }

func (c *Compose) compose(ctx context.Context, args ...string) shell.Result {
	full := append([]string{"compose", "-f", c.file}, args...)
	return c.runner.Run(ctx, "docker", full)
}

// Up runs `docker compose up -d`. Repeated calls are harmless.
func (c *Compose) Up(ctx context.Context) shell.Result {
	return c.compose(ctx, "up", "-d")
}

// Down runs `docker compose down`
func (c *Compose) Down(ctx context.Context) shell.Result {
	return c.compose(ctx, "down")
}

// ResetReport captures each step of a reset for the phase report
type ResetReport struct {
	Down     shell.Result
	VolumeRm shell.Result
	VolumeLs shell.Result
}

// OK reports whether every step exited cleanly
func (r ResetReport) OK() bool {
	return r.Down.OK() && r.VolumeRm.OK() && r.VolumeLs.OK()
}

// Reset tears the stack down and removes its named volumes. Every step is
// attempted regardless of earlier failures; nothing is returned as an error.
func (c *Compose) Reset(ctx context.Context) ResetReport {
	var r ResetReport
	r.Down = c.Down(ctx)
	if len(c.volumes) > 0 {
		r.VolumeRm = c.runner.Run(ctx, "docker", append([]string{"volume", "rm"}, c.volumes...))
	}
	r.VolumeLs = c.runner.Run(ctx, "docker", []string{"volume", "ls", "--filter", "name=" + c.project})
	return r
}
