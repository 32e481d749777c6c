// Package shell runs collaborator commands (docker, gt) and captures their
// combined output for reports.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Result is the outcome of one command
type Result struct {
	Name     string
	Args     []string
	Output   string
	ExitCode int
	Err      error
	Duration time.Duration
}

// OK reports whether the command ran and exited 0
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Cmdline renders the command the way it appears in reports
func (r Result) Cmdline() string {
	return strings.TrimSpace(r.Name + " " + strings.Join(r.Args, " "))
}

// Options configures a single invocation
type Options struct {
	Dir   string
	Env   map[string]string
	Stdin string
}

// Option modifies Options
type Option func(*Options)

// WithDir runs the command from dir
func WithDir(dir string) Option {
	return func(o *Options) { o.Dir = dir }
}

// WithEnv merges env over the current process environment
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithStdin feeds text to the command's stdin
func WithStdin(text string) Option {
	return func(o *Options) { o.Stdin = text }
}

// Apply folds opts into a fresh Options value
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts ...Option) Result
}

// Exec is the os/exec backed Runner
type Exec struct{}

// Run implements Runner. Stdout and stderr are interleaved into Output.
// A command that cannot be started yields ExitCode -1.
func (Exec) Run(ctx context.Context, name string, args []string, opts ...Option) Result {
	o := Apply(opts...)
	res := Result{Name: name, Args: args}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = o.Dir
	if len(o.Env) > 0 {
		cmd.Env = MergeEnv(os.Environ(), o.Env)
	}
	if o.Stdin != "" {
		cmd.Stdin = strings.NewReader(o.Stdin)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Output = out.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if ctx.Err() != nil {
				res.Err = ctx.Err()
			}
			return res
		}
		res.ExitCode = -1
		res.Err = fmt.Errorf("%s: %w", name, err)
		return res
	}
	return res
}

// MergeEnv overlays extra onto a KEY=VALUE environment list. Keys from
// extra replace existing entries; the result is deterministic.
func MergeEnv(base []string, extra map[string]string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, override := extra[key]; override {
			continue
		}
		merged = append(merged, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		merged = append(merged, k+"="+extra[k])
	}
	return merged
}

// LookPath reports which of names are missing from PATH
func LookPath(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	return missing
}
