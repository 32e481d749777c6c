// Package gastown wraps the gt command line. Every call runs from the town
// root with the OTEL export variables set.
package gastown

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

// Client runs gt subcommands
type Client struct {
	runner  shell.Runner
	townDir string
	env     map[string]string
	bin     string
}

// NewClient creates a Client rooted at townDir
func NewClient(runner shell.Runner, townDir string, env map[string]string) *Client {
	return &Client{runner: runner, townDir: townDir, env: env, bin: "gt"}
}

// Env returns the variables injected into every gt call
func (c *Client) Env() map[string]string {
	return c.env
}

// Run executes `gt args...`
func (c *Client) Run(ctx context.Context, args ...string) shell.Result {
	return c.runner.Run(ctx, c.bin, args, shell.WithDir(c.townDir), shell.WithEnv(c.env))
}

func (c *Client) runStdin(ctx context.Context, stdin string, args ...string) shell.Result {
	return c.runner.Run(ctx, c.bin, args, shell.WithDir(c.townDir), shell.WithEnv(c.env), shell.WithStdin(stdin))
}

// MayorStatus runs `gt mayor status` and decodes the answer
func (c *Client) MayorStatus(ctx context.Context) (MayorState, shell.Result) {
	res := c.Run(ctx, "mayor", "status")
	return DecodeMayorState(res.ExitCode, res.Output), res
}

// MayorStart runs `gt mayor start`
func (c *Client) MayorStart(ctx context.Context) shell.Result {
	return c.Run(ctx, "mayor", "start")
}

// MayorStop runs `gt mayor stop`
func (c *Client) MayorStop(ctx context.Context) shell.Result {
	return c.Run(ctx, "mayor", "stop")
}

// Nudge delivers payload straight into target's session
func (c *Client) Nudge(ctx context.Context, target, payload string) shell.Result {
	return c.Run(ctx, "nudge", target, payload)
}

// MailSend posts payload to target's mailbox, reading the body from stdin
func (c *Client) MailSend(ctx context.Context, target, subject, payload string) shell.Result {
	return c.runStdin(ctx, payload, "mail", "send", target, "-s", subject, "--stdin")
}

// Convoy is one entry of `gt convoy list --json`
type Convoy struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Matches reports whether any term occurs in the convoy's title or name
func (cv Convoy) Matches(terms []string) bool {
	hay := strings.ToLower(cv.Title + cv.Name)
	for _, t := range terms {
		if t != "" && strings.Contains(hay, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// Convoys runs `gt convoy list --all --json`
func (c *Client) Convoys(ctx context.Context) ([]Convoy, error) {
	res := c.Run(ctx, "convoy", "list", "--all", "--json")
	if res.Err != nil {
		return nil, fmt.Errorf("gt convoy list: %w", res.Err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("gt convoy list: exit %d: %s", res.ExitCode, firstLine(res.Output))
	}
	return ParseConvoys([]byte(res.Output))
}

// ParseConvoys decodes convoy list JSON. Empty output is an empty list.
func ParseConvoys(data []byte) ([]Convoy, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var convoys []Convoy
	if err := json.Unmarshal(data, &convoys); err != nil {
		return nil, fmt.Errorf("parse gt output: %w", err)
	}
	return convoys, nil
}

// ConvoyList runs `gt convoy list --all` for the human-readable table
func (c *Client) ConvoyList(ctx context.Context) shell.Result {
	return c.Run(ctx, "convoy", "list", "--all")
}

// Doctor runs `gt doctor`
func (c *Client) Doctor(ctx context.Context) shell.Result {
	return c.Run(ctx, "doctor")
}

// TrailCommits runs `gt trail commits --limit n`
func (c *Client) TrailCommits(ctx context.Context, n int) shell.Result {
	return c.Run(ctx, "trail", "commits", "--limit", strconv.Itoa(n))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
