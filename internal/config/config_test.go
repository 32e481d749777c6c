package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.Convoy.PollInterval.Std() != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.Convoy.PollInterval.Std())
	}
	if cfg.Convoy.Deadline.Std() != time.Hour {
		t.Errorf("Deadline = %v, want 1h", cfg.Convoy.Deadline.Std())
	}
	if cfg.Stack.HealthInterval.Std() != 2*time.Second {
		t.Errorf("HealthInterval = %v, want 2s", cfg.Stack.HealthInterval.Std())
	}
	if cfg.Inject.Strategy != "nudge" {
		t.Errorf("Strategy = %q, want nudge", cfg.Inject.Strategy)
	}
	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("Web.Host = %q, want 127.0.0.1", cfg.Web.Host)
	}
	if len(cfg.Stack.Volumes) != 3 || cfg.Stack.Volumes[0] != "gastown-otel_vm-data" {
		t.Errorf("Volumes = %v, want gastown-otel_{vm,vl,grafana}-data", cfg.Stack.Volumes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Inject.Target != "mayor" {
		t.Errorf("Target = %q, want mayor", cfg.Inject.Target)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
base_dir = "/srv/harness"

[convoy]
poll_interval = "10s"
deadline = "15m"
match = ["ledger"]

[inject]
strategy = "mail,nudge"

[web]
port = 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.BaseDir != "/srv/harness" {
		t.Errorf("BaseDir = %q, want /srv/harness", cfg.General.BaseDir)
	}
	if cfg.Convoy.PollInterval.Std() != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.Convoy.PollInterval.Std())
	}
	if cfg.Convoy.Deadline.Std() != 15*time.Minute {
		t.Errorf("Deadline = %v, want 15m", cfg.Convoy.Deadline.Std())
	}
	if len(cfg.Convoy.Match) != 1 || cfg.Convoy.Match[0] != "ledger" {
		t.Errorf("Match = %v, want [ledger]", cfg.Convoy.Match)
	}
	if cfg.Inject.Strategy != "mail,nudge" {
		t.Errorf("Strategy = %q, want mail,nudge", cfg.Inject.Strategy)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	if cfg.ReportsDir() != "/srv/harness/reports" {
		t.Errorf("ReportsDir = %q, want /srv/harness/reports", cfg.ReportsDir())
	}
}

func TestLoad_OtelDirRederivesStackPaths(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[stack]
otel_dir = "/opt/otel"
trace_bin = "/usr/local/bin/gastown-trace"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stack.ComposeFile != "/opt/otel/docker-compose.yml" {
		t.Errorf("ComposeFile = %q, want /opt/otel/docker-compose.yml", cfg.Stack.ComposeFile)
	}
	if cfg.Stack.TraceBin != "/usr/local/bin/gastown-trace" {
		t.Errorf("TraceBin = %q, want explicit value kept", cfg.Stack.TraceBin)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[convoy\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name         string
		env          map[string]string
		wantDeadline time.Duration
		wantCompose  string
	}{
		{
			name:         "no overrides",
			env:          map[string]string{},
			wantDeadline: time.Hour,
		},
		{
			name:         "deadline seconds",
			env:          map[string]string{EnvConvoyTimeout: "90"},
			wantDeadline: 90 * time.Second,
		},
		{
			name:         "invalid deadline keeps default",
			env:          map[string]string{EnvConvoyTimeout: "abc"},
			wantDeadline: time.Hour,
		},
		{
			name:         "negative deadline keeps default",
			env:          map[string]string{EnvConvoyTimeout: "-5"},
			wantDeadline: time.Hour,
		},
		{
			name:         "otel dir",
			env:          map[string]string{EnvOtelDir: "/data/otel"},
			wantDeadline: time.Hour,
			wantCompose:  "/data/otel/docker-compose.yml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ApplyEnv(func(k string) string { return tt.env[k] }, nil)

			if cfg.Convoy.Deadline.Std() != tt.wantDeadline {
				t.Errorf("Deadline = %v, want %v", cfg.Convoy.Deadline.Std(), tt.wantDeadline)
			}
			if tt.wantCompose != "" && cfg.Stack.ComposeFile != tt.wantCompose {
				t.Errorf("ComposeFile = %q, want %q", cfg.Stack.ComposeFile, tt.wantCompose)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Convoy.PollInterval = 0 }},
		{"zero deadline", func(c *Config) { c.Convoy.Deadline = 0 }},
		{"unknown strategy", func(c *Config) { c.Inject.Strategy = "carrier-pigeon" }},
		{"empty target", func(c *Config) { c.Inject.Target = " " }},
		{"no match terms", func(c *Config) { c.Convoy.Match = nil }},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
