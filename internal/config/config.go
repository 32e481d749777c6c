package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment overrides honoured on top of the config file
const (
	EnvOtelDir       = "GASTOWN_OTEL_DIR"
	EnvConvoyTimeout = "CONVOY_TIMEOUT"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Stack         StackConfig         `toml:"stack"`
	Convoy        ConvoyConfig        `toml:"convoy"`
	Inject        InjectConfig        `toml:"inject"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds paths shared by every phase
type GeneralConfig struct {
	BaseDir      string `toml:"base_dir"`
	TownDir      string `toml:"town_dir"`
	PromptFile   string `toml:"prompt_file"`
	DatabasePath string `toml:"database_path"`
}

// StackConfig describes the docker-compose observability stack
type StackConfig struct {
	OtelDir        string   `toml:"otel_dir"`
	ComposeFile    string   `toml:"compose_file"`
	Project        string   `toml:"project"`
	Volumes        []string `toml:"volumes"`
	VMURL          string   `toml:"vm_url"`
	VLURL          string   `toml:"vl_url"`
	GrafanaURL     string   `toml:"grafana_url"`
	TraceBin       string   `toml:"trace_bin"`
	TracePort      int      `toml:"trace_port"`
	TraceRequired  bool     `toml:"trace_required"`
	HealthTimeout  Duration `toml:"health_timeout"`
	HealthInterval Duration `toml:"health_interval"`
}

// ConvoyConfig controls the completion poller
type ConvoyConfig struct {
	Name             string   `toml:"name"`
	Match            []string `toml:"match"`
	Success          []string `toml:"success"`
	Failure          []string `toml:"failure"`
	PollInterval     Duration `toml:"poll_interval"`
	Deadline         Duration `toml:"deadline"`
	ExpectedPolecats int      `toml:"expected_polecats"`
}

// InjectConfig selects how the scenario prompt reaches its target
type InjectConfig struct {
	Strategy string `toml:"strategy"`
	Target   string `toml:"target"`
	Subject  string `toml:"subject"`
}

// TelemetryConfig holds query catalog settings
type TelemetryConfig struct {
	CatalogFile  string `toml:"catalog_file"`
	TokenWarning int    `toml:"token_warning"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds the API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Duration is a time.Duration that reads from TOML strings like "30s"
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Strategies accepted by inject.strategy
var validStrategies = map[string]bool{
	"nudge":      true,
	"mail":       true,
	"mail,nudge": true,
	"nudge,mail": true,
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	otelDir := filepath.Join(home, "dev", "third-party", "gastown-otel")
	cfg := &Config{
		General: GeneralConfig{
			BaseDir:      ".",
			TownDir:      filepath.Join(home, "gt"),
			PromptFile:   "PROMPT1.md",
			DatabasePath: filepath.Join(home, ".gastown-harness", "history.db"),
		},
		Stack: StackConfig{
			Project:        "gastown-otel",
			VMURL:          "http://localhost:8428",
			VLURL:          "http://localhost:9428",
			GrafanaURL:     "http://localhost:9429",
			TracePort:      7428,
			TraceRequired:  true,
			HealthTimeout:  Duration(60 * time.Second),
			HealthInterval: Duration(2 * time.Second),
		},
		Convoy: ConvoyConfig{
			Name:             "The Crypto Tales",
			Match:            []string{"crypto", "tales"},
			Success:          []string{"landed", "closed"},
			Failure:          []string{"failed", "cancelled", "abandoned"},
			PollInterval:     Duration(30 * time.Second),
			Deadline:         Duration(time.Hour),
			ExpectedPolecats: 3,
		},
		Inject: InjectConfig{
			Strategy: "nudge",
			Target:   "mayor",
			Subject:  "Test scenario",
		},
		Telemetry: TelemetryConfig{
			TokenWarning: 100_000,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
	cfg.setOtelDir(otelDir)
	return cfg
}

// setOtelDir points every stack path that is derived from the OTEL dir at dir
func (c *Config) setOtelDir(dir string) {
	c.Stack.OtelDir = dir
	c.Stack.ComposeFile = filepath.Join(dir, "docker-compose.yml")
	c.Stack.TraceBin = filepath.Join(dir, "gastown-trace", "gastown-trace")
	c.Stack.Volumes = []string{
		c.Stack.Project + "_vm-data",
		c.Stack.Project + "_vl-data",
		c.Stack.Project + "_grafana-data",
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// A file that moves otel_dir without naming the derived paths gets them re-derived.
	var probe struct {
		Stack map[string]any `toml:"stack"`
	}
	if err := toml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, ok := probe.Stack["otel_dir"]; ok {
		rederive(cfg, probe.Stack)
	}

	cfg.expandPaths()
	return cfg, nil
}

func rederive(cfg *Config, explicit map[string]any) {
	keep := *cfg
	cfg.setOtelDir(ExpandPath(cfg.Stack.OtelDir))
	if _, ok := explicit["compose_file"]; ok {
		cfg.Stack.ComposeFile = keep.Stack.ComposeFile
	}
	if _, ok := explicit["trace_bin"]; ok {
		cfg.Stack.TraceBin = keep.Stack.TraceBin
	}
	if _, ok := explicit["volumes"]; ok {
		cfg.Stack.Volumes = keep.Stack.Volumes
	}
}

func (c *Config) expandPaths() {
	c.General.BaseDir = ExpandPath(c.General.BaseDir)
	c.General.TownDir = ExpandPath(c.General.TownDir)
	c.General.PromptFile = ExpandPath(c.General.PromptFile)
	c.General.DatabasePath = ExpandPath(c.General.DatabasePath)
	c.Stack.OtelDir = ExpandPath(c.Stack.OtelDir)
	c.Stack.ComposeFile = ExpandPath(c.Stack.ComposeFile)
	c.Stack.TraceBin = ExpandPath(c.Stack.TraceBin)
	c.Telemetry.CatalogFile = ExpandPath(c.Telemetry.CatalogFile)
}

// ApplyEnv layers GASTOWN_OTEL_DIR and CONVOY_TIMEOUT over the loaded values.
// An unparsable CONVOY_TIMEOUT is ignored with a warning.
func (c *Config) ApplyEnv(getenv func(string) string, log *slog.Logger) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if log == nil {
		log = slog.Default()
	}

	if dir := getenv(EnvOtelDir); dir != "" {
		c.setOtelDir(ExpandPath(dir))
	}

	if raw := getenv(EnvConvoyTimeout); raw != "" {
		secs, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || secs <= 0 {
			log.Warn("ignoring invalid deadline override", "env", EnvConvoyTimeout, "value", raw)
			return
		}
		c.Convoy.Deadline = Duration(time.Duration(secs) * time.Second)
	}
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Convoy.PollInterval.Std() <= 0 {
		return fmt.Errorf("convoy.poll_interval must be positive")
	}
	if c.Convoy.Deadline.Std() <= 0 {
		return fmt.Errorf("convoy.deadline must be positive")
	}
	if c.Stack.HealthInterval.Std() <= 0 {
		return fmt.Errorf("stack.health_interval must be positive")
	}
	if c.Stack.HealthTimeout.Std() <= 0 {
		return fmt.Errorf("stack.health_timeout must be positive")
	}
	if !validStrategies[c.Inject.Strategy] {
		return fmt.Errorf("inject.strategy %q is not one of nudge, mail, mail,nudge", c.Inject.Strategy)
	}
	if strings.TrimSpace(c.Inject.Target) == "" {
		return fmt.Errorf("inject.target is required")
	}
	if len(c.Convoy.Match) == 0 {
		return fmt.Errorf("convoy.match needs at least one term")
	}
	return nil
}

// ReportsDir returns the directory that holds one subdirectory per run
func (c *Config) ReportsDir() string {
	return filepath.Join(c.General.BaseDir, "reports")
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gastown-harness", "config.toml")
}
