package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/gastown-harness/internal/config"
)

// JobConfig is one scheduled harness run
type JobConfig struct {
	Name string `toml:"name"`
	Cron string `toml:"cron"`
	// Deadline overrides convoy.deadline for this job; zero keeps it
	Deadline         config.Duration `toml:"deadline"`
	NotifyOnComplete bool            `toml:"notify_on_complete"`
}

// File holds all job configurations
type File struct {
	Jobs []JobConfig `toml:"job"`
}

// Validate checks if the job is valid
func (c *JobConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("deadline must not be negative")
	}
	return nil
}

// Apply returns a copy of base with the job's overrides
func (c JobConfig) Apply(base *config.Config) *config.Config {
	cfg := *base
	if c.Deadline > 0 {
		cfg.Convoy.Deadline = c.Deadline
	}
	return &cfg
}

// LoadFile loads job configuration from a TOML file. A missing file has no jobs.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, err
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Jobs))
	for i := range f.Jobs {
		if err := f.Jobs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		if seen[f.Jobs[i].Name] {
			return nil, fmt.Errorf("job %d: duplicate name %q", i, f.Jobs[i].Name)
		}
		seen[f.Jobs[i].Name] = true
	}

	return &f, nil
}
