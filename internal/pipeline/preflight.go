package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hochfrequenz/gastown-harness/internal/config"
)

// RequiredCommands must be on PATH before a run starts
var RequiredCommands = []string{"docker", "git", "gt"}

// Preflight checks the environment before any run directory is created.
// lookPath returns the missing command names.
func Preflight(cfg *config.Config, lookPath func(names ...string) []string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var problems []error

	for _, name := range lookPath(RequiredCommands...) {
		problems = append(problems, fmt.Errorf("command not found: %s", name))
	}
	if _, err := os.Stat(cfg.General.PromptFile); err != nil {
		problems = append(problems, fmt.Errorf("prompt file not found: %s", cfg.General.PromptFile))
	}
	if _, err := os.Stat(cfg.Stack.TraceBin); err != nil {
		if cfg.Stack.TraceRequired {
			problems = append(problems, fmt.Errorf("gastown-trace binary not found: %s", cfg.Stack.TraceBin))
		} else {
			log.Warn("gastown-trace binary not found, traces will be unavailable", "path", cfg.Stack.TraceBin)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	for _, p := range problems {
		log.Error("preflight", "problem", p)
	}
	return fmt.Errorf("%w: %w", ErrPreflight, errors.Join(problems...))
}
