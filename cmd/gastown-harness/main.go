package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/gastown-harness/internal/pipeline"
)

var (
	configPath string
	logLevel   string
	rootCmd    = &cobra.Command{
		Use:   "gastown-harness",
		Short: "Gastown test harness - end-to-end multi-agent scenario runner",
		Long: `gastown-harness resets a Gastown town and its OTEL stack, injects a test
scenario into the Mayor, waits for the convoy to land and writes one
markdown report per phase, plus telemetry and recommendations.`,
		Args:          cobra.NoArgs,
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitError carries a process exit status out of a RunE handler
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	addRunFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil {
				fmt.Fprintln(os.Stderr, exit.err)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(pipeline.ExitFailure)
	}
}
