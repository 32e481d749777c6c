package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/gastown-harness/internal/config"
	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/metrics"
	"github.com/hochfrequenz/gastown-harness/internal/notify"
	"github.com/hochfrequenz/gastown-harness/internal/pipeline"
	"github.com/hochfrequenz/gastown-harness/internal/runstore"
	"github.com/hochfrequenz/gastown-harness/internal/schedule"
	"github.com/hochfrequenz/gastown-harness/internal/shell"
	"github.com/hochfrequenz/gastown-harness/tui"
	"github.com/hochfrequenz/gastown-harness/web/api"
)

var (
	serveAddr    string
	deadline     time.Duration
	strategy     string
	historyLimit int
	historyState string
	servePort    int
	dashURL      string
	scheduleFile string
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveAddr, "serve", "", "serve the live API on this address while running (e.g. :8080)")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "convoy deadline, overrides config and CONVOY_TIMEOUT")
	cmd.Flags().StringVar(&strategy, "strategy", "", "injection strategy: nudge, mail or mail,nudge")
}

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full test pipeline (default)",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	historyCmd.Flags().StringVar(&historyState, "state", "", "filter by convoy state (landed, failed, timed_out, ...)")
	rootCmd.AddCommand(historyCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history and report changes",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	// dash command
	dashCmd := &cobra.Command{
		Use:   "dash",
		Short: "Launch TUI dashboard",
		RunE:  runDash,
	}
	dashCmd.Flags().StringVar(&dashURL, "url", "", "live event websocket, e.g. ws://127.0.0.1:8080/api/ws")
	rootCmd.AddCommand(dashCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on cron schedules",
		RunE:  runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleFile, "file", defaultSchedulePath(), "schedule file")
	scheduleCmd.Flags().StringVar(&serveAddr, "serve", "", "serve the live API on this address between and during runs")
	rootCmd.AddCommand(scheduleCmd)
}

func defaultSchedulePath() string {
	return filepath.Join(filepath.Dir(config.DefaultConfigPath()), "schedule.toml")
}

func newLogger() *slog.Logger {
	return pipeline.NewLogger(pipeline.ParseLevel(logLevel), os.Stderr)
}

func loadConfig(log *slog.Logger) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv, log)
	return cfg, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// sinks wires history, metrics and the live hub. The store is nil when the
// history database cannot be opened.
type sinks struct {
	store   *runstore.Store
	metrics *metrics.Metrics
	hub     *api.Hub
}

func openSinks(cfg *config.Config, log *slog.Logger) *sinks {
	s := &sinks{metrics: metrics.New(), hub: api.NewHub()}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		log.Warn("run history unavailable", "path", cfg.General.DatabasePath, "error", err)
	} else {
		s.store = store
	}
	return s
}

func (s *sinks) list(log *slog.Logger) []domain.EventSink {
	out := []domain.EventSink{s.metrics, s.hub}
	if s.store != nil {
		out = append(out, runstore.NewRecorder(s.store, log))
	}
	return out
}

func (s *sinks) close() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *sinks) serve(ctx context.Context, cfg *config.Config, addr string, log *slog.Logger) {
	if s.store == nil {
		log.Warn("not serving the live API without run history", "addr", addr)
		return
	}
	server := api.NewServer(s.store, cfg.ReportsDir(), addr, s.hub, s.metrics.Handler(), log)
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Error("api server stopped", "error", err)
		}
	}()
}

func runRun(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		return &exitError{code: pipeline.ExitPreflight, err: err}
	}
	if deadline > 0 {
		cfg.Convoy.Deadline = config.Duration(deadline)
	}
	if strategy != "" {
		cfg.Inject.Strategy = strategy
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: pipeline.ExitPreflight, err: fmt.Errorf("config: %w", err)}
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s := openSinks(cfg, log)
	defer s.close()
	if serveAddr != "" {
		s.serve(ctx, cfg, serveAddr, log)
	}

	res := pipeline.Launch(ctx, cfg, pipeline.LaunchOptions{
		Runner:   shell.Exec{},
		Level:    pipeline.ParseLevel(logLevel),
		Sinks:    s.list(log),
		Notifier: notify.FromConfig(cfg.Notifications, shell.Exec{}),
	})

	if res.Run != nil {
		fmt.Printf("\nRun %s finished: convoy %s, reports in %s\n", res.Run.Key, res.State, res.Run.Dir)
	}
	if res.ExitCode != pipeline.ExitOK {
		return &exitError{code: res.ExitCode, err: res.Err}
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	state, err := parseStateFilter(historyState)
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{Limit: historyLimit, State: state})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tSTATUS\tEXIT\tDURATION\tSTARTED")
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		state := string(r.State)
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.Key, state, r.Status, r.ExitCode, dur, humanize.Time(r.StartedAt))
	}
	return w.Flush()
}

// parseStateFilter resolves the --state flag. Empty means no filter.
func parseStateFilter(s string) (domain.WorkUnitState, error) {
	if s == "" {
		return "", nil
	}
	state, ok := domain.LookupWorkUnitState(s)
	if !ok {
		return "", fmt.Errorf("unknown state %q (want pending, running, landed, failed or timed_out)", s)
	}
	return state, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	port := cfg.Web.Port
	if servePort > 0 {
		port = servePort
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := api.NewHub()
	watcher, err := api.NewReportWatcher(cfg.ReportsDir(), hub, log)
	if err != nil {
		return fmt.Errorf("watch %s: %w", cfg.ReportsDir(), err)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	fmt.Printf("Serving run history on http://%s\n", addr)
	server := api.NewServer(store, cfg.ReportsDir(), addr, hub, metrics.New().Handler(), log)
	return server.Start(ctx)
}

func runDash(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var events <-chan domain.Event
	if dashURL != "" {
		events, err = tui.Subscribe(ctx, dashURL)
		if err != nil {
			return err
		}
	}

	model := tui.NewModel(tui.ModelConfig{
		Loader: func() ([]*domain.RunInfo, error) {
			return store.ListRuns(runstore.ListOptions{Limit: 50})
		},
		Events: events,
		URL:    dashURL,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func runSchedule(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg, err := loadConfig(log)
	if err != nil {
		return &exitError{code: pipeline.ExitPreflight, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: pipeline.ExitPreflight, err: fmt.Errorf("config: %w", err)}
	}

	file, err := schedule.LoadFile(scheduleFile)
	if err != nil {
		return &exitError{code: pipeline.ExitPreflight, err: err}
	}
	if len(file.Jobs) == 0 {
		return &exitError{code: pipeline.ExitPreflight, err: fmt.Errorf("no jobs in %s", scheduleFile)}
	}

	sched, err := schedule.NewScheduler(file.Jobs, log)
	if err != nil {
		return &exitError{code: pipeline.ExitPreflight, err: err}
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s := openSinks(cfg, log)
	defer s.close()
	if serveAddr != "" {
		s.serve(ctx, cfg, serveAddr, log)
	}

	fmt.Printf("Scheduling %d job(s) from %s\n", len(file.Jobs), scheduleFile)
	sched.Start(ctx, func(ctx context.Context, job schedule.JobConfig) error {
		var notifier notify.Notifier = notify.NoopNotifier{}
		if job.NotifyOnComplete {
			notifier = notify.FromConfig(cfg.Notifications, shell.Exec{})
		}
		res := pipeline.Launch(ctx, job.Apply(cfg), pipeline.LaunchOptions{
			Runner:   shell.Exec{},
			Level:    pipeline.ParseLevel(logLevel),
			Sinks:    s.list(log),
			Notifier: notifier,
		})
		if res.ExitCode != pipeline.ExitOK && res.ExitCode != pipeline.ExitInterrupted {
			return res.Err
		}
		return nil
	})
	return nil
}
