// Package schedule runs harness jobs on cron expressions.
package schedule

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one job
type RunFunc func(ctx context.Context, job JobConfig) error

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Scheduler manages scheduled runs. Runs share one stack and town, so at
// most one job runs at a time. A job that comes due while another run is
// in progress stays due and starts on the first tick after it finishes.
// A slot that comes due while the job itself is running is skipped.
type Scheduler struct {
	jobs     map[string]JobConfig
	schedule map[string]cron.Schedule
	lastRun  map[string]time.Time
	running  map[string]bool
	tick     time.Duration
	log      *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler. Jobs count as last run at creation
// time, so the first run is the first slot after start.
func NewScheduler(jobs []JobConfig, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		jobs:     make(map[string]JobConfig),
		schedule: make(map[string]cron.Schedule),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		tick:     time.Minute,
		log:      log,
		now:      time.Now,
	}

	start := s.now()
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		sched, _ := ParseCron(job.Cron)
		s.jobs[job.Name] = job
		s.schedule[job.Name] = sched
		s.lastRun[job.Name] = start
	}

	return s, nil
}

// SetClock replaces the time source and resets every job's last run to now
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	for name := range s.lastRun {
		s.lastRun[name] = now()
	}
}

// SetTick sets how often Start checks for due jobs
func (s *Scheduler) SetTick(d time.Duration) {
	s.tick = d
}

// NextRun returns the next scheduled run time for a job
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedule[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(s.now())
}

// ShouldRun returns true if a job is due and no job is running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedule[name]
	if !ok || s.busy() {
		return false
	}
	next := sched.Next(s.lastRun[name])
	return !s.now().Before(next)
}

func (s *Scheduler) busy() bool {
	for _, running := range s.running {
		if running {
			return true
		}
	}
	return false
}

// MarkRunning marks a job as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a job as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// Running reports whether a job is in progress
func (s *Scheduler) Running(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[name]
}

// ListJobs returns all job names, sorted
func (s *Scheduler) ListJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch starts the first due job, in name order, in its own goroutine
// and returns the names it started
func (s *Scheduler) Dispatch(ctx context.Context, run RunFunc) []string {
	var started []string
	for _, name := range s.ListJobs() {
		if !s.ShouldRun(name) {
			continue
		}
		s.mu.RLock()
		job := s.jobs[name]
		s.mu.RUnlock()

		s.MarkRunning(name)
		started = append(started, name)
		s.wg.Add(1)
		go func(job JobConfig) {
			defer s.wg.Done()
			defer s.MarkComplete(job.Name)
			s.log.Info("scheduled job started", "job", job.Name)
			if err := run(ctx, job); err != nil {
				s.log.Error("scheduled job failed", "job", job.Name, "error", err)
				return
			}
			s.log.Info("scheduled job finished", "job", job.Name, "next", s.NextRun(job.Name))
		}(job)
	}
	return started
}

// Start checks for due jobs every tick until ctx is done, then waits for
// running jobs to return
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for _, name := range s.ListJobs() {
		s.log.Info("job scheduled", "job", name, "next", s.NextRun(name))
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Dispatch(ctx, run)
		}
	}
}

// Wait blocks until every dispatched job has returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
