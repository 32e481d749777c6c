package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrServicesUnready is matched by every BootstrapError
var ErrServicesUnready = errors.New("services not ready")

// Probe checks whether one service is ready
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// HTTPProbe is ready once GET URL answers 2xx
type HTTPProbe struct {
	Service string
	URL     string
	Client  *http.Client
}

// Name implements Probe
func (p HTTPProbe) Name() string { return p.Service }

// Check implements Probe
func (p HTTPProbe) Check(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// CheckFunc adapts a function into a Probe
type CheckFunc struct {
	Service string
	Fn      func(ctx context.Context) error
}

// Name implements Probe
func (p CheckFunc) Name() string { return p.Service }

// Check implements Probe
func (p CheckFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

// ServiceStatus is the readiness record of one probed service
type ServiceStatus struct {
	Name     string
	Ready    bool
	Attempts int
	After    time.Duration
	LastErr  error
}

// Ready is returned when every service passed its probe
type Ready struct {
	Services []ServiceStatus
	Elapsed  time.Duration
}

// BootstrapError names the services that never became ready
type BootstrapError struct {
	Failed   []string
	Services []ServiceStatus
	Elapsed  time.Duration
	Cause    error
}

func (e *BootstrapError) Error() string {
	msg := fmt.Sprintf("services not ready after %s: %s", e.Elapsed.Round(time.Second), strings.Join(e.Failed, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrServicesUnready) hold
func (e *BootstrapError) Is(target error) bool { return target == ErrServicesUnready }

// Unwrap exposes the cause, typically a context error
func (e *BootstrapError) Unwrap() error { return e.Cause }

// Bootstrapper starts services and waits until their probes pass
type Bootstrapper struct {
	start    func(ctx context.Context) error
	probes   []Probe
	interval time.Duration
	log      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBootstrapper creates a Bootstrapper. start may be nil when the
// services are started elsewhere.
func NewBootstrapper(start func(ctx context.Context) error, interval time.Duration, log *slog.Logger, probes ...Probe) *Bootstrapper {
	if log == nil {
		log = slog.Default()
	}
	return &Bootstrapper{
		start:    start,
		probes:   probes,
		interval: interval,
		log:      log,
		now:      time.Now,
		sleep:    Sleep,
	}
}

// SetClock replaces the time source and the sleeper
func (b *Bootstrapper) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		b.now = now
	}
	if sleep != nil {
		b.sleep = sleep
	}
}

// Start runs the start command, then probes every service each interval
// until all pass or timeout elapses. Services already started are left
// running on failure.
func (b *Bootstrapper) Start(ctx context.Context, timeout time.Duration) (Ready, error) {
	begin := b.now()
	deadline := begin.Add(timeout)

	// start and every check share the bootstrap budget
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if b.start != nil {
		if err := b.start(bctx); err != nil {
			// The probes decide; a noisy start command is not fatal on its own.
			b.log.Warn("start command reported an error", "error", err)
		}
	}

	statuses := make([]ServiceStatus, len(b.probes))
	for i, p := range b.probes {
		statuses[i].Name = p.Name()
	}

	for {
		b.probeRound(bctx, statuses, begin)

		if failed := notReady(statuses); len(failed) == 0 {
			b.log.Info("services ready", "count", len(statuses), "elapsed", b.now().Sub(begin).Round(time.Millisecond))
			return Ready{Services: statuses, Elapsed: b.now().Sub(begin)}, nil
		}
		if err := ctx.Err(); err != nil {
			return Ready{}, b.fail(statuses, begin, err)
		}

		remaining := deadline.Sub(b.now())
		if remaining <= 0 || bctx.Err() != nil {
			return Ready{}, b.fail(statuses, begin, nil)
		}
		wait := b.interval
		if remaining < wait {
			wait = remaining
		}
		if err := b.sleep(ctx, wait); err != nil {
			return Ready{}, b.fail(statuses, begin, err)
		}
	}
}

func (b *Bootstrapper) probeRound(ctx context.Context, statuses []ServiceStatus, begin time.Time) {
	var g errgroup.Group
	g.SetLimit(4)
	for i := range b.probes {
		if statuses[i].Ready {
			continue
		}
		i := i
		g.Go(func() error {
			err := b.probes[i].Check(ctx)
			statuses[i].Attempts++
			statuses[i].LastErr = err
			if err == nil {
				statuses[i].Ready = true
				statuses[i].After = b.now().Sub(begin)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range statuses {
		if !s.Ready {
			b.log.Debug("service not ready", "service", s.Name, "attempt", s.Attempts, "error", s.LastErr)
		}
	}
}

func (b *Bootstrapper) fail(statuses []ServiceStatus, begin time.Time, cause error) error {
	err := &BootstrapError{
		Failed:   notReady(statuses),
		Services: statuses,
		Elapsed:  b.now().Sub(begin),
		Cause:    cause,
	}
	b.log.Error("bootstrap failed", "failed", strings.Join(err.Failed, ","), "elapsed", err.Elapsed)
	return err
}

func notReady(statuses []ServiceStatus) []string {
	var names []string
	for _, s := range statuses {
		if !s.Ready {
			names = append(names, s.Name)
		}
	}
	return names
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
