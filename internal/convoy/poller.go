// Package convoy waits for an external work unit to reach a terminal state
// by polling its status on a fixed interval under a hard deadline.
package convoy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// TransientQueryError wraps a failed status query. The poller records it
// and keeps going.
type TransientQueryError struct {
	Poll int
	Err  error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("status query %d: %v", e.Poll, e.Err)
}

func (e *TransientQueryError) Unwrap() error { return e.Err }

// Sample is one status query and what it decoded to
type Sample struct {
	Poll    int
	At      time.Time
	Elapsed time.Duration
	Label   string
	State   domain.WorkUnitState
	Err     error
}

// Outcome is the result of a completed wait
type Outcome struct {
	State   domain.WorkUnitState
	Elapsed time.Duration
	Polls   int
	Errors  int
	Samples []Sample
}

// Poller drives the PENDING → RUNNING → terminal state machine
type Poller struct {
	Source   StatusSource
	Decoder  Decoder
	Interval time.Duration
	Deadline time.Duration
	OnSample func(Sample)

	log   *slog.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller with the default decoder
func NewPoller(source StatusSource, interval, deadline time.Duration, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		Source:   source,
		Decoder:  DefaultDecoder(),
		Interval: interval,
		Deadline: deadline,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// SetClock replaces the time source and the sleeper
func (p *Poller) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		p.now = now
	}
	if sleep != nil {
		p.sleep = sleep
	}
}

// Wait polls unit until it lands, fails, or the deadline passes. Queries
// happen at t=0, then every Interval, with a final query at the deadline;
// TIMED_OUT is therefore reached no later than Deadline + Interval.
//
// A cancelled ctx returns the last observed state with ctx.Err().
func (p *Poller) Wait(ctx context.Context, unit WorkUnit) (Outcome, error) {
	start := p.now()
	out := Outcome{State: domain.StatePending}

	for {
		sample := p.poll(ctx, unit, out.Polls+1, start)
		out.Polls++
		if sample.Err != nil {
			out.Errors++
		} else {
			out.State = transition(out.State, sample.State)
		}
		sample.State = out.State
		out.Samples = append(out.Samples, sample)
		if p.OnSample != nil {
			p.OnSample(sample)
		}

		elapsed := p.now().Sub(start)
		out.Elapsed = elapsed

		if out.State.IsTerminal() {
			p.log.Info("work unit reached terminal state", "unit", unit.Name, "state", out.State, "elapsed", elapsed, "polls", out.Polls)
			return out, nil
		}
		if elapsed >= p.Deadline {
			out.State = domain.StateTimedOut
			p.log.Warn("work unit timed out", "unit", unit.Name, "deadline", p.Deadline, "polls", out.Polls)
			return out, nil
		}

		p.log.Info("work unit not terminal", "unit", unit.Name, "state", out.State, "elapsed", elapsed.Round(time.Second), "deadline", p.Deadline)

		wait := p.Interval
		if remaining := p.Deadline - elapsed; remaining < wait {
			wait = remaining
		}
		if err := p.sleep(ctx, wait); err != nil {
			out.Elapsed = p.now().Sub(start)
			return out, err
		}
	}
}

// poll runs one status query. A query may not outlive Deadline + Interval,
// so a hung source still ends in TIMED_OUT.
func (p *Poller) poll(ctx context.Context, unit WorkUnit, n int, start time.Time) Sample {
	qctx, cancel := context.WithTimeout(ctx, p.Deadline+p.Interval-p.now().Sub(start))
	defer cancel()

	label, err := p.Source.Status(qctx, unit)
	at := p.now()
	s := Sample{Poll: n, At: at, Elapsed: at.Sub(start), Label: label}
	if err != nil {
		s.Err = &TransientQueryError{Poll: n, Err: err}
		p.log.Warn("status query failed, will retry", "unit", unit.Name, "poll", n, "error", err)
		return s
	}
	s.State = p.Decoder.Decode(label)
	return s
}

// transition applies an observed state. Once RUNNING has been seen the
// unit never goes back to PENDING.
func transition(current, observed domain.WorkUnitState) domain.WorkUnitState {
	if observed == domain.StatePending && current == domain.StateRunning {
		return current
	}
	return observed
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
