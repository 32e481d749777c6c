// Package inject delivers the scenario prompt to an agent in the
// orchestrator through a configurable strategy.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrInjection is matched by every delivery and addressing failure
	ErrInjection = errors.New("injection failed")

	// ErrEmptyPayload is returned before any command runs
	ErrEmptyPayload = fmt.Errorf("%w: payload is empty", ErrInjection)

	// ErrEmptyTarget is returned when no addressee is given
	ErrEmptyTarget = fmt.Errorf("%w: target is empty", ErrInjection)
)

// DeliveryError means the transport rejected the payload
type DeliveryError struct {
	Strategy string
	ExitCode int
	Output   string
	Err      error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s delivery failed (exit %d)", e.Strategy, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + firstLine(out)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrInjection) hold
func (e *DeliveryError) Is(target error) bool { return target == ErrInjection }

// Unwrap returns the underlying start error, if any
func (e *DeliveryError) Unwrap() error { return e.Err }

// TargetNotFoundError means the addressee does not exist
type TargetNotFoundError struct {
	Strategy string
	Target   string
	Output   string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("%s: target %q not found", e.Strategy, e.Target)
}

// Is makes errors.Is(err, ErrInjection) hold
func (e *TargetNotFoundError) Is(target error) bool { return target == ErrInjection }

// Ack is the acceptance record of a delivered payload
type Ack struct {
	Strategy string
	Target   string
	Output   string
	At       time.Time
	Attempts []Attempt
}

// Attempt records one strategy tried during delivery
type Attempt struct {
	Strategy string
	Err      error
}

// Strategy delivers a payload to a target
type Strategy interface {
	Name() string
	Deliver(ctx context.Context, payload, target string) (Ack, error)
}

// Injector validates input and hands it to a Strategy
type Injector struct {
	strategy Strategy
	log      *slog.Logger
}

// NewInjector creates an Injector
func NewInjector(strategy Strategy, log *slog.Logger) *Injector {
	if log == nil {
		log = slog.Default()
	}
	return &Injector{strategy: strategy, log: log}
}

// Strategy returns the configured delivery strategy
func (i *Injector) Strategy() Strategy { return i.strategy }

// Inject sends payload verbatim to target. No retries happen here.
func (i *Injector) Inject(ctx context.Context, payload, target string) (Ack, error) {
	if strings.TrimSpace(payload) == "" {
		return Ack{}, ErrEmptyPayload
	}
	if strings.TrimSpace(target) == "" {
		return Ack{}, ErrEmptyTarget
	}

	i.log.Info("injecting payload", "strategy", i.strategy.Name(), "target", target, "bytes", len(payload))
	ack, err := i.strategy.Deliver(ctx, payload, target)
	if err != nil {
		i.log.Error("injection failed", "strategy", i.strategy.Name(), "target", target, "error", err)
		return ack, err
	}
	i.log.Info("payload accepted", "strategy", ack.Strategy, "target", target)
	return ack, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
