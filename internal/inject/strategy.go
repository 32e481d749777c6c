package inject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/gastown"
	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

// Sender is the part of the gt client the strategies use
type Sender interface {
	Nudge(ctx context.Context, target, payload string) shell.Result
	MailSend(ctx context.Context, target, subject, payload string) shell.Result
}

// Nudge delivers directly into the target's session, bypassing mail
type Nudge struct {
	Sender Sender
}

// Name implements Strategy
func (Nudge) Name() string { return "nudge" }

// Deliver implements Strategy
func (n Nudge) Deliver(ctx context.Context, payload, target string) (Ack, error) {
	return classify(n.Name(), target, n.Sender.Nudge(ctx, target, payload))
}

// Mail posts the payload to the target's mailbox
type Mail struct {
	Sender  Sender
	Subject string
}

// Name implements Strategy
func (Mail) Name() string { return "mail" }

// Deliver implements Strategy
func (m Mail) Deliver(ctx context.Context, payload, target string) (Ack, error) {
	return classify(m.Name(), target, m.Sender.MailSend(ctx, target, m.Subject, payload))
}

func classify(strategy, target string, res shell.Result) (Ack, error) {
	ack := Ack{Strategy: strategy, Target: target, Output: res.Output, At: time.Now()}
	if res.Err != nil && res.ExitCode < 0 {
		return ack, &DeliveryError{Strategy: strategy, ExitCode: res.ExitCode, Output: res.Output, Err: res.Err}
	}
	switch gastown.DecodeDelivery(res.ExitCode, res.Output) {
	case gastown.Delivered:
		return ack, nil
	case gastown.NoTarget:
		return ack, &TargetNotFoundError{Strategy: strategy, Target: target, Output: res.Output}
	default:
		return ack, &DeliveryError{Strategy: strategy, ExitCode: res.ExitCode, Output: res.Output, Err: res.Err}
	}
}

// Fallback tries Primary and, only on a DeliveryError, Secondary
type Fallback struct {
	Primary   Strategy
	Secondary Strategy
}

// Name implements Strategy
func (f Fallback) Name() string {
	return f.Primary.Name() + "," + f.Secondary.Name()
}

// Deliver implements Strategy
func (f Fallback) Deliver(ctx context.Context, payload, target string) (Ack, error) {
	ack, err := f.Primary.Deliver(ctx, payload, target)
	first := Attempt{Strategy: f.Primary.Name(), Err: err}
	if err == nil {
		ack.Attempts = append([]Attempt{first}, ack.Attempts...)
		return ack, nil
	}

	var delivery *DeliveryError
	if !errors.As(err, &delivery) || ctx.Err() != nil {
		ack.Attempts = []Attempt{first}
		return ack, err
	}

	ack, err = f.Secondary.Deliver(ctx, payload, target)
	ack.Attempts = []Attempt{first, {Strategy: f.Secondary.Name(), Err: err}}
	return ack, err
}

// ParseStrategy builds the strategy named by the inject.strategy setting:
// "nudge", "mail", or a comma separated primary,secondary pair.
func ParseStrategy(spec string, sender Sender, subject string) (Strategy, error) {
	parts := strings.Split(spec, ",")
	build := func(name string) (Strategy, error) {
		switch strings.TrimSpace(name) {
		case "nudge":
			return Nudge{Sender: sender}, nil
		case "mail":
			return Mail{Sender: sender, Subject: subject}, nil
		}
		return nil, fmt.Errorf("unknown delivery strategy %q", name)
	}

	switch len(parts) {
	case 1:
		return build(parts[0])
	case 2:
		primary, err := build(parts[0])
		if err != nil {
			return nil, err
		}
		secondary, err := build(parts[1])
		if err != nil {
			return nil, err
		}
		return Fallback{Primary: primary, Secondary: secondary}, nil
	}
	return nil, fmt.Errorf("delivery strategy %q: at most two strategies", spec)
}
