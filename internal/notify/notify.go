// Package notify tells people how a harness run ended.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/gastown-harness/internal/config"
	"github.com/hochfrequenz/gastown-harness/internal/domain"
	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title     string
	Message   string
	Type      NotificationType
	RunID     string // Optional run reference
	ReportURL string // Optional link or path to the run's README
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromConfig builds the notifiers enabled in cfg
func FromConfig(cfg config.NotificationsConfig, runner shell.Runner) Notifier {
	var ns []Notifier
	if cfg.Desktop {
		ns = append(ns, NewDesktopNotifier(true, runner))
	}
	if cfg.SlackWebhook != "" {
		ns = append(ns, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(ns) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(ns...)
}

// ForRun builds the end-of-run notification. A landed convoy is a success,
// a timed out or failed one a warning, and a fatal error an error. An
// interrupted run is a warning even though it carries the context error.
func ForRun(run domain.RunInfo, reportURL string) Notification {
	n := Notification{RunID: run.ID, ReportURL: reportURL}
	switch {
	case run.Status == domain.RunInterrupted:
		n.Type = NotifyWarning
		n.Title = "Gastown run interrupted"
		n.Message = fmt.Sprintf("Run %s was interrupted", run.Key)
	case run.Error != "":
		n.Type = NotifyError
		n.Title = "Gastown run aborted"
		n.Message = fmt.Sprintf("Run %s stopped: %s", run.Key, run.Error)
	case run.State == domain.StateLanded:
		n.Type = NotifySuccess
		n.Title = "Gastown convoy landed"
		n.Message = fmt.Sprintf("Run %s: convoy landed", run.Key)
	case run.State == domain.StateTimedOut:
		n.Type = NotifyWarning
		n.Title = "Gastown convoy timed out"
		n.Message = fmt.Sprintf("Run %s: convoy did not land within %s", run.Key, run.Deadline)
	case run.State == domain.StateFailed:
		n.Type = NotifyWarning
		n.Title = "Gastown convoy failed"
		n.Message = fmt.Sprintf("Run %s: convoy failed", run.Key)
	default:
		n.Type = NotifyInfo
		n.Title = "Gastown run finished"
		n.Message = fmt.Sprintf("Run %s finished", run.Key)
	}
	return n
}
