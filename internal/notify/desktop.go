package notify

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hochfrequenz/gastown-harness/internal/shell"
)

// DesktopNotifier sends desktop notifications
type DesktopNotifier struct {
	enabled bool
	runner  shell.Runner
	goos    string
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool, runner shell.Runner) *DesktopNotifier {
	if runner == nil {
		runner = shell.Exec{}
	}
	return &DesktopNotifier{enabled: enabled, runner: runner, goos: runtime.GOOS}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var res shell.Result
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, n.Message, n.Title)
		res = d.runner.Run(ctx, "osascript", []string{"-e", script})
	case "linux":
		res = d.runner.Run(ctx, "notify-send", []string{"-i", IconForType(n.Type), n.Title, n.Message})
	default:
		return nil // Unsupported
	}
	if !res.OK() {
		if res.Err != nil {
			return fmt.Errorf("desktop notification: %w", res.Err)
		}
		return fmt.Errorf("desktop notification: %s exit %d: %s", res.Name, res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
