package stack

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// TraceDaemon describes a launched gastown-trace process
type TraceDaemon struct {
	PID     int
	URL     string
	LogPath string
	Alive   bool
	ExitErr error
}

// TraceLauncher starts the trace viewer as a detached background process
type TraceLauncher struct {
	Bin     string
	LogsURL string
	Port    int
	Settle  time.Duration
}

// Launch starts the daemon with output going to logPath, then waits Settle
// to see whether it stays up. The process is not tied to ctx and keeps
// running after the harness exits.
func (l TraceLauncher) Launch(ctx context.Context, logPath string) (TraceDaemon, error) {
	d := TraceDaemon{
		URL:     fmt.Sprintf("http://localhost:%d", l.Port),
		LogPath: logPath,
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return d, fmt.Errorf("creating trace log: %w", err)
	}

	cmd := exec.Command(l.Bin, "--logs", l.LogsURL, "--port", strconv.Itoa(l.Port))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return d, fmt.Errorf("starting %s: %w", l.Bin, err)
	}
	d.PID = cmd.Process.Pid

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		logFile.Close()
	}()

	settle := l.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()

	select {
	case err := <-exited:
		d.ExitErr = err
		if d.ExitErr == nil {
			d.ExitErr = fmt.Errorf("exited immediately")
		}
	case <-timer.C:
		d.Alive = true
	case <-ctx.Done():
		d.Alive = true
		return d, ctx.Err()
	}
	return d, nil
}
