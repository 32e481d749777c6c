//go:build !windows

package stack

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so terminal signals
// aimed at the harness do not reach it
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
