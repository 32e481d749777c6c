//go:build windows

package stack

import "os/exec"

func detach(cmd *exec.Cmd) {}
