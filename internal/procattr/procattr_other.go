//go:build !linux

// Package procattr places agent subprocesses in their own process group so
// a turn can signal the agent together with anything it spawned.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set gives cmd its own process group. There is no parent-death signal
// outside Linux.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
