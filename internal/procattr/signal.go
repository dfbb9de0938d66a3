package procattr

import (
	"os"
	"syscall"
	"time"
)

// SignalGroup delivers sig to every process in p's group.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// KillGroup sends SIGKILL to p's group.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}

// Terminate sends SIGTERM to p's group and, unless exited is closed within
// grace, follows up with SIGKILL. It does not block; the returned channel is
// closed once the escalation decision has been made.
func Terminate(p *os.Process, exited <-chan struct{}, grace time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if p == nil {
		close(done)
		return done
	}
	_ = SignalGroup(p, syscall.SIGTERM)
	go func() {
		defer close(done)
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-exited:
		case <-t.C:
			_ = KillGroup(p)
		}
	}()
	return done
}
