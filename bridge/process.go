package bridge

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bazelment/cursorbridge/internal/procattr"
)

// LaunchSpec is everything needed to start one turn's subprocess.
type LaunchSpec struct {
	Env       map[string]string
	CLIPath   string
	Prompt    string
	Model     string
	Mode      string
	ResumeID  string
	WorkDir   string
	ExtraArgs []string
}

// Process is a running agent subprocess.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code. A
	// process killed by a signal reports -1.
	Wait() (int, error)
	// Terminate asks the process to stop and kills it if it has not exited
	// within grace. It does not block.
	Terminate(grace time.Duration)
	// Close releases the output pipes.
	Close() error
}

// Launcher starts subprocesses.
type Launcher interface {
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
}

// DefaultCLIPath is used when LaunchSpec.CLIPath is empty.
const DefaultCLIPath = "cursor-agent"

// BuildArgs builds the cursor-agent argument list.
//
//	cursor-agent -p --output-format stream-json [--resume id] [--model m] [--mode plan] [extra...] <prompt>
func BuildArgs(spec LaunchSpec) []string {
	args := []string{"-p", "--output-format", "stream-json"}
	if spec.ResumeID != "" {
		args = append(args, "--resume", spec.ResumeID)
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.Mode != "" && spec.Mode != "default" {
		args = append(args, "--mode", spec.Mode)
	}
	args = append(args, spec.ExtraArgs...)
	return append(args, spec.Prompt)
}

// ExecLauncher runs cursor-agent as a real subprocess in its own process
// group.
type ExecLauncher struct{}

func (ExecLauncher) Start(_ context.Context, spec LaunchSpec) (Process, error) {
	cliPath := spec.CLIPath
	if cliPath == "" {
		cliPath = DefaultCLIPath
	}

	// The turn owns cancellation (SIGTERM, then SIGKILL), so the command is
	// not bound to a context.
	cmd := exec.Command(cliPath, BuildArgs(spec)...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	procattr.Set(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &CLINotFoundError{Path: cliPath, Cause: err}
		}
		return nil, &ProcessError{Message: "failed to start CLI process", Cause: err}
	}

	p := &execProcess{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
		exited: make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

type execProcess struct {
	waitErr  error
	cmd      *exec.Cmd
	stdout   *os.File
	stderr   *os.File
	exited   chan struct{}
	exitCode int
	closeMu  sync.Once
}

// reap waits on the OS process directly rather than cmd.Wait, so exit is
// observed even while a grandchild still holds the output pipes open.
func (p *execProcess) reap() {
	state, err := p.cmd.Process.Wait()
	if err != nil {
		p.waitErr = &ProcessError{Message: "failed to wait for CLI process", Cause: err}
		p.exitCode = -1
	} else {
		p.exitCode = state.ExitCode()
	}
	close(p.exited)
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, p.waitErr
}

func (p *execProcess) Terminate(grace time.Duration) {
	select {
	case <-p.exited:
		return
	default:
	}
	procattr.Terminate(p.cmd.Process, p.exited, grace)
}

func (p *execProcess) Close() error {
	var err error
	p.closeMu.Do(func() {
		err = errors.Join(p.stdout.Close(), p.stderr.Close())
	})
	return err
}
