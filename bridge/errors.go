package bridge

import (
	"errors"
	"fmt"
)

// ErrTurnInProgress is returned by Prompt when the session already has an
// active turn.
var ErrTurnInProgress = errors.New("turn already in progress")

// TurnError reports a turn that ended with a non-success stop reason. Its
// message is what retry classification inspects.
type TurnError struct {
	StopReason StopReason
	Message    string
	ExitCode   int
}

func (e *TurnError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("turn failed (%s, exit code %d): %s", e.StopReason, e.ExitCode, e.Message)
	}
	return fmt.Sprintf("turn failed (%s): %s", e.StopReason, e.Message)
}

// ProcessError represents a failure to start or talk to the subprocess.
type ProcessError struct {
	Cause   error
	Message string
}

func (e *ProcessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("process error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// CLINotFoundError indicates the cursor-agent binary was not found.
type CLINotFoundError struct {
	Cause error
	Path  string
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("CLI binary not found at %q: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error {
	return e.Cause
}
