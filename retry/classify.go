package retry

import (
	"context"
	"errors"
	"strings"
)

// Class is the retry disposition of a failure.
type Class int

const (
	// ClassFatal failures propagate immediately.
	ClassFatal Class = iota
	// ClassRecoverable failures are retried with backoff.
	ClassRecoverable
)

func (c Class) String() string {
	if c == ClassRecoverable {
		return "recoverable"
	}
	return "fatal"
}

// Message fragments are matched case-insensitively. Fatal fragments are
// checked first so "authentication timeout" stays fatal.
var (
	fatalFragments = []string{
		"not logged in",
		"authentication",
		"unauthorized",
		"api key",
		"invalid config",
		"configuration",
	}
	recoverableFragments = []string{
		"timeout",
		"timed out",
		"etimedout",
		"econnrefused",
		"connection refused",
		"econnreset",
		"connection reset",
		"rate limit",
		"429",
		"too many requests",
		"temporarily unavailable",
		"network",
	}
)

// Classify decides whether err is worth retrying. It inspects the message
// text, so it is a heuristic; errors marked with Permanent and context
// cancellation are always fatal, and anything unrecognized is fatal too.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	var p *permanentError
	if errors.As(err, &p) {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassFatal
	}

	msg := strings.ToLower(err.Error())
	for _, f := range fatalFragments {
		if strings.Contains(msg, f) {
			return ClassFatal
		}
	}
	for _, f := range recoverableFragments {
		if strings.Contains(msg, f) {
			return ClassRecoverable
		}
	}
	return ClassFatal
}
