// Package retry runs fallible operations with bounded exponential backoff,
// retrying only failures classified as recoverable.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Op names the kind of operation being retried. It is used for logging and
// error messages only and does not change the policy.
type Op string

const (
	OpPrompt Op = "prompt"
	OpTool   Op = "tool"
	OpAuth   Op = "auth"
)

// Context describes the operation being retried.
type Context struct {
	Op        Op
	SessionID string
}

// Policy bounds retrying.
type Policy struct {
	MaxRetries int           // attempts after the first; 0 disables retrying
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on any single delay
}

// DefaultPolicy returns 3 retries starting at 1s and capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Delay returns the backoff before retry number attempt (1-based):
// min(BaseDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.backOff()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// backOff returns an unjittered exponential schedule for the policy. A
// non-positive MaxDelay leaves delays uncapped.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine executes operations under a Policy.
type Engine struct {
	sleep    SleepFunc
	classify func(error) Class
	logger   *slog.Logger
	policy   Policy
}

// Option configures an Engine.
type Option func(*Engine)

// WithSleep replaces the sleep primitive, typically in tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClassifier replaces Classify.
func WithClassifier(fn func(error) Class) Option {
	return func(e *Engine) { e.classify = fn }
}

// WithLogger sets the logger used for retry attempts.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine.
func New(policy Policy, opts ...Option) *Engine {
	e := &Engine{
		policy:   policy,
		sleep:    sleepContext,
		classify: Classify,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Run calls op until it succeeds, fails fatally, or the policy is exhausted.
// Fatal failures are returned as-is. Exhaustion returns an *ExhaustedError
// wrapping the last failure. Cancelling ctx interrupts the backoff sleep.
func (e *Engine) Run(ctx context.Context, op func(ctx context.Context) error, rc Context) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, rc)
	return err
}

// Do is Run for operations that produce a value.
func Do[T any](ctx context.Context, e *Engine, op func(ctx context.Context) (T, error), rc Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var (
		out      T
		last     error
		attempts int
		fatal    bool
	)
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		v, err := op(ctx)
		if err == nil {
			out = v
			return nil
		}
		last = err
		if e.classify(err) == ClassFatal {
			fatal = true
			return backoff.Permanent(unwrapPermanent(err))
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		e.logger.Warn("retrying after recoverable failure",
			"op", rc.Op,
			"session_id", rc.SessionID,
			"attempt", attempts,
			"delay", delay,
			"error", err)
	}

	maxRetries := e.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(e.policy.backOff(), uint64(maxRetries)), ctx)

	err := backoff.RetryNotifyWithTimer(operation, b, notify, &sleepTimer{ctx: ctx, sleep: e.sleep})
	switch {
	case err == nil:
		return out, nil
	case fatal:
		return zero, err
	case ctx.Err() != nil:
		return zero, fmt.Errorf("%s: retry interrupted: %w", rc.Op, ctx.Err())
	default:
		return zero, &ExhaustedError{Op: rc.Op, Attempts: attempts, Err: last}
	}
}

// sleepTimer adapts a SleepFunc to backoff.Timer. Stop waits for an
// in-flight sleep to return.
type sleepTimer struct {
	ctx    context.Context
	sleep  SleepFunc
	c      chan time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *sleepTimer) Start(d time.Duration) {
	if t.c == nil {
		t.c = make(chan time.Time, 1)
	}
	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(t.ctx)
	done := make(chan struct{})
	t.cancel, t.done = cancel, done
	go func() {
		defer close(done)
		if t.sleep(ctx, d) != nil {
			return
		}
		select {
		case t.c <- time.Now():
		default:
		}
	}()
}

func (t *sleepTimer) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (t *sleepTimer) C() <-chan time.Time {
	return t.c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
