// Package bridge runs prompt turns against the cursor-agent CLI. Each turn
// owns one subprocess whose NDJSON output flows through line buffering,
// classification, delta tracking and tool mapping before reaching a Sink.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/cursorbridge/metrics"
	"github.com/bazelment/cursorbridge/retry"
	"github.com/bazelment/cursorbridge/session"
)

// Config configures a Bridge. Sessions is required; everything else has a
// default.
type Config struct {
	Launcher   Launcher
	Sessions   *session.Manager
	Metrics    *metrics.Tracker
	Retry      *retry.Engine
	Logger     *slog.Logger
	Env        map[string]string
	CLIPath    string
	Model      string
	ExtraArgs  []string
	KillGrace  time.Duration // SIGTERM to SIGKILL; default 1s
	CloseGrace time.Duration // wait after stdout closes or a result arrives; default 200ms
}

// Bridge runs at most one turn per session at a time. Turns of different
// sessions run concurrently and share nothing but the session table.
type Bridge struct {
	logger *slog.Logger
	active sync.Map // session id -> *turn
	cfg    Config
}

// New creates a Bridge.
func New(cfg Config) (*Bridge, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("bridge: session manager is required")
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewTracker(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.New(retry.DefaultPolicy(), retry.WithLogger(cfg.Logger))
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = time.Second
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 200 * time.Millisecond
	}
	return &Bridge{cfg: cfg, logger: cfg.Logger}, nil
}

// Metrics returns the tracker the bridge records into.
func (b *Bridge) Metrics() *metrics.Tracker {
	return b.cfg.Metrics
}

// Prompt runs one turn for sessionID, streaming updates to sink in arrival
// order. Recoverable failures before any update was delivered are retried.
//
// The returned TurnResult is non-nil whenever a subprocess ran, including
// failed turns, so callers can report the stop reason alongside the error.
func (b *Bridge) Prompt(ctx context.Context, sessionID string, segments []string, sink Sink) (*TurnResult, error) {
	sess, err := b.cfg.Sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	t := newTurn(b, sessionID, sink, stop)
	if _, loaded := b.active.LoadOrStore(sessionID, t); loaded {
		return nil, ErrTurnInProgress
	}
	defer b.active.CompareAndDelete(sessionID, t)

	if err := b.cfg.Sessions.ClearCancelled(sessionID); err != nil {
		return nil, err
	}

	prompt := JoinPrompt(segments)
	model := sess.Model
	if model == "" {
		model = b.cfg.Model
	}
	b.cfg.Metrics.StartPrompt(sessionID, model, metrics.EstimateTokens(prompt))

	start := time.Now()
	var last *TurnResult
	res, err := retry.Do(ctx, b.cfg.Retry, func(ctx context.Context) (*TurnResult, error) {
		spec := LaunchSpec{
			CLIPath:   b.cfg.CLIPath,
			Prompt:    prompt,
			Model:     model,
			Mode:      string(sess.Mode),
			ResumeID:  b.cfg.Sessions.ResumeID(sessionID),
			WorkDir:   sess.Cwd,
			ExtraArgs: b.cfg.ExtraArgs,
			Env:       b.cfg.Env,
		}
		r, err := t.run(ctx, spec)
		if r != nil {
			last = r
		}
		return r, err
	}, retry.Context{Op: retry.OpPrompt, SessionID: sessionID})
	if res == nil {
		res = last
	}
	if err != nil && errors.Is(err, context.Canceled) && t.isCancelled() {
		// Cancelled between attempts.
		res = &TurnResult{StopReason: StopCancelled}
		if last != nil {
			res.ResumeID, res.Model, res.ExitCode = last.ResumeID, last.Model, last.ExitCode
		}
		err = nil
	}

	elapsed := time.Since(start)
	b.cfg.Metrics.RecordDuration(sessionID, elapsed)
	if res != nil {
		res.Duration = elapsed
	}

	// Persist the resume id and refresh last activity even if ctx is gone.
	if _, uerr := b.cfg.Sessions.UpdateSession(context.WithoutCancel(ctx), sessionID, session.Patch{}); uerr != nil {
		b.logger.Warn("failed to persist session after turn", "session_id", sessionID, "error", uerr)
	}

	if err != nil {
		b.logger.Warn("turn failed", "session_id", sessionID, "error", err)
	}
	return res, err
}

// Cancel flags the session cancelled and stops its active turn, if any. The
// turn reports StopCancelled once its output has drained.
func (b *Bridge) Cancel(sessionID string) error {
	if err := b.cfg.Sessions.MarkCancelled(sessionID); err != nil {
		return err
	}
	if v, ok := b.active.Load(sessionID); ok {
		v.(*turn).cancel()
	}
	return nil
}

// Active reports whether sessionID has a turn in flight.
func (b *Bridge) Active(sessionID string) bool {
	_, ok := b.active.Load(sessionID)
	return ok
}

// JoinPrompt concatenates prompt segments with blank lines between them,
// skipping empty segments.
func JoinPrompt(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
