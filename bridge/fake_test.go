package bridge

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/cursorbridge/metrics"
	"github.com/bazelment/cursorbridge/retry"
	"github.com/bazelment/cursorbridge/session"
	"github.com/bazelment/cursorbridge/storage"
)

// fakeProcess is a scripted subprocess. Writes to stdout/stderr go through
// pipes so the bridge sees real chunked reads.
type fakeProcess struct {
	stdoutR    *io.PipeReader
	stdoutW    *io.PipeWriter
	stderrR    *io.PipeReader
	stderrW    *io.PipeWriter
	exited     chan struct{}
	terminated chan struct{}
	code       int
	exitOnce   sync.Once
	termOnce   sync.Once
	// ignoreTerm keeps the process alive on Terminate so the script decides
	// when to exit.
	ignoreTerm bool
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{
		exited:     make(chan struct{}),
		terminated: make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Wait() (int, error) {
	<-p.exited
	return p.code, nil
}

func (p *fakeProcess) Terminate(time.Duration) {
	p.termOnce.Do(func() { close(p.terminated) })
	if !p.ignoreTerm {
		p.finish(-1)
	}
}

func (p *fakeProcess) Close() error {
	p.stdoutR.Close()
	p.stderrR.Close()
	return nil
}

func (p *fakeProcess) write(s string) {
	_, _ = p.stdoutW.Write([]byte(s))
}

func (p *fakeProcess) lines(lines ...string) {
	for _, l := range lines {
		p.write(l + "\n")
	}
}

func (p *fakeProcess) stderr(s string) {
	_, _ = p.stderrW.Write([]byte(s))
}

// finish closes both streams and exits with code.
func (p *fakeProcess) finish(code int) {
	p.exitOnce.Do(func() {
		p.stdoutW.Close()
		p.stderrW.Close()
		p.code = code
		close(p.exited)
	})
}

// script drives one launched process.
type script func(p *fakeProcess, spec LaunchSpec)

type fakeLauncher struct {
	scripts []script
	specs   []LaunchSpec
	procs   []*fakeProcess
	mu      sync.Mutex
}

func (l *fakeLauncher) Start(_ context.Context, spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	n := len(l.specs)
	l.specs = append(l.specs, spec)
	p := newFakeProcess()
	l.procs = append(l.procs, p)
	var s script
	if n < len(l.scripts) {
		s = l.scripts[n]
	} else {
		s = l.scripts[len(l.scripts)-1]
	}
	l.mu.Unlock()

	go s(p, spec)
	return p, nil
}

func (l *fakeLauncher) launches() []LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LaunchSpec(nil), l.specs...)
}

type recordingSink struct {
	onSend  func(u Update) error
	updates []Update
	mu      sync.Mutex
}

func (s *recordingSink) Send(u Update) error {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		return hook(u)
	}
	return nil
}

func (s *recordingSink) all() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

func (s *recordingSink) texts() []string {
	var out []string
	for _, u := range s.all() {
		if u.Kind == UpdateText {
			out = append(out, u.Text)
		}
	}
	return out
}

type harness struct {
	bridge   *Bridge
	sessions *session.Manager
	store    *storage.MemoryStore
	launcher *fakeLauncher
	metrics  *metrics.Tracker
	delays   []time.Duration
	// onSleep, when set, replaces the immediate return of a retry wait.
	onSleep func(ctx context.Context, d time.Duration) error
	mu      sync.Mutex
}

func newHarness(t *testing.T, scripts ...script) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewMemoryStore(),
		launcher: &fakeLauncher{scripts: scripts},
		metrics:  metrics.NewTracker(nil),
	}
	h.sessions = session.NewManager(h.store)
	engine := retry.New(retry.DefaultPolicy(), retry.WithSleep(func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		hook := h.onSleep
		h.mu.Unlock()
		if hook != nil {
			return hook(ctx, d)
		}
		return ctx.Err()
	}))

	b, err := New(Config{
		Launcher:   h.launcher,
		Sessions:   h.sessions,
		Metrics:    h.metrics,
		Retry:      engine,
		KillGrace:  100 * time.Millisecond,
		CloseGrace: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	h.bridge = b
	return h
}

func (h *harness) newSession(t *testing.T, opts session.Options) string {
	t.Helper()
	s, err := h.sessions.CreateSession(context.Background(), opts)
	require.NoError(t, err)
	return s.ID
}

func (h *harness) retryDelays() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.delays...)
}
