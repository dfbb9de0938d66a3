package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/cursorbridge/internal/ndjson"
	"github.com/bazelment/cursorbridge/retry"
	"github.com/bazelment/cursorbridge/stream"
	"github.com/bazelment/cursorbridge/toolmap"
)

// turnState is the lifecycle of one subprocess attempt.
//
//	running ──(result | stdout closed | exit | cancel)──▶ draining ──(all closed | grace)──▶ terminated
type turnState int

const (
	stateRunning turnState = iota
	stateDraining
	stateTerminated
)

func (s turnState) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	stderrTailSize = 8 << 10
	readChunkSize  = 32 << 10
)

// turn is one Prompt call. It may span several subprocess attempts when the
// retry engine retries; cancellation applies to all of them.
type turn struct {
	b         *Bridge
	sink      Sink
	logger    *slog.Logger
	proc      Process
	stop      context.CancelFunc // cancels the turn's context
	sessionID string
	cancelled bool
	emitted   bool
	state     turnState
	mu        sync.Mutex
	cancelOne sync.Once
}

func newTurn(b *Bridge, sessionID string, sink Sink, stop context.CancelFunc) *turn {
	return &turn{
		b:         b,
		sink:      sink,
		stop:      stop,
		sessionID: sessionID,
		logger:    b.logger.With("session_id", sessionID),
	}
}

// cancel transitions the turn to draining and asks the subprocess to stop.
// Output already written is still consumed. A pending retry wait is cut
// short.
func (t *turn) cancel() {
	t.cancelOne.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		if t.state == stateRunning {
			t.state = stateDraining
		}
		proc := t.proc
		t.mu.Unlock()

		t.logger.Info("cancelling turn")
		if proc != nil {
			proc.Terminate(t.b.cfg.KillGrace)
		}
		if t.stop != nil {
			t.stop()
		}
	})
}

func (t *turn) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// attach records the attempt's process. A cancel that raced ahead of the
// launch is applied now.
func (t *turn) attach(p Process) {
	t.mu.Lock()
	t.proc = p
	t.state = stateRunning
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		p.Terminate(t.b.cfg.KillGrace)
	}
}

func (t *turn) detach() {
	t.mu.Lock()
	t.proc = nil
	t.state = stateTerminated
	t.mu.Unlock()
}

func (t *turn) drain() {
	t.mu.Lock()
	if t.state == stateRunning {
		t.state = stateDraining
	}
	t.mu.Unlock()
}

// attempt holds the per-subprocess pipeline state.
type attempt struct {
	*turn
	mapper   *toolmap.Mapper
	result   *stream.Result
	sinkErr  error
	resumeID string
	model    string
	lines    ndjson.LineBuffer
	text     stream.DeltaTracker
	thinking stream.DeltaTracker
}

type exitStatus struct {
	err  error
	code int
}

// run launches one subprocess and consumes its output until the turn
// terminates. Non-success outcomes come back as *TurnError, wrapped in
// retry.Permanent once anything reached the sink.
func (t *turn) run(ctx context.Context, spec LaunchSpec) (*TurnResult, error) {
	if t.isCancelled() {
		return &TurnResult{StopReason: StopCancelled}, nil
	}

	proc, err := t.b.cfg.Launcher.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	t.attach(proc)
	defer func() {
		proc.Close()
		t.detach()
	}()

	a := &attempt{
		turn:   t,
		mapper: toolmap.NewMapper(toolmap.WithLogger(t.logger)),
	}

	stop := make(chan struct{})
	defer close(stop)

	chunks := make(chan []byte, 16)
	go pump(proc.Stdout(), chunks, stop)

	stderr := newTailBuffer(stderrTailSize)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		_, _ = io.Copy(stderr, proc.Stderr())
	}()

	exitCh := make(chan exitStatus, 1)
	go func() {
		code, err := proc.Wait()
		exitCh <- exitStatus{code: code, err: err}
	}()

	var (
		grace      *time.Timer
		graceC     <-chan time.Time
		exit       exitStatus
		exited     bool
		stdoutOpen = true
		ctxDone    = ctx.Done()
	)
	startGrace := func() {
		if grace == nil {
			grace = time.NewTimer(t.b.cfg.CloseGrace)
			graceC = grace.C
		}
	}
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				stdoutOpen = false
				a.flush()
				t.drain()
				if exited {
					break loop
				}
				startGrace()
				continue
			}
			for _, line := range a.lines.Push(string(chunk)) {
				a.handleLine(line)
			}
			if a.result != nil {
				t.drain()
				startGrace()
			}
		case exit = <-exitCh:
			exitCh = nil
			exited = true
			t.drain()
			if !stdoutOpen {
				break loop
			}
			startGrace()
		case <-graceC:
			break loop
		case <-ctxDone:
			ctxDone = nil
			t.cancel()
		}
	}

	// Anything the pump already delivered is part of the turn.
	a.drainBuffered(chunks)

	if !exited {
		exit, exited = t.reap(proc, exitCh)
	}
	select {
	case <-stderrDone:
	case <-time.After(t.b.cfg.CloseGrace):
	}

	for _, id := range a.mapper.Pending() {
		for _, u := range a.mapper.Abort(id, t.sessionID) {
			a.emitTool(u)
		}
	}

	return a.resolve(exit, exited, stderr.String())
}

// reap stops a process that outlived its output and waits for it to exit.
func (t *turn) reap(proc Process, exitCh <-chan exitStatus) (exitStatus, bool) {
	proc.Terminate(t.b.cfg.KillGrace)
	select {
	case st := <-exitCh:
		return st, true
	case <-time.After(t.b.cfg.KillGrace + time.Second):
		t.logger.Warn("subprocess did not exit after kill")
		return exitStatus{code: -1}, false
	}
}

func (a *attempt) drainBuffered(chunks <-chan []byte) {
	if chunks == nil {
		return
	}
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				a.flush()
				return
			}
			for _, line := range a.lines.Push(string(chunk)) {
				a.handleLine(line)
			}
		default:
			a.flush()
			return
		}
	}
}

// flush handles a final line that lacked a terminator.
func (a *attempt) flush() {
	if rest := a.lines.Flush(); strings.TrimSpace(rest) != "" {
		a.handleLine(rest)
	}
}

// handleLine classifies, maps and emits one line before the next is read.
func (a *attempt) handleLine(line string) {
	ev, err := stream.Classify([]byte(line))
	if err != nil {
		a.logger.Debug("dropping unparseable line", "error", err)
		return
	}

	if token := ev.SessionID(); token != "" && a.resumeID == "" {
		a.resumeID = token
		if set, err := a.b.cfg.Sessions.SetResumeID(a.sessionID, token); err != nil {
			a.logger.Warn("failed to record resume id", "error", err)
		} else if set {
			a.logger.Debug("recorded resume id", "resume_id", token)
		}
	}

	switch e := ev.(type) {
	case stream.AssistantText:
		if e.Thinking != "" {
			if d := a.thinking.Update(e.Thinking); d != "" {
				a.emit(Update{Kind: UpdateThinking, Text: d})
			}
		}
		if d := a.text.Update(e.Text); d != "" {
			a.emit(Update{Kind: UpdateText, Text: d})
		}
	case stream.Thinking:
		switch {
		case e.Completed:
			a.thinking.Reset()
		case e.Partial:
			if d := a.thinking.Update(a.thinking.Last() + e.Text); d != "" {
				a.emit(Update{Kind: UpdateThinking, Text: d})
			}
		default:
			if d := a.thinking.Update(e.Text); d != "" {
				a.emit(Update{Kind: UpdateThinking, Text: d})
			}
		}
	case stream.ToolCall:
		for _, u := range a.mapper.Map(&e, a.sessionID) {
			if u.Status == toolmap.StatusPending {
				a.b.cfg.Metrics.RecordToolCall(a.sessionID)
			}
			a.emitTool(u)
		}
	case stream.Result:
		if a.result == nil {
			r := e
			a.result = &r
			if e.Usage != nil {
				a.b.cfg.Metrics.RecordUsage(a.sessionID, e.Usage.InputTokens, e.Usage.OutputTokens)
			}
		}
	case stream.Unknown:
		if e.Model != "" && a.model == "" {
			a.model = e.Model
			a.b.cfg.Metrics.SetModel(a.sessionID, e.Model)
		}
	}
}

func (a *attempt) emitTool(u toolmap.ToolUpdate) {
	a.emit(Update{Kind: UpdateTool, Tool: &u})
}

func (a *attempt) emit(u Update) {
	if a.sinkErr != nil {
		return
	}
	u.SessionID = a.sessionID
	a.emitted = true
	if err := a.sink.Send(u); err != nil {
		a.sinkErr = err
		a.logger.Warn("sink rejected update, cancelling turn", "error", err)
		a.cancel()
	}
}

// resolve picks the stop reason. Cancellation wins over everything; then an
// explicit result event; then the exit code.
func (a *attempt) resolve(exit exitStatus, exited bool, stderrTail string) (*TurnResult, error) {
	res := &TurnResult{
		ResumeID: a.resumeID,
		Model:    a.model,
		ExitCode: exit.code,
	}
	stderrTail = strings.TrimSpace(stderrTail)

	switch {
	case a.isCancelled() || a.b.cfg.Sessions.IsCancelled(a.sessionID):
		res.StopReason = StopCancelled
	case a.result != nil:
		res.Disposition = a.result.Disposition
		res.Usage = a.result.Usage
		res.Message = a.result.Text
		switch a.result.Disposition {
		case stream.DispositionSuccess:
			res.StopReason = StopEndTurn
		case stream.DispositionCancelled:
			res.StopReason = StopCancelled
		case stream.DispositionRefused:
			res.StopReason = StopRefusal
		default:
			res.StopReason = StopError
			if res.Message == "" {
				res.Message = firstNonEmpty(stderrTail, "agent reported "+string(a.result.Disposition))
			}
		}
	case exited && exit.err == nil && exit.code == 0:
		res.StopReason = StopEndTurn
	default:
		res.StopReason = StopError
		switch {
		case stderrTail != "":
			res.Message = stderrTail
		case exit.err != nil:
			res.Message = exit.err.Error()
		case !exited:
			res.Message = "subprocess did not exit"
		default:
			res.Message = fmt.Sprintf("process exited with code %d", exit.code)
		}
	}

	a.logger.Debug("turn resolved", "stop_reason", res.StopReason, "exit_code", exit.code, "disposition", res.Disposition)

	if a.sinkErr != nil {
		return res, retry.Permanent(fmt.Errorf("delivering update: %w", a.sinkErr))
	}
	if res.StopReason != StopError {
		return res, nil
	}
	err := &TurnError{StopReason: res.StopReason, Message: res.Message, ExitCode: exit.code}
	if a.emitted {
		return res, retry.Permanent(err)
	}
	return res, err
}

// pump copies r into chunks until EOF or until stop is closed.
func pump(r io.Reader, chunks chan<- []byte, stop <-chan struct{}) {
	defer close(chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-stop:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
	mu  sync.Mutex
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
