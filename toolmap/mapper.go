package toolmap

import (
	"log/slog"
	"sort"
	"time"

	"github.com/bazelment/cursorbridge/stream"
)

// callState is what the mapper remembers about an invocation between its
// started and completed events.
type callState struct {
	startedAt time.Time
	args      map[string]interface{}
	locations []Location
	name      string
	title     string
	kind      Kind
	terminal  bool
}

// Mapper converts tool_call events into ToolUpdates. It tracks each call id
// so that the lifecycle order holds even when the stream repeats or reorders
// events: a second start is ignored and nothing follows a terminal update.
//
// A Mapper serves a single turn and is not safe for concurrent use.
type Mapper struct {
	now    func() time.Time
	logger *slog.Logger
	calls  map[string]*callState
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// WithLogger sets the logger used for dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) { m.logger = l }
}

// NewMapper creates a Mapper.
func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{
		now:    time.Now,
		logger: slog.Default(),
		calls:  make(map[string]*callState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map returns the updates produced by ev, in emission order. A started event
// yields pending then in_progress; a completed event yields exactly one
// completed or failed update.
func (m *Mapper) Map(ev *stream.ToolCall, sessionID string) []ToolUpdate {
	if ev == nil || ev.CallID == "" {
		m.logger.Debug("dropping tool call without id")
		return nil
	}
	switch ev.Phase {
	case stream.ToolPhaseStarted:
		return m.start(ev, sessionID)
	case stream.ToolPhaseCompleted:
		return m.complete(ev, sessionID)
	default:
		m.logger.Debug("dropping tool call with unknown phase", "phase", ev.Phase, "call_id", ev.CallID)
		return nil
	}
}

// Pending returns the ids of calls that started but never completed, for
// callers that need to fail them when a turn ends abruptly.
func (m *Mapper) Pending() []string {
	var ids []string
	for id, st := range m.calls {
		if !st.terminal {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Abort emits a failed update for a call that will never complete. It
// returns nil for unknown or already terminal calls.
func (m *Mapper) Abort(callID, sessionID string) []ToolUpdate {
	st, ok := m.calls[callID]
	if !ok || st.terminal {
		return nil
	}
	st.terminal = true
	return []ToolUpdate{{
		SessionID:  sessionID,
		ToolCallID: callID,
		Name:       st.name,
		Title:      st.title,
		Kind:       st.kind,
		Status:     StatusFailed,
		Locations:  st.locations,
		RawInput:   st.args,
		StartedAt:  st.startedAt,
		EndedAt:    m.now(),
	}}
}

func (m *Mapper) start(ev *stream.ToolCall, sessionID string) []ToolUpdate {
	if _, seen := m.calls[ev.CallID]; seen {
		m.logger.Debug("ignoring repeated tool start", "call_id", ev.CallID)
		return nil
	}

	kind, title := Describe(ev.Name, ev.Args)
	st := &callState{
		startedAt: m.now(),
		args:      ev.Args,
		locations: argLocations(ev.Args),
		name:      ev.Name,
		title:     title,
		kind:      kind,
	}
	m.calls[ev.CallID] = st

	pending := ToolUpdate{
		SessionID:  sessionID,
		ToolCallID: ev.CallID,
		Name:       ev.Name,
		Title:      title,
		Kind:       kind,
		Status:     StatusPending,
		Locations:  st.locations,
		RawInput:   ev.Args,
		StartedAt:  st.startedAt,
	}
	running := pending
	running.Status = StatusInProgress
	return []ToolUpdate{pending, running}
}

func (m *Mapper) complete(ev *stream.ToolCall, sessionID string) []ToolUpdate {
	st, seen := m.calls[ev.CallID]
	if seen && st.terminal {
		m.logger.Debug("ignoring update after terminal status", "call_id", ev.CallID)
		return nil
	}
	if !seen {
		// Completion without a start: describe from the completion's own args.
		kind, title := Describe(ev.Name, ev.Args)
		st = &callState{
			args:      ev.Args,
			locations: argLocations(ev.Args),
			name:      ev.Name,
			title:     title,
			kind:      kind,
		}
		m.calls[ev.CallID] = st
	}
	st.terminal = true

	args := st.args
	if len(ev.Args) > 0 {
		args = ev.Args
	}
	body := resultBody(ev.Result)
	failed := isFailure(ev.Result)

	upd := ToolUpdate{
		SessionID:  sessionID,
		ToolCallID: ev.CallID,
		Name:       st.name,
		Title:      st.title,
		Kind:       st.kind,
		Status:     StatusCompleted,
		Locations:  resultLocations(st.locations, body),
		RawInput:   args,
		RawOutput:  ev.Result,
		StartedAt:  st.startedAt,
		EndedAt:    m.now(),
	}
	if failed {
		upd.Status = StatusFailed
	}

	switch {
	case st.kind == KindExecute:
		upd.Content = executeContent(ev.Result, body)
	case failed:
		upd.Content = failureContent(ev.Result, body)
	case st.kind == KindEdit:
		upd.Content = diffContent(args, body)
	}
	return []ToolUpdate{upd}
}
