package bridge

import (
	"time"

	"github.com/bazelment/cursorbridge/stream"
	"github.com/bazelment/cursorbridge/toolmap"
)

// UpdateKind discriminates Update payloads.
type UpdateKind int

const (
	// UpdateText carries an assistant text delta in Text.
	UpdateText UpdateKind = iota
	// UpdateThinking carries a reasoning delta in Text.
	UpdateThinking
	// UpdateTool carries a tool lifecycle observation in Tool.
	UpdateTool
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateText:
		return "text"
	case UpdateThinking:
		return "thinking"
	case UpdateTool:
		return "tool"
	default:
		return "unknown"
	}
}

// Update is one outward observation of a turn, delivered in arrival order.
type Update struct {
	Tool      *toolmap.ToolUpdate
	SessionID string
	Text      string
	Kind      UpdateKind
}

// Sink receives a turn's updates. Send is called from the turn's goroutine
// only, one update at a time; an error cancels the turn.
type Sink interface {
	Send(u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u Update) error

func (f SinkFunc) Send(u Update) error { return f(u) }

// StopReason is why a turn ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopRefusal   StopReason = "refusal"
	StopError     StopReason = "error"
)

// TurnResult summarizes a finished turn.
type TurnResult struct {
	Usage       *stream.Usage
	StopReason  StopReason
	Disposition stream.Disposition // "" if no result event was seen
	Message     string
	ResumeID    string
	Model       string
	Duration    time.Duration
	ExitCode    int
}
