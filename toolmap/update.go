// Package toolmap turns classified tool_call events into ordered tool-update
// records following the pending, in_progress, completed or failed lifecycle.
package toolmap

import "time"

// Kind is the coarse category of a tool, used by clients to pick an icon.
type Kind string

const (
	KindRead    Kind = "read"
	KindEdit    Kind = "edit"
	KindSearch  Kind = "search"
	KindExecute Kind = "execute"
	KindOther   Kind = "other"
)

// Status is one point in a tool call's lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further updates may follow s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Location is a file touched by a tool, optionally narrowed to a line.
type Location struct {
	Line *int   `json:"line,omitempty"`
	Path string `json:"path"`
}

// ContentType discriminates Content payloads.
type ContentType string

const (
	ContentDiff ContentType = "diff"
	ContentText ContentType = "text"
)

// Content is the payload attached to a terminal update.
//
// For ContentDiff, Path and NewText are set and OldText is nil when the prior
// file state is unknown. For ContentText only Text is set.
type Content struct {
	OldText *string     `json:"oldText,omitempty"`
	Type    ContentType `json:"type"`
	Path    string      `json:"path,omitempty"`
	NewText string      `json:"newText,omitempty"`
	Text    string      `json:"text,omitempty"`
}

// ToolUpdate is one lifecycle observation of a tool invocation. Updates
// sharing a ToolCallID describe the same invocation.
type ToolUpdate struct {
	StartedAt  time.Time              `json:"startedAt,omitempty"`
	EndedAt    time.Time              `json:"endedAt,omitempty"`
	RawInput   map[string]interface{} `json:"rawInput,omitempty"`
	RawOutput  interface{}            `json:"rawOutput,omitempty"`
	SessionID  string                 `json:"sessionId"`
	ToolCallID string                 `json:"toolCallId"`
	Name       string                 `json:"name"`
	Title      string                 `json:"title"`
	Kind       Kind                   `json:"kind"`
	Status     Status                 `json:"status"`
	Locations  []Location             `json:"locations,omitempty"`
	Content    []Content              `json:"content,omitempty"`
}
