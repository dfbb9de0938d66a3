package format

import (
	"errors"

	acp "github.com/coder/acp-go-sdk"

	"github.com/bazelment/cursorbridge/bridge"
	"github.com/bazelment/cursorbridge/toolmap"
)

// ACP converts bridge updates to ACP session updates. The ToolUpdate shape
// carries over nearly field for field.
type ACP struct{}

// Update converts u. The bool is false for updates with nothing to say.
func (ACP) Update(u bridge.Update) (acp.SessionUpdate, bool) {
	switch u.Kind {
	case bridge.UpdateText:
		if u.Text == "" {
			return acp.SessionUpdate{}, false
		}
		return acp.UpdateAgentMessageText(u.Text), true
	case bridge.UpdateThinking:
		if u.Text == "" {
			return acp.SessionUpdate{}, false
		}
		return acp.UpdateAgentThoughtText(u.Text), true
	case bridge.UpdateTool:
		if u.Tool == nil {
			return acp.SessionUpdate{}, false
		}
		return toolUpdate(u.Tool), true
	}
	return acp.SessionUpdate{}, false
}

// Notification wraps the converted update for sessionID.
func (a ACP) Notification(sessionID string, u bridge.Update) (acp.SessionNotification, bool) {
	upd, ok := a.Update(u)
	if !ok {
		return acp.SessionNotification{}, false
	}
	return acp.SessionNotification{
		SessionId: acp.SessionId(sessionID),
		Update:    upd,
	}, true
}

func toolUpdate(t *toolmap.ToolUpdate) acp.SessionUpdate {
	id := acp.ToolCallId(t.ToolCallID)
	locations := toolLocations(t.Locations)

	if t.Status == toolmap.StatusPending {
		opts := []acp.ToolCallStartOpt{
			acp.WithStartKind(toolKind(t.Kind)),
			acp.WithStartStatus(acp.ToolCallStatusPending),
		}
		if len(t.RawInput) > 0 {
			opts = append(opts, acp.WithStartRawInput(t.RawInput))
		}
		if len(locations) > 0 {
			opts = append(opts, acp.WithStartLocations(locations))
		}
		return acp.StartToolCall(id, t.Title, opts...)
	}

	opts := []acp.ToolCallUpdateOpt{
		acp.WithUpdateStatus(toolStatus(t.Status)),
	}
	if content := toolContent(t.Content); len(content) > 0 {
		opts = append(opts, acp.WithUpdateContent(content))
	}
	if t.RawOutput != nil {
		opts = append(opts, acp.WithUpdateRawOutput(t.RawOutput))
	}
	if len(locations) > 0 {
		opts = append(opts, acp.WithUpdateLocations(locations))
	}
	return acp.UpdateToolCall(id, opts...)
}

func toolKind(k toolmap.Kind) acp.ToolKind {
	switch k {
	case toolmap.KindRead:
		return acp.ToolKindRead
	case toolmap.KindEdit:
		return acp.ToolKindEdit
	case toolmap.KindSearch:
		return acp.ToolKindSearch
	case toolmap.KindExecute:
		return acp.ToolKindExecute
	default:
		return acp.ToolKindOther
	}
}

func toolStatus(s toolmap.Status) acp.ToolCallStatus {
	switch s {
	case toolmap.StatusInProgress:
		return acp.ToolCallStatusInProgress
	case toolmap.StatusCompleted:
		return acp.ToolCallStatusCompleted
	case toolmap.StatusFailed:
		return acp.ToolCallStatusFailed
	default:
		return acp.ToolCallStatusPending
	}
}

func toolLocations(locs []toolmap.Location) []acp.ToolCallLocation {
	if len(locs) == 0 {
		return nil
	}
	out := make([]acp.ToolCallLocation, 0, len(locs))
	for _, l := range locs {
		loc := acp.ToolCallLocation{Path: l.Path}
		if l.Line != nil {
			loc.Line = acp.Ptr(*l.Line)
		}
		out = append(out, loc)
	}
	return out
}

func toolContent(content []toolmap.Content) []acp.ToolCallContent {
	var out []acp.ToolCallContent
	for _, c := range content {
		switch c.Type {
		case toolmap.ContentDiff:
			if c.OldText != nil {
				out = append(out, acp.ToolDiffContent(c.Path, c.NewText, *c.OldText))
			} else {
				out = append(out, acp.ToolDiffContent(c.Path, c.NewText))
			}
		case toolmap.ContentText:
			out = append(out, acp.ToolContent(acp.TextBlock(c.Text)))
		}
	}
	return out
}

// StopReason maps a finished turn to an ACP stop reason. ACP has no error
// stop reason, so a failed turn comes back as an error carrying its message.
func StopReason(res *bridge.TurnResult) (acp.StopReason, error) {
	if res == nil {
		return "", errors.New("turn produced no result")
	}
	switch res.StopReason {
	case bridge.StopEndTurn:
		return acp.StopReasonEndTurn, nil
	case bridge.StopCancelled:
		return acp.StopReasonCancelled, nil
	case bridge.StopRefusal:
		return acp.StopReasonRefusal, nil
	}
	return "", &bridge.TurnError{StopReason: res.StopReason, Message: res.Message, ExitCode: res.ExitCode}
}
