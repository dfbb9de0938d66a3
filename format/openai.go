// Package format renders bridge updates in the two outward protocols: OpenAI
// streaming chat chunks and ACP session updates. It only encodes; transport
// belongs to the caller.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/bazelment/cursorbridge/bridge"
	"github.com/bazelment/cursorbridge/toolmap"
)

const chunkObject = "chat.completion.chunk"

// Finish reasons with no OpenAI equivalent.
const (
	FinishReasonCancelled openai.FinishReason = "cancelled"
	FinishReasonError     openai.FinishReason = "error"
)

// OpenAI encodes one turn as a chat.completion.chunk stream. All chunks of a
// turn share an id and creation time. Not safe for concurrent use; a turn's
// updates arrive sequentially anyway.
type OpenAI struct {
	tools    map[string]int // tool call id -> tool_calls index
	id       string
	model    string
	created  int64
	sentRole bool
}

// NewOpenAI starts a stream for model.
func NewOpenAI(model string) *OpenAI {
	return &OpenAI{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
		tools:   make(map[string]int),
	}
}

// ID returns the completion id shared by every chunk.
func (o *OpenAI) ID() string { return o.id }

// Chunk converts u to a stream chunk. It returns nil for updates the chat
// protocol has no place for: thinking text and terminal tool states.
func (o *OpenAI) Chunk(u bridge.Update) *openai.ChatCompletionStreamResponse {
	var delta openai.ChatCompletionStreamChoiceDelta
	switch u.Kind {
	case bridge.UpdateText:
		if u.Text == "" {
			return nil
		}
		delta.Content = u.Text
	case bridge.UpdateTool:
		tc, ok := o.toolDelta(u.Tool)
		if !ok {
			return nil
		}
		delta.ToolCalls = []openai.ToolCall{tc}
	default:
		return nil
	}

	if !o.sentRole {
		delta.Role = openai.ChatMessageRoleAssistant
		o.sentRole = true
	}
	return o.response(openai.ChatCompletionStreamChoice{Delta: delta})
}

// toolDelta announces a call when it becomes pending and streams its
// arguments once it is in progress.
func (o *OpenAI) toolDelta(t *toolmap.ToolUpdate) (openai.ToolCall, bool) {
	if t == nil {
		return openai.ToolCall{}, false
	}
	switch t.Status {
	case toolmap.StatusPending:
		if _, seen := o.tools[t.ToolCallID]; seen {
			return openai.ToolCall{}, false
		}
		idx := len(o.tools)
		o.tools[t.ToolCallID] = idx
		return openai.ToolCall{
			Index: &idx,
			ID:    t.ToolCallID,
			Type:  openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name: toolName(t),
			},
		}, true
	case toolmap.StatusInProgress:
		idx, ok := o.tools[t.ToolCallID]
		if !ok {
			return openai.ToolCall{}, false
		}
		args := "{}"
		if len(t.RawInput) > 0 {
			b, err := json.Marshal(t.RawInput)
			if err != nil {
				return openai.ToolCall{}, false
			}
			args = string(b)
		}
		return openai.ToolCall{
			Index:    &idx,
			Function: openai.FunctionCall{Arguments: args},
		}, true
	default:
		return openai.ToolCall{}, false
	}
}

func toolName(t *toolmap.ToolUpdate) string {
	if t.Name != "" {
		return t.Name
	}
	return string(t.Kind)
}

// Final builds the terminating chunk: an empty delta with a finish reason and,
// when the agent reported it, token usage.
func (o *OpenAI) Final(res *bridge.TurnResult) *openai.ChatCompletionStreamResponse {
	reason := FinishReasonError
	if res != nil {
		reason = FinishReason(res.StopReason)
	}
	resp := o.response(openai.ChatCompletionStreamChoice{FinishReason: reason})
	if res != nil && res.Usage != nil {
		resp.Usage = &openai.Usage{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			TotalTokens:      res.Usage.InputTokens + res.Usage.OutputTokens,
		}
	}
	return resp
}

func (o *OpenAI) response(choice openai.ChatCompletionStreamChoice) *openai.ChatCompletionStreamResponse {
	return &openai.ChatCompletionStreamResponse{
		ID:      o.id,
		Object:  chunkObject,
		Created: o.created,
		Model:   o.model,
		Choices: []openai.ChatCompletionStreamChoice{choice},
	}
}

// FinishReason maps a stop reason onto the chat protocol.
func FinishReason(r bridge.StopReason) openai.FinishReason {
	switch r {
	case bridge.StopEndTurn:
		return openai.FinishReasonStop
	case bridge.StopRefusal:
		return openai.FinishReasonContentFilter
	case bridge.StopCancelled:
		return FinishReasonCancelled
	default:
		return FinishReasonError
	}
}

// WriteSSE writes v as one server-sent event.
func WriteSSE(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// WriteDone writes the stream terminator.
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, "data: [DONE]\n\n")
	return err
}
