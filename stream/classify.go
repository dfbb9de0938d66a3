// Package stream classifies cursor-agent stream-json lines into typed events
// and reduces cumulative text snapshots to deltas.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// toolCallSuffix is stripped from tool payload keys ("readToolCall" -> "read").
const toolCallSuffix = "ToolCall"

// ParseError reports a line that is not a JSON object. Callers drop the line
// and log the error; it is never fatal to a turn.
type ParseError struct {
	Cause error
	Line  string
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unparseable stream line %q: %v", truncate(e.Line, 120), e.Cause)
	}
	return fmt.Sprintf("unparseable stream line %q", truncate(e.Line, 120))
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Classify parses one line into exactly one Event variant.
//
// Fields are probed in a fixed order: tool_call, result, thinking, assistant
// message content. Lines that are valid JSON but match none of these become
// Unknown. Only lines that are blank or not a JSON object return an error.
func Classify(line []byte) (Event, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, &ParseError{Line: string(line), Cause: fmt.Errorf("empty line")}
	}

	var w wireEvent
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, &ParseError{Line: string(line), Cause: err}
	}
	b := base{sessionID: w.SessionID}

	if w.Type == "tool_call" {
		if ev, ok := classifyToolCall(&w, b); ok {
			return ev, nil
		}
		return unknown(&w, b), nil
	}

	if w.Type == "result" {
		if d, ok := parseDisposition(w.Subtype); ok {
			return Result{
				Disposition:   d,
				Text:          decodeResultText(w.Result),
				IsError:       w.IsError,
				DurationMs:    w.DurationMs,
				DurationAPIMs: w.DurationAPIMs,
				Usage:         w.Usage,
				base:          b,
			}, nil
		}
		return unknown(&w, b), nil
	}

	if w.Type == "thinking" {
		switch w.Subtype {
		case "delta":
			return Thinking{Text: w.Text, Partial: true, base: b}, nil
		case "completed":
			return Thinking{Completed: true, base: b}, nil
		}
		return unknown(&w, b), nil
	}

	if w.Message != nil && (w.Type == "assistant" || w.Message.Role == "assistant") {
		var text, thinking strings.Builder
		var sawText, sawThinking bool
		for _, part := range w.Message.Content {
			switch part.Type {
			case "text":
				sawText = true
				text.WriteString(part.Text)
			case "thinking":
				sawThinking = true
				if part.Thinking != "" {
					thinking.WriteString(part.Thinking)
				} else {
					thinking.WriteString(part.Text)
				}
			}
		}
		if sawText {
			ev := AssistantText{Text: text.String(), base: b}
			if sawThinking {
				ev.Thinking = thinking.String()
			}
			return ev, nil
		}
		if sawThinking {
			return Thinking{Text: thinking.String(), base: b}, nil
		}
	}

	return unknown(&w, b), nil
}

// ResumeToken extracts the subprocess session identifier from any line,
// regardless of how the line classifies. It returns "" when absent or when
// the line is not JSON.
func ResumeToken(line []byte) string {
	var probe struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

// NormalizeToolName strips the conventional "ToolCall" suffix from a tool
// payload key. Keys without the suffix are returned verbatim.
func NormalizeToolName(key string) string {
	if name, ok := strings.CutSuffix(key, toolCallSuffix); ok && name != "" {
		return name
	}
	return key
}

func classifyToolCall(w *wireEvent, b base) (Event, bool) {
	if len(w.ToolCall) == 0 {
		return nil, false
	}

	// The payload has a single key naming the tool. If a producer ever sends
	// more, pick deterministically.
	keys := make([]string, 0, len(w.ToolCall))
	for k := range w.ToolCall {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := keys[0]

	var detail wireToolCall
	if raw := w.ToolCall[key]; len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &detail); err != nil {
			slog.Debug("tool call payload did not decode", "tool", key, "call_id", w.CallID, "error", err)
			detail = wireToolCall{}
		}
	}

	return ToolCall{
		Phase:   ToolPhase(w.Subtype),
		CallID:  w.CallID,
		Name:    NormalizeToolName(key),
		RawName: key,
		Args:    detail.Args,
		Result:  detail.Result,
		base:    b,
	}, true
}

func parseDisposition(subtype string) (Disposition, bool) {
	switch d := Disposition(subtype); d {
	case DispositionSuccess, DispositionCancelled, DispositionError, DispositionFailure, DispositionRefused:
		return d, true
	}
	return "", false
}

// decodeResultText accepts the result field as a string or any other JSON
// value; non-string values are returned as compact JSON.
func decodeResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func unknown(w *wireEvent, b base) Event {
	return Unknown{Type: w.Type, Subtype: w.Subtype, Model: w.Model, base: b}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
