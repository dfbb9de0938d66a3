package stream

import "encoding/json"

// wireEvent is the superset of fields found on cursor-agent stream-json
// lines. Every line is decoded into it once; Classify then probes fields in a
// fixed order.
//
// Examples:
//
//	{"type":"system","subtype":"init","session_id":"...","model":"..."}
//	{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"..."}]},"session_id":"..."}
//	{"type":"thinking","subtype":"delta","text":"...","session_id":"..."}
//	{"type":"tool_call","subtype":"started","call_id":"...","tool_call":{"readToolCall":{"args":{"path":"..."}}}}
//	{"type":"result","subtype":"success","duration_ms":1234,"is_error":false,"result":"...","session_id":"..."}
type wireEvent struct {
	Message       *wireMessage               `json:"message,omitempty"`
	ToolCall      map[string]json.RawMessage `json:"tool_call,omitempty"`
	Usage         *Usage                     `json:"usage,omitempty"`
	Result        json.RawMessage            `json:"result,omitempty"`
	Type          string                     `json:"type"`
	Subtype       string                     `json:"subtype,omitempty"`
	SessionID     string                     `json:"session_id,omitempty"`
	Model         string                     `json:"model,omitempty"`
	Text          string                     `json:"text,omitempty"`
	CallID        string                     `json:"call_id,omitempty"`
	DurationMs    int64                      `json:"duration_ms,omitempty"`
	DurationAPIMs int64                      `json:"duration_api_ms,omitempty"`
	IsError       bool                       `json:"is_error,omitempty"`
}

// wireMessage is the inner message object of an assistant event.
type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

// wireContent is one content part within an assistant message.
type wireContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// wireToolCall is the value under the single tool key of a tool_call event.
type wireToolCall struct {
	Args   map[string]interface{} `json:"args,omitempty"`
	Result interface{}            `json:"result,omitempty"`
}

// Usage reports token counts carried on a result event, when present.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
