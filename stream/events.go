package stream

// Kind discriminates between classified event variants.
type Kind int

const (
	// KindUnknown covers every line that matched no known shape.
	KindUnknown Kind = iota
	// KindAssistantText is assistant output text.
	KindAssistantText
	// KindThinking is a reasoning trace fragment or its completion marker.
	KindThinking
	// KindToolCall is a tool invocation lifecycle observation.
	KindToolCall
	// KindResult is the terminal disposition of a turn.
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindAssistantText:
		return "assistant_text"
	case KindThinking:
		return "thinking"
	case KindToolCall:
		return "tool_call"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

// Event is the closed set of classified stream events. The only
// implementations are AssistantText, Thinking, ToolCall, Result and Unknown.
type Event interface {
	Kind() Kind
	// SessionID is the subprocess-issued session identifier carried on the
	// line, or "" if the line had none. It doubles as the resume token.
	SessionID() string
	sealed()
}

// base carries the fields shared by all variants.
type base struct {
	sessionID string
}

func (b base) SessionID() string { return b.sessionID }
func (base) sealed()             {}

// AssistantText holds the concatenated text parts of one assistant message.
type AssistantText struct {
	Text     string
	Thinking string // thinking parts of the same message, if any
	base
}

func (AssistantText) Kind() Kind { return KindAssistantText }

// Thinking holds reasoning text. Partial events (thinking/delta) carry only
// the new fragment; thinking parts of an assistant message carry the whole
// trace so far. Completed events carry empty text.
type Thinking struct {
	Text      string
	Partial   bool
	Completed bool
	base
}

func (Thinking) Kind() Kind { return KindThinking }

// ToolPhase is the lifecycle point a tool_call event reports.
type ToolPhase string

const (
	ToolPhaseStarted   ToolPhase = "started"
	ToolPhaseCompleted ToolPhase = "completed"
)

// ToolCall is a tool invocation observation.
type ToolCall struct {
	Args    map[string]interface{}
	Result  interface{}
	Phase   ToolPhase
	CallID  string
	Name    string // normalized, e.g. "read" for "readToolCall"
	RawName string // the payload key verbatim
	base
}

func (ToolCall) Kind() Kind { return KindToolCall }

// Disposition is the terminal outcome a result event reports.
type Disposition string

const (
	DispositionSuccess   Disposition = "success"
	DispositionCancelled Disposition = "cancelled"
	DispositionError     Disposition = "error"
	DispositionFailure   Disposition = "failure"
	DispositionRefused   Disposition = "refused"
)

// IsSuccess reports whether the disposition ends the turn successfully.
func (d Disposition) IsSuccess() bool { return d == DispositionSuccess }

// Result is the terminal event of a turn.
type Result struct {
	Usage         *Usage
	Disposition   Disposition
	Text          string
	DurationMs    int64
	DurationAPIMs int64
	IsError       bool
	base
}

func (Result) Kind() Kind { return KindResult }

// Unknown is any line that parsed as JSON but matched no known shape.
// Downstream stages ignore it; its session id and model remain usable.
type Unknown struct {
	Type    string
	Subtype string
	Model   string
	base
}

func (Unknown) Kind() Kind { return KindUnknown }
