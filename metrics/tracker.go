// Package metrics keeps per-session prompt counters in memory and derives
// windowed aggregates from them. Nothing here is persisted.
package metrics

import (
	"sync"
	"time"
	"unicode/utf8"
)

// PromptMetrics are the counters for one session.
type PromptMetrics struct {
	Timestamp    time.Time     `json:"timestamp"` // start of the latest prompt
	SessionID    string        `json:"session_id"`
	Model        string        `json:"model,omitempty"`
	PromptTokens int           `json:"prompt_tokens"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Prompts      int           `json:"prompts"`
	ToolCalls    int           `json:"tool_calls"`
	Duration     time.Duration `json:"duration"`
}

// AggregateMetrics rolls up sessions active within a window.
type AggregateMetrics struct {
	Sessions        int           `json:"sessions"`
	TotalPrompts    int           `json:"total_prompts"`
	TotalToolCalls  int           `json:"total_tool_calls"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	now      func() time.Time
	sessions map[string]*PromptMetrics
	// turnTokens is the prompt token count credited to each session's
	// current turn.
	turnTokens map[string]int
	mu         sync.Mutex
}

// NewTracker creates a Tracker. A nil clock selects time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:        now,
		sessions:   make(map[string]*PromptMetrics),
		turnTokens: make(map[string]int),
	}
}

func (t *Tracker) get(sessionID string) *PromptMetrics {
	m, ok := t.sessions[sessionID]
	if !ok {
		m = &PromptMetrics{SessionID: sessionID, Timestamp: t.now()}
		t.sessions[sessionID] = m
	}
	return m
}

// StartPrompt counts a prompt for the session, creating its metrics on the
// first call.
func (t *Tracker) StartPrompt(sessionID, model string, promptTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.get(sessionID)
	m.Prompts++
	m.PromptTokens += promptTokens
	t.turnTokens[sessionID] = promptTokens
	m.Timestamp = t.now()
	if model != "" {
		m.Model = model
	}
}

// SetModel records the model reported by the subprocess.
func (t *Tracker) SetModel(sessionID, model string) {
	if model == "" {
		return
	}
	t.mu.Lock()
	t.get(sessionID).Model = model
	t.mu.Unlock()
}

// RecordToolCall counts one tool invocation.
func (t *Tracker) RecordToolCall(sessionID string) {
	t.mu.Lock()
	t.get(sessionID).ToolCalls++
	t.mu.Unlock()
}

// RecordDuration adds turn wall time.
func (t *Tracker) RecordDuration(sessionID string, d time.Duration) {
	t.mu.Lock()
	t.get(sessionID).Duration += d
	t.mu.Unlock()
}

// RecordUsage folds token counts reported by a result event. Reported input
// tokens replace the current turn's StartPrompt estimate when larger; earlier
// turns keep their counts.
func (t *Tracker) RecordUsage(sessionID string, inputTokens, outputTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.get(sessionID)
	m.OutputTokens += outputTokens
	if turn := t.turnTokens[sessionID]; inputTokens > turn {
		m.PromptTokens += inputTokens - turn
		t.turnTokens[sessionID] = inputTokens
	}
}

// Get returns a copy of the session's metrics.
func (t *Tracker) Get(sessionID string) (PromptMetrics, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.sessions[sessionID]
	if !ok {
		return PromptMetrics{}, false
	}
	return *m, true
}

// Aggregate sums sessions whose latest prompt started within window of now.
// A non-positive window includes everything.
func (t *Tracker) Aggregate(window time.Duration) AggregateMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = t.now().Add(-window)
	}

	var agg AggregateMetrics
	for _, m := range t.sessions {
		if window > 0 && m.Timestamp.Before(cutoff) {
			continue
		}
		agg.Sessions++
		agg.TotalPrompts += m.Prompts
		agg.TotalToolCalls += m.ToolCalls
		agg.TotalDuration += m.Duration
	}
	if agg.TotalPrompts > 0 {
		agg.AverageDuration = agg.TotalDuration / time.Duration(agg.TotalPrompts)
	}
	return agg
}

// Reset drops the session's metrics, or all metrics when sessionID is "".
func (t *Tracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sessionID == "" {
		t.sessions = make(map[string]*PromptMetrics)
		t.turnTokens = make(map[string]int)
		return
	}
	delete(t.sessions, sessionID)
	delete(t.turnTokens, sessionID)
}

// EstimateTokens approximates a token count as one token per four
// characters, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
