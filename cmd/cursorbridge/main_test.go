package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/cursorbridge/bridge"
	"github.com/bazelment/cursorbridge/session"
	"github.com/bazelment/cursorbridge/toolmap"
)

// fakeAgent writes a shell script that prints a canned stream-json turn.
func fakeAgent(t *testing.T, lines ...string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, l := range lines {
		b.WriteString("printf '%s\\n' '" + l + "'\n")
	}
	path := filepath.Join(t.TempDir(), "cursor-agent")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o755))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	t.Cleanup(func() {
		promptSession, promptCwd, promptMode, promptModel, promptFormat = "", "", "", "", "openai"
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPromptCommandOpenAI(t *testing.T) {
	agent := fakeAgent(t,
		`{"type":"system","subtype":"init","session_id":"cur-9","model":"gpt-5"}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Hello"}]},"session_id":"cur-9"}`,
		`{"type":"result","subtype":"success","result":"Hello","session_id":"cur-9"}`,
	)
	t.Setenv("CURSORBRIDGE_CLI_PATH", agent)
	t.Setenv("CURSORBRIDGE_STORE", "memory")

	out, err := execute(t, "prompt", "--cwd", t.TempDir(), "say hi")
	require.NoError(t, err)

	assert.Contains(t, out, `"content":"Hello"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestPromptCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "cursor-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 'Error: Not logged in' >&2\nexit 1\n"), 0o755))
	t.Setenv("CURSORBRIDGE_CLI_PATH", path)
	t.Setenv("CURSORBRIDGE_STORE", "memory")

	out, err := execute(t, "prompt", "--format", "acp", "--cwd", t.TempDir(), "hi")
	var te *bridge.TurnError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Message, "Not logged in")
	assert.NotContains(t, out, "stopReason")
}

func TestPromptCommandEmpty(t *testing.T) {
	_, err := execute(t, "prompt")
	assert.ErrorContains(t, err, "empty prompt")
}

func TestConfigSchemaCommand(t *testing.T) {
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)
	var s map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Contains(t, s, "properties")
}

func TestTurnWriterACP(t *testing.T) {
	var buf bytes.Buffer
	w, err := newTurnWriter("acp", &buf, "s1", "m")
	require.NoError(t, err)

	require.NoError(t, w.Send(bridge.Update{Kind: bridge.UpdateText, Text: "hi"}))
	require.NoError(t, w.Send(bridge.Update{
		Kind: bridge.UpdateTool,
		Tool: &toolmap.ToolUpdate{ToolCallID: "c1", Title: "Read", Kind: toolmap.KindRead, Status: toolmap.StatusPending},
	}))
	require.NoError(t, w.Finish(&bridge.TurnResult{StopReason: bridge.StopCancelled}, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "s1", first["sessionId"])

	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "cancelled", last["stopReason"])
}

func TestTurnWriterOpenAISkipsThinking(t *testing.T) {
	var buf bytes.Buffer
	w, err := newTurnWriter("openai", &buf, "s1", "m")
	require.NoError(t, err)
	require.NoError(t, w.Send(bridge.Update{Kind: bridge.UpdateThinking, Text: "hmm"}))
	assert.Zero(t, buf.Len())
}

func TestTurnWriterUnknownFormat(t *testing.T) {
	_, err := newTurnWriter("xml", &bytes.Buffer{}, "s1", "m")
	assert.Error(t, err)
}

func TestPrintSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, []session.Session{
		{ID: "a", Mode: session.ModePlan, ResumeID: "r", LastActivity: now.Add(-2 * time.Hour), Cwd: "/w"},
		{ID: "b", Mode: session.ModeDefault, LastActivity: now.Add(-72 * time.Hour)},
	}, now))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "LAST ACTIVE")
	assert.Regexp(t, `^a\s+plan\s+-\s+yes\s+2h ago\s+/w$`, lines[1])
	assert.Regexp(t, `^b\s+default\s+-\s+no\s+3d ago\s+-$`, lines[2])
}

func TestSince(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", since(now, now.Add(-10*time.Second)))
	assert.Equal(t, "5m ago", since(now, now.Add(-5*time.Minute)))
}
