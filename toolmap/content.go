package toolmap

import (
	"fmt"
	"strings"
)

const noOutput = "(no output)"

// errorKeys mark a result as failed when present with a non-nil value.
var errorKeys = []string{"error", "failure", "rejected"}

// isFailure reports whether a tool result signals an error.
func isFailure(result interface{}) bool {
	m, ok := result.(map[string]interface{})
	if !ok {
		return false
	}
	for _, k := range errorKeys {
		if v, ok := m[k]; ok && v != nil {
			return true
		}
	}
	for _, k := range []string{"isError", "is_error"} {
		if b, ok := m[k].(bool); ok && b {
			return true
		}
	}
	return false
}

// resultBody unwraps the single-key envelope cursor-agent puts around tool
// results ({"success": {...}} or {"error": {...}}). Results that are not
// objects have no body.
func resultBody(result interface{}) map[string]interface{} {
	m, ok := result.(map[string]interface{})
	if !ok {
		return nil
	}
	for _, k := range append([]string{"success"}, errorKeys...) {
		if inner, ok := m[k].(map[string]interface{}); ok {
			return inner
		}
	}
	return m
}

// diffContent builds the diff payload for an edit-kind tool. It returns nil
// when neither the result nor the arguments carry the new file text.
func diffContent(args, body map[string]interface{}) []Content {
	newText, ok := lookupString(body, "newText", "afterFullFileContent", "new_text")
	if !ok {
		newText, ok = lookupString(args, "fileText", "contents", "content", "newText", "new_string", "new_str")
	}
	if !ok {
		return nil
	}

	c := Content{Type: ContentDiff, NewText: newText}
	if old, ok := lookupString(args, "oldText", "old_string", "old_str"); ok {
		c.OldText = &old
	} else if old, ok := lookupString(body, "oldText", "beforeFullFileContent", "old_text"); ok {
		c.OldText = &old
	}
	c.Path = argPath(args)
	if c.Path == "" {
		c.Path = firstString(body, "path")
	}
	return []Content{c}
}

// executeContent renders exit code and combined output as text.
func executeContent(result interface{}, body map[string]interface{}) []Content {
	var output string
	var exitCode *int
	if body != nil {
		output = joinOutput(body)
		exitCode = intField(body, "exitCode", "exit_code")
	} else if s, ok := result.(string); ok {
		output = s
	}
	if strings.TrimSpace(output) == "" {
		output = noOutput
	}
	text := output
	if exitCode != nil {
		text = fmt.Sprintf("Exit code: %d\n\n%s", *exitCode, output)
	}
	return []Content{{Type: ContentText, Text: text}}
}

// failureContent surfaces the error message of a failed non-execute tool.
func failureContent(result interface{}, body map[string]interface{}) []Content {
	if m, ok := result.(map[string]interface{}); ok {
		if s := firstString(m, errorKeys...); s != "" {
			return []Content{{Type: ContentText, Text: s}}
		}
	}
	if s := firstString(body, "message", "error", "reason"); s != "" {
		return []Content{{Type: ContentText, Text: s}}
	}
	return nil
}

func joinOutput(body map[string]interface{}) string {
	if s := firstString(body, "output", "interleavedOutput"); s != "" {
		return s
	}
	var parts []string
	for _, k := range []string{"stdout", "stderr"} {
		if s, ok := body[k].(string); ok && s != "" {
			parts = append(parts, strings.TrimRight(s, "\n"))
		}
	}
	return strings.Join(parts, "\n")
}

// lookupString distinguishes an absent key from an empty string value.
func lookupString(m map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s, true
		}
	}
	return "", false
}
