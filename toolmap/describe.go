package toolmap

import (
	"fmt"
	"strings"
)

// describer derives the kind and title of a tool from its arguments.
type describer func(args map[string]interface{}) (Kind, string)

// exactTools is consulted first, keyed by lowercase normalized tool name.
var exactTools = map[string]describer{
	"read":           describeRead,
	"readfile":       describeRead,
	"write":          describeFileOp("Write"),
	"edit":           describeFileOp("Edit"),
	"strreplace":     describeFileOp("Edit"),
	"multiedit":      describeFileOp("Edit"),
	"delete":         describeFileOp("Delete"),
	"grep":           describeGrep,
	"semsearch":      describeSemanticSearch,
	"codebasesearch": describeSemanticSearch,
	"glob":           describeGlob,
	"ls":             describeList,
	"shell":          describeShell,
	"bash":           describeShell,
	"terminal":       describeShell,
	"updatetodos":    describeTodos,
	"todo":           describeTodos,
	"todowrite":      describeTodos,
	"mcp":            describeMCP,
}

// fuzzyTools catches tool names not in exactTools. Order matters: the first
// matching fragment wins.
var fuzzyTools = []struct {
	fragment string
	describe describer
}{
	{"read", describeRead},
	{"write", describeFileOp("Write")},
	{"edit", describeFileOp("Edit")},
	{"delete", describeFileOp("Delete")},
	{"grep", describeGrep},
	{"search", describeSemanticSearch},
	{"glob", describeGlob},
	{"shell", describeShell},
	{"bash", describeShell},
	{"terminal", describeShell},
	{"todo", describeTodos},
	{"mcp", describeMCP},
}

// Describe returns the kind and human-readable title for a tool call.
func Describe(name string, args map[string]interface{}) (Kind, string) {
	lower := strings.ToLower(name)
	if d, ok := exactTools[lower]; ok {
		return d(args)
	}
	for _, f := range fuzzyTools {
		if strings.Contains(lower, f.fragment) {
			return f.describe(args)
		}
	}
	if name == "" {
		return KindOther, "Tool"
	}
	return KindOther, name
}

func describeRead(args map[string]interface{}) (Kind, string) {
	if p := argPath(args); p != "" {
		return KindRead, "Read " + p
	}
	return KindRead, "Read"
}

func describeFileOp(verb string) describer {
	return func(args map[string]interface{}) (Kind, string) {
		if p := argPath(args); p != "" {
			return KindEdit, verb + " " + p
		}
		return KindEdit, verb
	}
}

func describeGrep(args map[string]interface{}) (Kind, string) {
	pattern := firstString(args, "pattern", "query", "regex")
	path := argPath(args)
	switch {
	case pattern != "" && path != "":
		return KindSearch, fmt.Sprintf("Search %s for %s", path, pattern)
	case pattern != "":
		return KindSearch, "Search for " + pattern
	default:
		return KindSearch, "Search"
	}
}

func describeSemanticSearch(args map[string]interface{}) (Kind, string) {
	if q := firstString(args, "query", "pattern"); q != "" {
		return KindSearch, "Search for " + q
	}
	return KindSearch, "Search"
}

func describeGlob(args map[string]interface{}) (Kind, string) {
	if p := firstString(args, "globPattern", "glob_pattern", "pattern"); p != "" {
		return KindSearch, "Find " + p
	}
	return KindSearch, "Find files"
}

func describeList(args map[string]interface{}) (Kind, string) {
	if p := argPath(args); p != "" {
		return KindRead, "List " + p
	}
	return KindRead, "List directory"
}

func describeShell(args map[string]interface{}) (Kind, string) {
	if cmd := firstString(args, "command", "cmd"); cmd != "" {
		return KindExecute, "`" + cmd + "`"
	}
	return KindExecute, "Terminal"
}

func describeTodos(map[string]interface{}) (Kind, string) {
	return KindOther, "Update TODOs"
}

func describeMCP(args map[string]interface{}) (Kind, string) {
	name := firstString(args, "toolName", "tool_name", "name")
	if name == "" {
		return KindOther, "MCP tool"
	}
	if server := firstString(args, "providerIdentifier", "server"); server != "" {
		return KindOther, server + ": " + name
	}
	return KindOther, name
}

// argPath returns the primary path argument under any of its common spellings.
func argPath(args map[string]interface{}) string {
	return firstString(args, "path", "file_path", "filePath", "target_file", "targetFile")
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
