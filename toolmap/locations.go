package toolmap

import "strconv"

// locationSet accumulates locations, dropping repeats while keeping the
// order in which they were first seen.
type locationSet struct {
	seen map[string]bool
	list []Location
}

func (s *locationSet) add(path string, line *int) {
	if path == "" {
		return
	}
	key := path
	if line != nil {
		key += ":" + strconv.Itoa(*line)
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.list = append(s.list, Location{Path: path, Line: line})
}

// addAny accepts a bare path string, a {path,line} object or a list of
// either.
func (s *locationSet) addAny(v interface{}) {
	switch x := v.(type) {
	case string:
		s.add(x, nil)
	case map[string]interface{}:
		path := firstString(x, "path", "file", "filePath", "file_path")
		s.add(path, intField(x, "line", "lineNumber", "line_number"))
	case []interface{}:
		for _, item := range x {
			s.addAny(item)
		}
	case []string:
		for _, item := range x {
			s.add(item, nil)
		}
	}
}

// locations returns nil when nothing was collected so callers can tell
// "no locations" apart from an empty list.
func (s *locationSet) locations() []Location {
	if len(s.list) == 0 {
		return nil
	}
	return s.list
}

// argLocations extracts locations from invocation arguments.
func argLocations(args map[string]interface{}) []Location {
	var s locationSet
	if p := argPath(args); p != "" {
		s.add(p, intField(args, "line", "offset"))
	}
	s.addAny(args["paths"])
	return s.locations()
}

// resultLocations merges locations already known from the arguments with
// those named in the result body (matches, files, path).
func resultLocations(prior []Location, body map[string]interface{}) []Location {
	var s locationSet
	for _, loc := range prior {
		s.add(loc.Path, loc.Line)
	}
	if body != nil {
		s.addAny(body["matches"])
		s.addAny(body["files"])
		if p, ok := body["path"].(string); ok {
			s.add(p, nil)
		}
	}
	return s.locations()
}

// intField reads the first present numeric field. JSON numbers decode to
// float64; integral strings are accepted too.
func intField(m map[string]interface{}, keys ...string) *int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			n := int(v)
			return &n
		case int:
			n := v
			return &n
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return &n
			}
		}
	}
	return nil
}
