// Package ndjson splits a newline-delimited JSON byte stream into records.
//
// Subprocess stdout arrives in arbitrarily sized chunks that rarely line up
// with record boundaries. LineBuffer holds the partial tail between pushes so
// callers only ever see complete records.
package ndjson

import "strings"

// LineBuffer accumulates raw text chunks and yields complete lines.
//
// Concatenating every yielded line, each followed by "\n", and then the
// result of Flush reproduces the pushed input exactly. A "\r" preceding the
// terminator is kept as part of the line.
//
// LineBuffer is not safe for concurrent use; each stream owns one.
type LineBuffer struct {
	partial strings.Builder
}

// Push appends chunk and returns the lines it completed, without their
// terminators. Empty lines are returned as empty strings so that the
// round-trip invariant holds; callers decide whether to skip them.
func (b *LineBuffer) Push(chunk string) []string {
	if chunk == "" {
		return nil
	}

	var lines []string
	for {
		idx := strings.IndexByte(chunk, '\n')
		if idx < 0 {
			b.partial.WriteString(chunk)
			return lines
		}

		if b.partial.Len() > 0 {
			b.partial.WriteString(chunk[:idx])
			lines = append(lines, b.partial.String())
			b.partial.Reset()
		} else {
			lines = append(lines, chunk[:idx])
		}
		chunk = chunk[idx+1:]
	}
}

// Flush returns whatever partial content is buffered and clears it.
// A stream that ends without a trailing newline yields its last record here.
func (b *LineBuffer) Flush() string {
	rest := b.partial.String()
	b.partial.Reset()
	return rest
}

// Len reports the number of buffered bytes not yet terminated by a newline.
func (b *LineBuffer) Len() int {
	return b.partial.Len()
}
