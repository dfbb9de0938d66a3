package stream

import "strings"

// DeltaTracker reduces a sequence of full-text snapshots to the unseen
// suffix of each. One tracker serves one logical stream (assistant text or
// thinking) for one turn.
//
// A client that concatenates every non-empty delta in order reconstructs the
// latest snapshot exactly, including across a discontinuity: a snapshot that
// does not extend the previous one is emitted in full and becomes the new
// baseline.
type DeltaTracker struct {
	last string
}

// Update records full and returns the part of it not yet reported. An empty
// return means nothing new and is safe to skip.
func (d *DeltaTracker) Update(full string) string {
	if full == d.last {
		return ""
	}
	if strings.HasPrefix(full, d.last) {
		delta := full[len(d.last):]
		d.last = full
		return delta
	}
	d.last = full
	return full
}

// Last returns the most recent snapshot.
func (d *DeltaTracker) Last() string {
	return d.last
}

// Reset forgets the baseline so the next snapshot is emitted in full.
func (d *DeltaTracker) Reset() {
	d.last = ""
}
