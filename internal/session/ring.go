package session

import "time"

// Entry is one accepted utterance remembered by the coordinator.
type Entry struct {
	ID           string
	Text         string
	ContextLabel string
	SpokenAt     time.Time
}

// ring is a bounded FIFO of accepted utterances; the oldest entry is
// evicted once the cap is reached. Not safe for concurrent use, the
// coordinator guards it with its own mutex.
type ring struct {
	cap     int
	entries []Entry
}

func newRing(cap int) *ring {
	if cap <= 0 {
		cap = 10
	}
	return &ring{cap: cap}
}

func (r *ring) push(e Entry) {
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *ring) len() int {
	return len(r.entries)
}

// recent returns the entries newest first.
func (r *ring) recent() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		out = append(out, r.entries[i])
	}
	return out
}

// texts returns just the phrases, newest first.
func (r *ring) texts() []string {
	out := make([]string, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		out = append(out, r.entries[i].Text)
	}
	return out
}
