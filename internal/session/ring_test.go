package session

import (
	"fmt"
	"testing"
)

func TestRingEvictsOldest(t *testing.T) {
	r := newRing(10)
	for i := 1; i <= 11; i++ {
		r.push(Entry{ID: fmt.Sprintf("e%d", i), Text: fmt.Sprintf("phrase %d", i)})
	}

	if r.len() != 10 {
		t.Fatalf("expected ring to hold 10 entries, got %d", r.len())
	}

	entries := r.recent()
	if entries[0].ID != "e11" {
		t.Fatalf("expected newest entry first, got %s", entries[0].ID)
	}
	if entries[len(entries)-1].ID != "e2" {
		t.Fatalf("expected e1 to be evicted, oldest is %s", entries[len(entries)-1].ID)
	}
}

func TestRingTextsNewestFirst(t *testing.T) {
	r := newRing(3)
	r.push(Entry{Text: "one"})
	r.push(Entry{Text: "two"})
	r.push(Entry{Text: "three"})

	texts := r.texts()
	if len(texts) != 3 || texts[0] != "three" || texts[2] != "one" {
		t.Fatalf("unexpected order: %v", texts)
	}
}

func TestRingDefaultsCap(t *testing.T) {
	r := newRing(0)
	for i := 0; i < 20; i++ {
		r.push(Entry{Text: "x"})
	}
	if r.len() != 10 {
		t.Fatalf("expected default cap of 10, got %d", r.len())
	}
}
