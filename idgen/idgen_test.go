package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for range 1000 {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for range 100 {
		cur := gen()
		if cur < prev {
			// UUIDv7 embeds a millisecond timestamp; within the same
			// millisecond ordering comes from random bits, so only a
			// strictly earlier ID is a failure.
			if cur[:13] < prev[:13] {
				t.Fatalf("IDs not time-ordered: %s < %s", cur, prev)
			}
		}
		prev = cur
	}
}

func TestNanoID(t *testing.T) {
	gen := NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Fatalf("length = %d, want 12", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
			t.Fatalf("unexpected character %q in %s", r, id)
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("ann_", NanoID(8))
	id := gen()
	if !strings.HasPrefix(id, "ann_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if len(id) != 12 {
		t.Fatalf("length = %d, want 12", len(id))
	}
}

func TestNew(t *testing.T) {
	if New() == New() {
		t.Fatal("New returned the same ID twice")
	}
}
