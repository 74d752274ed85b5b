package archive

import (
	"context"
	"slices"
	"testing"

	"github.com/hazyhaar/margin/localstore"
)

func TestArchiveUnarchiveIdempotent(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemory()
	o := Load(ctx, store, nil)

	before := o.Snapshot()

	// Archiving then unarchiving returns the overlay to its prior
	// membership exactly, regardless of repetition.
	o.Archive(ctx, "a1")
	o.Archive(ctx, "a1")
	o.Archive(ctx, "a1")
	if !o.IsArchived("a1") {
		t.Fatal("a1 not archived")
	}
	if o.Len() != 1 {
		t.Fatalf("Len = %d, want 1", o.Len())
	}

	o.Unarchive(ctx, "a1")
	o.Unarchive(ctx, "a1")
	if o.IsArchived("a1") {
		t.Fatal("a1 still archived")
	}

	after := o.Snapshot()
	if !slices.Equal(before, after) {
		t.Fatalf("membership changed: %v -> %v", before, after)
	}
}

func TestRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemory()

	o := Load(ctx, store, nil)
	o.Archive(ctx, "a3")
	o.Archive(ctx, "a1")

	// Reloading from the same persisted value yields an equal set.
	o2 := Load(ctx, store, nil)
	if !slices.Equal(o.Snapshot(), o2.Snapshot()) {
		t.Fatalf("round trip mismatch: %v vs %v", o.Snapshot(), o2.Snapshot())
	}
}

func TestCorruptPersistedValueFallsBackEmpty(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemory()
	store.Set(ctx, localstore.ArchivedKey, "{not json[")

	o := Load(ctx, store, nil)
	if o.Len() != 0 {
		t.Fatalf("Len = %d, want 0", o.Len())
	}

	// The overlay remains usable after the fallback.
	o.Archive(ctx, "x")
	if !o.IsArchived("x") {
		t.Fatal("archive after corrupt load failed")
	}
}

func TestMissingPersistedValue(t *testing.T) {
	ctx := context.Background()
	o := Load(ctx, localstore.NewMemory(), nil)
	if o.Len() != 0 {
		t.Fatalf("Len = %d, want 0", o.Len())
	}
}
