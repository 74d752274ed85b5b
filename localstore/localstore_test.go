package localstore

import (
	"context"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/margin/dbopen"
)

func TestSQLiteGetSet(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// Missing key is not an error.
	v, err := s.Get(ctx, "absent")
	if err != nil || v != "" {
		t.Fatalf("Get absent: %q, %v", v, err)
	}

	if err := s.Set(ctx, ThemeKey, "light"); err != nil {
		t.Fatal(err)
	}
	v, err = s.Get(ctx, ThemeKey)
	if err != nil || v != "light" {
		t.Fatalf("Get: %q, %v", v, err)
	}

	// Overwrite wins.
	if err := s.Set(ctx, ThemeKey, "dark"); err != nil {
		t.Fatal(err)
	}
	v, _ = s.Get(ctx, ThemeKey)
	if v != "dark" {
		t.Fatalf("after overwrite: %q", v)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, ArchivedKey, `["a3"]`); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// A full reload of the hosting process sees the persisted value.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	v, err := s2.Get(ctx, ArchivedKey)
	if err != nil || v != `["a3"]` {
		t.Fatalf("after reopen: %q, %v", v, err)
	}
}

func TestMemoryVersionAdvances(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	v0, _ := s.Version(ctx)
	if err := s.Set(ctx, ThemeKey, "light"); err != nil {
		t.Fatal(err)
	}
	v1, _ := s.Version(ctx)
	if v1 == v0 {
		t.Fatal("version did not advance after Set")
	}
}
