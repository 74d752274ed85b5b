// Package localstore is the client-local durable key-value store the review
// controller persists its archive overlay to and reads the shared theme
// preference from. It is deliberately dumb: string keys, string values,
// last-write-wins. Concurrent writers from another process are not
// coordinated.
//
// The Store interface is an injected capability: the controller never
// touches ambient global state, so tests can substitute a Memory store.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hazyhaar/margin/dbopen"
)

// Well-known keys. ArchivedKey holds the serialized archived-annotation-id
// set; ThemeKey holds the light/dark preference written by the toolbar.
const (
	ArchivedKey = "archived_annotations"
	ThemeKey    = "feedback-toolbar-theme"
)

// Store reads and writes durable client-local values. Get returns "" for a
// missing key — absence is not an error for this store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Version returns a change token: two calls returning different values
	// mean some key changed in between. Used by watch-based subscribers.
	Version(ctx context.Context) (int64, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS local_kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);
`

// SQLite is the durable Store implementation. The same database file can be
// shared by every component of the hosting toolbar, matching the "any
// component can read the same preference" behavior.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite wraps an existing database handle and applies the schema.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("localstore: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Open opens (or creates) the store at path with standard pragmas.
func Open(path string) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// DB exposes the underlying handle (for watch detectors).
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("localstore: get %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_kv (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("localstore: set %q: %w", key, err)
	}
	return nil
}

// Version uses PRAGMA data_version, which increments whenever another
// connection writes to the same database file, so cross-process writes
// (another toolbar tab) are detected too.
func (s *SQLite) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// Memory is an in-process Store for tests and ephemeral hosts.
type Memory struct {
	mu      sync.Mutex
	m       map[string]string
	version int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *Memory) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	s.version++
	return nil
}

func (s *Memory) Version(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}
