// Package archive implements the client-local archival overlay: a set of
// annotation ids this client has chosen to hide. The overlay never
// round-trips through the remote service — the same annotation may be
// archived on one device and visible on another — so it is purely a view
// filter over the fetched list.
package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/margin/localstore"
)

// Overlay is a persisted set of archived annotation ids. Archive and
// Unarchive are synchronous and non-failing from the caller's perspective:
// the in-memory set mutates immediately and every mutation is written
// through to the store as a full-set overwrite (last-write-wins). A failed
// write is logged and retried implicitly by the next mutation.
type Overlay struct {
	mu     sync.Mutex
	ids    map[string]struct{}
	store  localstore.Store
	logger *slog.Logger
}

// Load reads the persisted set from the store. A missing or corrupt
// persisted value falls back to an empty set — never an error.
func Load(ctx context.Context, store localstore.Store, logger *slog.Logger) *Overlay {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Overlay{
		ids:    make(map[string]struct{}),
		store:  store,
		logger: logger,
	}

	raw, err := store.Get(ctx, localstore.ArchivedKey)
	if err != nil {
		logger.Warn("archive: load failed, starting empty", "error", err)
		return o
	}
	if raw == "" {
		return o
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		logger.Warn("archive: corrupt persisted set, starting empty", "error", err)
		return o
	}
	for _, id := range ids {
		o.ids[id] = struct{}{}
	}
	return o
}

// Archive adds id to the set and persists.
func (o *Overlay) Archive(ctx context.Context, id string) {
	o.mu.Lock()
	o.ids[id] = struct{}{}
	snapshot := o.snapshotLocked()
	o.mu.Unlock()
	o.persist(ctx, snapshot)
}

// Unarchive removes id from the set and persists. Removing an id that is
// not in the set is a no-op (still persisted, idempotent).
func (o *Overlay) Unarchive(ctx context.Context, id string) {
	o.mu.Lock()
	delete(o.ids, id)
	snapshot := o.snapshotLocked()
	o.mu.Unlock()
	o.persist(ctx, snapshot)
}

// IsArchived reports whether id is in the set.
func (o *Overlay) IsArchived(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.ids[id]
	return ok
}

// Len returns the number of archived ids, for the "Showing N archived
// item(s)" display.
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ids)
}

// Snapshot returns the current membership, sorted.
func (o *Overlay) Snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Overlay) snapshotLocked() []string {
	ids := make([]string, 0, len(o.ids))
	for id := range o.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Overlay) persist(ctx context.Context, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		o.logger.Error("archive: marshal", "error", err)
		return
	}
	if err := o.store.Set(ctx, localstore.ArchivedKey, string(data)); err != nil {
		o.logger.Warn("archive: persist failed", "error", err)
	}
}
