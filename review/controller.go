// Package review implements the annotation review lifecycle controller: the
// in-memory annotation list reconciled against the remote service on a
// polling cadence, status- and ownership-gated user actions with per-id
// action locks, the client-local archive overlay, and the revision prompt
// collector.
//
// The remote authority owns every status transition. The controller only
// requests transitions and reflects whatever the next fetch returns.
package review

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/margin/annotation"
	"github.com/hazyhaar/margin/archive"
	"github.com/hazyhaar/margin/localstore"
	"github.com/hazyhaar/margin/remote"
	"github.com/hazyhaar/margin/watch"
)

// Config configures a Controller. Token, TokenInfo, Adapter and Store are
// required; everything else has a sensible default.
type Config struct {
	// Token is the capability token all remote calls are made under.
	Token string
	// TokenInfo is the validated descriptor for Token. The controller
	// trusts it; it does not verify permissions itself.
	TokenInfo remote.TokenValidation
	// Adapter performs the remote operations.
	Adapter remote.Adapter
	// Store is the injected client-local persisted store (archive overlay,
	// theme preference).
	Store localstore.Store

	// DisableMultiplayerFilter withholds the "multiplayer" (not-mine)
	// filter. The filter is offered by default.
	DisableMultiplayerFilter bool
	// DefaultFilter is the filter selected at startup. Default: FilterActive.
	DefaultFilter Filter
	// PollInterval is the annotation poll cadence while the panel is open.
	// Default: 10s.
	PollInterval time.Duration
	// ThemeSyncInterval is how often the shared theme preference is checked
	// for changes. Default: 500ms.
	ThemeSyncInterval time.Duration

	// Dark, when non-nil, overrides the synced theme preference.
	Dark *bool

	// ConfirmCancel is consulted before a destructive Cancel. Nil means no
	// confirmation is available, so Cancel always refuses.
	ConfirmCancel func() bool

	// OnAnnotationsLoaded is invoked with each freshly fetched list.
	OnAnnotationsLoaded func([]annotation.Summary)
	// OnActionDone is invoked after any successful approve, reject, or
	// revision request.
	OnActionDone func()

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.DefaultFilter == "" {
		c.DefaultFilter = FilterActive
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ThemeSyncInterval <= 0 {
		c.ThemeSyncInterval = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Controller owns the in-memory annotation list and the per-id action
// locks. All methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	overlay *archive.Overlay
	logger  *slog.Logger

	mu           sync.Mutex
	list         []annotation.Summary
	busy         map[string]struct{}
	filter       Filter
	showArchived bool
	dark         bool
	started      bool
	closed       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller and loads the archive overlay from the store.
// Call Start to begin polling; a Controller without Start still serves
// on-demand Refresh and actions.
func New(ctx context.Context, cfg Config) *Controller {
	cfg.defaults()
	c := &Controller{
		cfg:     cfg,
		overlay: archive.Load(ctx, cfg.Store, cfg.Logger),
		logger:  cfg.Logger,
		busy:    make(map[string]struct{}),
		filter:  cfg.DefaultFilter,
		dark:    true, // original toolbar default; overwritten by the first theme sync
	}
	if cfg.DefaultFilter == FilterMultiplayer && cfg.DisableMultiplayerFilter {
		c.filter = FilterActive
	}
	c.syncTheme(ctx)
	return c
}

// Start launches the annotation poll and the theme sync poll. Both stop
// when ctx is cancelled or Close is called; no timers outlive the
// controller. Remote calls already in flight are not aborted, their late
// results are ignored safely. Calling Start again is a no-op.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed || c.started {
		c.mu.Unlock()
		cancel()
		return
	}
	c.started = true
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.pollAnnotations(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.pollTheme(ctx)
	}()
}

// Close stops polling and marks the controller torn down. Fetches that
// complete after Close do not touch the list.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Controller) pollAnnotations(ctx context.Context) {
	// Fetch once immediately on start.
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("review: initial fetch failed", "error", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("review: poll fetch failed", "error", err)
			}
		}
	}
}

func (c *Controller) pollTheme(ctx context.Context) {
	w := watch.New(watch.Options{
		Interval: c.cfg.ThemeSyncInterval,
		Detector: c.cfg.Store.Version,
		Logger:   c.logger,
	})
	w.OnChange(ctx, func() error {
		c.syncTheme(ctx)
		return nil
	})
}

// syncTheme re-reads the persisted theme preference. Anything other than an
// explicit "light" means dark, matching the toolbar's behavior.
func (c *Controller) syncTheme(ctx context.Context) {
	saved, err := c.cfg.Store.Get(ctx, localstore.ThemeKey)
	if err != nil {
		c.logger.Warn("review: theme read failed", "error", err)
		return
	}
	c.mu.Lock()
	c.dark = saved != "light"
	c.mu.Unlock()
}

// Dark reports whether the panel should render dark. An explicit Config
// override wins over the synced preference.
func (c *Controller) Dark() bool {
	if c.cfg.Dark != nil {
		return *c.cfg.Dark
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dark
}

// Refresh fetches the full annotation list, sorts it newest first, and
// replaces the in-memory list. It is safely re-entrant: concurrent calls
// each issue their own fetch and results apply in completion order — the
// last completed fetch wins, even one that started earlier. (No generation
// guard; the original exhibits the same race and it is accepted here.)
//
// A fetch failure leaves the previous list intact and is returned to the
// caller: transient failure means "no update", never "empty state".
func (c *Controller) Refresh(ctx context.Context) error {
	list, err := c.cfg.Adapter.FetchAnnotations(ctx, c.cfg.Token, true)
	if err != nil {
		return err
	}
	annotation.SortNewestFirst(list)

	c.mu.Lock()
	if c.closed {
		// Late result for a torn-down panel: drop it.
		c.mu.Unlock()
		return nil
	}
	c.list = list
	c.mu.Unlock()

	if c.cfg.OnAnnotationsLoaded != nil {
		c.cfg.OnAnnotationsLoaded(slices.Clone(list))
	}
	return nil
}

// Annotations returns a copy of the current in-memory list.
func (c *Controller) Annotations() []annotation.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.list)
}

// Busy reports whether a mutating action is in flight for id.
func (c *Controller) Busy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.busy[id]
	return ok
}

// ArchivedCount returns the size of the archive overlay, for the
// "Showing N archived item(s)" display.
func (c *Controller) ArchivedCount() int {
	return c.overlay.Len()
}

// IsArchived reports whether id is in the archive overlay.
func (c *Controller) IsArchived(id string) bool {
	return c.overlay.IsArchived(id)
}

// find returns a pointer into the current list for id, or nil when the
// latest fetch no longer contains it. Caller holds mu.
func (c *Controller) find(id string) *annotation.Summary {
	for i := range c.list {
		if c.list[i].ID == id {
			return &c.list[i]
		}
	}
	return nil
}
