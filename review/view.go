package review

import (
	"github.com/hazyhaar/margin/annotation"
)

// Filter names one of the list views.
type Filter string

const (
	// FilterActive shows everything still needing attention.
	FilterActive Filter = "active"
	// FilterReview shows implemented changes awaiting a verdict.
	FilterReview Filter = "review"
	// FilterMine shows annotations created under the active token.
	FilterMine Filter = "mine"
	// FilterMultiplayer shows other people's annotations. Offered unless
	// the host disables it.
	FilterMultiplayer Filter = "multiplayer"
)

// Action is a user operation offered on a single annotation.
type Action string

const (
	ActionApprove   Action = "approve"
	ActionEdit      Action = "edit" // opens the revision prompt
	ActionReject    Action = "reject"
	ActionCancel    Action = "cancel"
	ActionArchive   Action = "archive"
	ActionUnarchive Action = "unarchive"
)

// SetFilter selects the active filter. Selecting multiplayer while the host
// has disabled it is ignored.
func (c *Controller) SetFilter(f Filter) {
	if f == FilterMultiplayer && c.cfg.DisableMultiplayerFilter {
		return
	}
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// Filter returns the active filter.
func (c *Controller) Filter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// SetShowArchived toggles the archived view. When on, only archived ids are
// shown regardless of status; when off, archived ids are excluded before
// filtering.
func (c *Controller) SetShowArchived(on bool) {
	c.mu.Lock()
	c.showArchived = on
	c.mu.Unlock()
}

// ShowArchived reports whether the archived view is on.
func (c *Controller) ShowArchived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showArchived
}

// Filters returns the filters the host should offer, honoring the
// multiplayer toggle.
func (c *Controller) Filters() []Filter {
	fs := []Filter{FilterActive, FilterReview, FilterMine}
	if !c.cfg.DisableMultiplayerFilter {
		fs = append(fs, FilterMultiplayer)
	}
	return fs
}

// Visible computes the displayed list: archived-view toggle first, then the
// active filter. Recomputed from the source list on every call, never
// stored.
func (c *Controller) Visible() []annotation.Summary {
	c.mu.Lock()
	list := c.list
	filter := c.filter
	showArchived := c.showArchived
	c.mu.Unlock()

	var out []annotation.Summary
	for _, a := range list {
		isArchived := c.overlay.IsArchived(a.ID)
		if showArchived {
			if isArchived {
				out = append(out, a)
			}
			continue
		}
		if isArchived {
			continue
		}
		switch filter {
		case FilterActive:
			if a.Status.Active() {
				out = append(out, a)
			}
		case FilterReview:
			if a.Status == annotation.StatusImplemented {
				out = append(out, a)
			}
		case FilterMine:
			if a.IsOwn {
				out = append(out, a)
			}
		case FilterMultiplayer:
			if !a.IsOwn {
				out = append(out, a)
			}
		default:
			out = append(out, a)
		}
	}
	return out
}

// ReviewCount is the badge count of implemented, non-archived annotations.
// Derived from the same source list as Visible so the two never disagree.
func (c *Controller) ReviewCount() int {
	c.mu.Lock()
	list := c.list
	c.mu.Unlock()

	n := 0
	for _, a := range list {
		if a.Status == annotation.StatusImplemented && !c.overlay.IsArchived(a.ID) {
			n++
		}
	}
	return n
}

// ActiveCount is the badge count of active, non-archived annotations.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	list := c.list
	c.mu.Unlock()

	n := 0
	for _, a := range list {
		if a.Status.Active() && !c.overlay.IsArchived(a.ID) {
			n++
		}
	}
	return n
}

// ActionsFor returns the actions offered for a single annotation, gated by
// status and ownership. Archived items expose only unarchive.
func (c *Controller) ActionsFor(a annotation.Summary) []Action {
	if c.overlay.IsArchived(a.ID) {
		return []Action{ActionUnarchive}
	}

	canManage := a.IsOwn || c.cfg.TokenInfo.IsAdmin
	switch a.Status {
	case annotation.StatusPending:
		if canManage {
			return []Action{ActionCancel, ActionArchive}
		}
		return []Action{ActionArchive}
	case annotation.StatusProcessing:
		return []Action{ActionArchive}
	case annotation.StatusImplemented:
		if canManage {
			return []Action{ActionApprove, ActionEdit, ActionReject}
		}
		return []Action{ActionArchive}
	default:
		return []Action{ActionArchive}
	}
}
