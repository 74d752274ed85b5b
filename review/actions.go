package review

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/margin/annotation"
)

// Validation sentinels. When one of these is returned no remote call was
// issued; the UI should have prevented the action, but the controller
// defends against invalid invocations and no-ops safely.
var (
	ErrUnknownAnnotation = errors.New("review: annotation not in the current list")
	ErrInvalidStatus     = errors.New("review: action not allowed for this status")
	ErrActionInFlight    = errors.New("review: an action is already in flight for this annotation")
	ErrEmptyPrompt       = errors.New("review: revision instructions must not be empty")
	ErrNotConfirmed      = errors.New("review: cancellation was not confirmed")
)

// Approve accepts an implemented change. Requires status implemented. On
// success the list is refreshed and OnActionDone fires; on failure the
// remote error message is returned and local state is untouched. The
// action lock is released either way.
func (c *Controller) Approve(ctx context.Context, id string) error {
	if err := c.acquire(id, annotation.StatusImplemented); err != nil {
		return err
	}
	defer c.release(id)

	if err := c.cfg.Adapter.ApproveAnnotation(ctx, c.cfg.Token, id); err != nil {
		return err
	}
	c.afterAction(ctx, true)
	return nil
}

// Reject declines an implemented change with an optional free-text reason.
// Requires status implemented.
func (c *Controller) Reject(ctx context.Context, id, reason string) error {
	if err := c.acquire(id, annotation.StatusImplemented); err != nil {
		return err
	}
	defer c.release(id)

	if err := c.cfg.Adapter.RejectAnnotation(ctx, c.cfg.Token, id, reason); err != nil {
		return err
	}
	c.afterAction(ctx, true)
	return nil
}

// RequestRevision asks for another implementation attempt. Requires status
// implemented and a non-empty trimmed prompt. The expected remote effect is
// status revision_requested, then eventually processing.
func (c *Controller) RequestRevision(ctx context.Context, id, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if err := c.acquire(id, annotation.StatusImplemented); err != nil {
		return err
	}
	defer c.release(id)

	if err := c.cfg.Adapter.ReviseAnnotation(ctx, c.cfg.Token, id, prompt); err != nil {
		return err
	}
	c.afterAction(ctx, true)
	return nil
}

// Cancel withdraws a pending annotation. Requires status pending and an
// explicit confirmation from ConfirmCancel — it is destructive. The remote
// effect is equivalent to a rejection.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	if c.cfg.ConfirmCancel == nil || !c.cfg.ConfirmCancel() {
		return ErrNotConfirmed
	}
	if err := c.acquire(id, annotation.StatusPending); err != nil {
		return err
	}
	defer c.release(id)

	if err := c.cfg.Adapter.CancelAnnotation(ctx, c.cfg.Token, id, ""); err != nil {
		return err
	}
	// Cancel refreshes but does not fire OnActionDone, matching the panel:
	// the callback signals reviewed work, not a withdrawn request.
	c.afterAction(ctx, false)
	return nil
}

// Archive hides id locally. Synchronous, non-failing, no remote call, no
// action lock: a different consistency model from the remote actions.
func (c *Controller) Archive(ctx context.Context, id string) {
	c.overlay.Archive(ctx, id)
}

// Unarchive makes id visible again. Same local-only semantics as Archive.
func (c *Controller) Unarchive(ctx context.Context, id string) {
	c.overlay.Unarchive(ctx, id)
}

// acquire validates the precondition and takes the per-id action lock:
// at most one in-flight mutating action per annotation id.
func (c *Controller) acquire(id string, required annotation.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := c.find(id)
	if found == nil {
		return ErrUnknownAnnotation
	}
	if found.Status != required {
		return ErrInvalidStatus
	}
	if _, inFlight := c.busy[id]; inFlight {
		return ErrActionInFlight
	}
	c.busy[id] = struct{}{}
	return nil
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	delete(c.busy, id)
	c.mu.Unlock()
}

// afterAction re-fetches the list so the requested transition becomes
// visible, then fires OnActionDone for reviewed work. A refresh failure
// here is logged, not returned: the action itself succeeded.
func (c *Controller) afterAction(ctx context.Context, notify bool) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("review: refresh after action failed", "error", err)
	}
	if notify && c.cfg.OnActionDone != nil {
		c.cfg.OnActionDone()
	}
}
