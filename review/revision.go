package review

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hazyhaar/margin/annotation"
)

// ErrNoTarget is returned when Submit is called on a prompt that is not
// open.
var ErrNoTarget = errors.New("review: revision prompt has no target")

// RevisionPrompt is the short-lived modal interaction that collects
// free-text revision instructions for exactly one annotation. It closes
// automatically only on successful submission; on failure it stays open so
// the user can retry or cancel.
type RevisionPrompt struct {
	controller *Controller

	mu     sync.Mutex
	target *annotation.Summary
}

// NewRevisionPrompt creates a collector bound to the controller.
func NewRevisionPrompt(c *Controller) *RevisionPrompt {
	return &RevisionPrompt{controller: c}
}

// Open targets the prompt at one annotation. The target carries the
// original comment and revision count for display. Opening replaces any
// previous target.
func (p *RevisionPrompt) Open(a annotation.Summary) {
	p.mu.Lock()
	p.target = &a
	p.mu.Unlock()
}

// Target returns the annotation the prompt is collecting for, or false when
// the prompt is closed.
func (p *RevisionPrompt) Target() (annotation.Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.target == nil {
		return annotation.Summary{}, false
	}
	return *p.target, true
}

// Busy reports whether the targeted annotation has an action in flight —
// the host disables repeat submission and shows a spinner while true.
func (p *RevisionPrompt) Busy() bool {
	p.mu.Lock()
	target := p.target
	p.mu.Unlock()
	if target == nil {
		return false
	}
	return p.controller.Busy(target.ID)
}

// Submit delegates the instructions to RequestRevision. Empty trimmed text
// is rejected without a remote call. The prompt closes only when the
// revision request succeeds.
func (p *RevisionPrompt) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPrompt
	}

	p.mu.Lock()
	target := p.target
	p.mu.Unlock()
	if target == nil {
		return ErrNoTarget
	}

	if err := p.controller.RequestRevision(ctx, target.ID, text); err != nil {
		return err
	}

	p.mu.Lock()
	// Close only if still targeting the same annotation.
	if p.target != nil && p.target.ID == target.ID {
		p.target = nil
	}
	p.mu.Unlock()
	return nil
}

// Cancel discards the prompt without side effects.
func (p *RevisionPrompt) Cancel() {
	p.mu.Lock()
	p.target = nil
	p.mu.Unlock()
}
