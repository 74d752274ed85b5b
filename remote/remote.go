// Package remote defines the contract the review controller consumes the
// annotation service through, plus the HTTP implementation of it. The
// controller depends only on the Adapter interface; transport policy
// (timeouts, body caps) lives entirely here.
package remote

import (
	"context"

	"github.com/hazyhaar/margin/annotation"
)

// TokenValidation is the capability descriptor for an edit token: who the
// token belongs to and whether it carries admin rights. The controller
// trusts it and reflects it in action gating; it never verifies or mutates
// it.
type TokenValidation struct {
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// Adapter wraps the remote annotation operations. Every call is a network
// round trip that may fail; implementations expose their own timeout policy
// and the caller treats any non-nil error uniformly — there is no
// retriable-vs-fatal classification.
type Adapter interface {
	// FetchAnnotations returns the full annotation list visible to token.
	// includeAll requests annotations from all token owners, not just the
	// caller's own.
	FetchAnnotations(ctx context.Context, token string, includeAll bool) ([]annotation.Summary, error)

	// ApproveAnnotation accepts an implemented change.
	ApproveAnnotation(ctx context.Context, token, id string) error

	// RejectAnnotation declines an implemented change. reason may be empty.
	RejectAnnotation(ctx context.Context, token, id, reason string) error

	// ReviseAnnotation asks for another implementation attempt driven by
	// the given instructions.
	ReviseAnnotation(ctx context.Context, token, id, prompt string) error

	// CancelAnnotation withdraws a pending annotation. The remote effect is
	// equivalent to a rejection. reason may be empty.
	CancelAnnotation(ctx context.Context, token, id, reason string) error
}
