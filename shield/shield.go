// Package shield provides the HTTP middleware the margin service fronts its
// API with: security headers, request body limits, per-request trace
// logging, and rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
//	r.Mount("/", svc.Router())
package shield

import "net/http"

// DefaultStack returns the standard middleware stack, ordered:
// SecurityHeaders → MaxJSONBody → TraceID.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(256 * 1024),
		TraceID,
	}
}
