package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/margin/annotation"
)

// actionResponse is the body every mutating endpoint answers with. Clients
// show the error text to the reviewer, so it stays human-readable.
type actionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStatusError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, actionResponse{Success: false, Error: msg})
}

// actionStatus maps a business error to an HTTP status. The body carries
// the message either way.
func actionStatus(err error) int {
	var te *TransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.As(err, &te):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// Router builds the service's HTTP surface. Reviewer endpoints take a
// Bearer token; agent endpoints take an X-Agent-Key header.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.bearerAuth)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/validate", s.handleValidate)

	r.Route("/annotations", func(r chi.Router) {
		r.Use(requireIdentity)
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
		r.Post("/{id}/revise", s.handleRevise)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Post("/{id}/finalize", s.handleFinalize)
	})

	r.Route("/agent", func(r chi.Router) {
		r.Use(s.requireAgentKey)
		r.Post("/claim", s.handleClaim)
		r.Post("/annotations/{id}/implemented", s.handleImplemented)
		r.Post("/annotations/{id}/failed", s.handleFailed)
	})

	return r
}

// requireIdentity rejects requests that bearerAuth could not attach claims
// to.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			writeStatusError(w, http.StatusUnauthorized, "valid token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		writeStatusError(w, http.StatusUnauthorized, "valid token required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    claims.Name,
		"isAdmin": claims.Admin,
	})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 256*1024)

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.Submit(r.Context(), GetClaims(r.Context()), req)
	if err != nil {
		writeStatusError(w, actionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      rec.ID,
		"element": rec.Element,
	})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	includeAll := r.URL.Query().Get("include_all") == "true"
	list, err := s.List(r.Context(), GetClaims(r.Context()), includeAll)
	if err != nil {
		writeStatusError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []annotation.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": list})
}

// action wraps the approve/reject/revise/cancel handlers: decode the
// optional body, run the operation, answer {success,error}.
func (s *Service) action(w http.ResponseWriter, r *http.Request, run func(id string, body map[string]string) error) {
	r.Body = http.MaxBytesReader(w, r.Body, 32*1024)

	body := map[string]string{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeStatusError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := run(chi.URLParam(r, "id"), body); err != nil {
		writeStatusError(w, actionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true})
}

func (s *Service) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, _ map[string]string) error {
		return s.Approve(r.Context(), GetClaims(r.Context()), id)
	})
}

func (s *Service) handleReject(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, body map[string]string) error {
		return s.Reject(r.Context(), GetClaims(r.Context()), id, body["reason"])
	})
}

func (s *Service) handleRevise(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, body map[string]string) error {
		return s.Revise(r.Context(), GetClaims(r.Context()), id, body["prompt"])
	})
}

func (s *Service) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, _ map[string]string) error {
		return s.Finalize(r.Context(), GetClaims(r.Context()), id)
	})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, body map[string]string) error {
		return s.Cancel(r.Context(), GetClaims(r.Context()), id, body["reason"])
	})
}

// claimView is the agent-facing projection of a claimed record. It includes
// the element context and revision prompt the client wire shape omits.
type claimView struct {
	ID             string `json:"id"`
	Comment        string `json:"comment"`
	Element        string `json:"element"`
	ElementContext string `json:"element_context,omitempty"`
	PageURL        string `json:"page_url,omitempty"`
	RevisionCount  int    `json:"revision_count"`
	RevisionPrompt string `json:"revision_prompt,omitempty"`
}

func newClaimView(r *Record) claimView {
	return claimView{
		ID:             r.ID,
		Comment:        r.Comment,
		Element:        r.Element,
		ElementContext: r.ElementContext,
		PageURL:        r.PageURL,
		RevisionCount:  r.RevisionCount,
		RevisionPrompt: r.RevisionPrompt,
	}
}

func (s *Service) handleClaim(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ClaimNext(r.Context(), GetAgent(r.Context()))
	if err != nil {
		writeStatusError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":      true,
		"annotation": newClaimView(rec),
	})
}

func (s *Service) handleImplemented(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, body map[string]string) error {
		return s.ReportImplemented(r.Context(), id, body["commit_sha"])
	})
}

func (s *Service) handleFailed(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, func(id string, body map[string]string) error {
		return s.ReportFailed(r.Context(), id, body["reason"])
	})
}
