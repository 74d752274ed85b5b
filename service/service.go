// Package service is the reference annotation authority: it owns the
// lifecycle state machine the review controller observes over HTTP. It
// stores annotations in SQLite, authenticates reviewers with signed tokens
// and agents with issued keys, and exposes the same operations as HTTP
// endpoints and MCP tools.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/margin/annotation"
	"github.com/hazyhaar/margin/idgen"
	"github.com/hazyhaar/margin/safenet"
)

// ErrNotOwner is returned when a non-admin acts on someone else's
// annotation. Clients surface this text verbatim.
var ErrNotOwner = errors.New("not your annotation")

const (
	maxCommentLen = 5000
	maxPromptLen  = 5000
)

// Config parameterizes the service.
type Config struct {
	Store  *Store
	Agents *AgentKeys

	// Secret signs reviewer tokens. Must be at least safenet.MinSecretLen
	// bytes.
	Secret []byte

	// StaleAfter is how long a processing annotation may go without an
	// update before the reaper interrupts it. Default: 30 minutes.
	StaleAfter time.Duration

	// ReapInterval is how often the reaper sweeps. Default: 5 minutes.
	ReapInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service implements the annotation authority's operations. Handlers and
// MCP tools are thin wrappers over its methods.
type Service struct {
	store       *Store
	agents      *AgentKeys
	secret      []byte
	staleAfter  time.Duration
	reapEvery   time.Duration
	logger      *slog.Logger
	newID       idgen.Generator
	sanitize    *bluemonday.Policy
	mdConverter *converter.Converter
}

// New creates a Service. The secret is validated here so a weak deployment
// fails at startup rather than at the first token check.
func New(cfg Config) (*Service, error) {
	cfg.defaults()
	if cfg.Store == nil {
		return nil, errors.New("service: Store is required")
	}
	if err := safenet.ValidateSecret(cfg.Secret); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	return &Service{
		store:       cfg.Store,
		agents:      cfg.Agents,
		secret:      cfg.Secret,
		staleAfter:  cfg.StaleAfter,
		reapEvery:   cfg.ReapInterval,
		logger:      cfg.Logger,
		newID:       idgen.Prefixed("ann_", idgen.UUIDv7()),
		sanitize:    bluemonday.StrictPolicy(),
		mdConverter: newMarkdownConverter(),
	}, nil
}

// SubmitRequest is a new annotation from a reviewer. Element may be empty,
// in which case a locator is derived from ElementHTML.
type SubmitRequest struct {
	Comment     string `json:"comment"`
	Element     string `json:"element"`
	ElementHTML string `json:"element_html"`
	PageURL     string `json:"page_url"`
}

// Submit stores a new annotation in status pending. The comment is
// stripped of HTML; the element HTML becomes markdown context for the
// implementing agent.
func (s *Service) Submit(ctx context.Context, claims *Claims, req SubmitRequest) (*Record, error) {
	comment := strings.TrimSpace(s.sanitize.Sanitize(req.Comment))
	if comment == "" {
		return nil, errors.New("comment is required")
	}
	if len(comment) > maxCommentLen {
		comment = comment[:maxCommentLen]
	}

	element := strings.TrimSpace(req.Element)
	if element == "" {
		element = deriveLocator(req.ElementHTML)
	}

	rec := &Record{
		ID:             s.newID(),
		OwnerName:      claims.Name,
		Comment:        comment,
		Element:        element,
		ElementContext: s.elementContext(req.ElementHTML),
		PageURL:        req.PageURL,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("service: annotation submitted",
		"id", rec.ID, "owner", rec.OwnerName, "element", rec.Element)
	return rec, nil
}

// List returns annotation summaries for the viewer, newest first.
func (s *Service) List(ctx context.Context, claims *Claims, includeAll bool) ([]annotation.Summary, error) {
	records, err := s.store.List(ctx, claims.Name, includeAll)
	if err != nil {
		return nil, err
	}
	out := make([]annotation.Summary, len(records))
	for i, r := range records {
		out[i] = r.Summary(claims.Name)
	}
	return out, nil
}

// authorize loads the annotation and checks the caller may act on it:
// owners and admins only.
func (s *Service) authorize(ctx context.Context, claims *Claims, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !claims.Admin && rec.OwnerName != claims.Name {
		return ErrNotOwner
	}
	return nil
}

// Approve accepts an implemented annotation.
func (s *Service) Approve(ctx context.Context, claims *Claims, id string) error {
	if err := s.authorize(ctx, claims, id); err != nil {
		return err
	}
	if err := s.store.Approve(ctx, id); err != nil {
		return err
	}
	s.logger.Info("service: annotation approved", "id", id, "by", claims.Name)
	return nil
}

// Reject refuses an implemented annotation with a reason.
func (s *Service) Reject(ctx context.Context, claims *Claims, id, reason string) error {
	if err := s.authorize(ctx, claims, id); err != nil {
		return err
	}
	if err := s.store.Reject(ctx, id, reason); err != nil {
		return err
	}
	s.logger.Info("service: annotation rejected", "id", id, "by", claims.Name)
	return nil
}

// Revise sends an implemented annotation back to the agent with a prompt.
func (s *Service) Revise(ctx context.Context, claims *Claims, id, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return errors.New("revision prompt is required")
	}
	if len(prompt) > maxPromptLen {
		prompt = prompt[:maxPromptLen]
	}
	if err := s.authorize(ctx, claims, id); err != nil {
		return err
	}
	if err := s.store.Revise(ctx, id, prompt); err != nil {
		return err
	}
	s.logger.Info("service: revision requested", "id", id, "by", claims.Name)
	return nil
}

// Finalize closes out an approved annotation once its change has shipped.
func (s *Service) Finalize(ctx context.Context, claims *Claims, id string) error {
	if err := s.authorize(ctx, claims, id); err != nil {
		return err
	}
	if err := s.store.Finalize(ctx, id); err != nil {
		return err
	}
	s.logger.Info("service: annotation completed", "id", id, "by", claims.Name)
	return nil
}

// Cancel withdraws a pending annotation.
func (s *Service) Cancel(ctx context.Context, claims *Claims, id, reason string) error {
	if err := s.authorize(ctx, claims, id); err != nil {
		return err
	}
	if err := s.store.Cancel(ctx, id, reason); err != nil {
		return err
	}
	s.logger.Info("service: annotation cancelled", "id", id, "by", claims.Name)
	return nil
}

// ClaimNext hands the oldest waiting annotation to an agent, or nil.
func (s *Service) ClaimNext(ctx context.Context, agent string) (*Record, error) {
	rec, err := s.store.Claim(ctx, agent)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		s.logger.Info("service: annotation claimed", "id", rec.ID, "agent", agent)
	}
	return rec, nil
}

// ReportImplemented records that an agent finished an annotation.
func (s *Service) ReportImplemented(ctx context.Context, id, commitSHA string) error {
	if err := s.store.ReportImplemented(ctx, id, commitSHA); err != nil {
		return err
	}
	s.logger.Info("service: annotation implemented", "id", id, "commit", commitSHA)
	return nil
}

// ReportFailed records that an agent could not implement an annotation.
func (s *Service) ReportFailed(ctx context.Context, id, reason string) error {
	if err := s.store.ReportFailed(ctx, id, reason); err != nil {
		return err
	}
	s.logger.Warn("service: annotation failed", "id", id, "reason", reason)
	return nil
}

// Run sweeps stale processing annotations until ctx is cancelled. Agents
// that claim work and die leave annotations stuck in processing; the reaper
// interrupts them so reviewers see the stall.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.ReapStale(ctx, s.staleAfter)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("service: reap stale", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Warn("service: interrupted stale annotations", "count", n)
			}
		}
	}
}
