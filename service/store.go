package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/margin/annotation"
	"github.com/hazyhaar/margin/dbopen"
)

// Schema creates the service tables. Pass it to dbopen.WithSchema or apply
// it directly in tests.
const Schema = `
CREATE TABLE IF NOT EXISTS annotations (
	id              TEXT PRIMARY KEY,
	owner_name      TEXT NOT NULL,
	comment         TEXT NOT NULL,
	element         TEXT NOT NULL DEFAULT '',
	element_context TEXT NOT NULL DEFAULT '',
	page_url        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	revision_count  INTEGER NOT NULL DEFAULT 0,
	revision_prompt TEXT NOT NULL DEFAULT '',
	reject_reason   TEXT NOT NULL DEFAULT '',
	fail_reason     TEXT NOT NULL DEFAULT '',
	commit_sha      TEXT NOT NULL DEFAULT '',
	claimed_by      TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_status ON annotations(status, created_at);
CREATE INDEX IF NOT EXISTS idx_annotations_owner ON annotations(owner_name);

CREATE TABLE IF NOT EXISTS agent_keys (
	name       TEXT PRIMARY KEY,
	key_hash   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// ErrNotFound is returned when no annotation matches the given id.
var ErrNotFound = errors.New("annotation not found")

// TransitionError reports a lifecycle move the state machine forbids. Its
// message is the error text clients surface to the reviewer, so it names
// the current status rather than internals.
type TransitionError struct {
	ID   string
	From annotation.Status
	To   annotation.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("annotation %s is %s, cannot move to %s", e.ID, e.From, e.To)
}

// transitions maps each status to the statuses it may move to. The authority
// owns the lifecycle: clients only request moves, and anything not listed
// here is refused.
var transitions = map[annotation.Status][]annotation.Status{
	annotation.StatusPending:           {annotation.StatusProcessing, annotation.StatusRejected},
	annotation.StatusRevisionRequested: {annotation.StatusProcessing},
	annotation.StatusProcessing:        {annotation.StatusImplemented, annotation.StatusFailed, annotation.StatusInterrupted},
	annotation.StatusImplemented:       {annotation.StatusApproved, annotation.StatusRejected, annotation.StatusRevisionRequested},
	annotation.StatusApproved:          {annotation.StatusCompleted},
}

func canTransition(from, to annotation.Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Record is the server-side row behind an annotation.Summary. It carries
// fields the client never sees: the revision prompt, reasons, and claim
// bookkeeping.
type Record struct {
	ID             string
	OwnerName      string
	Comment        string
	Element        string
	ElementContext string
	PageURL        string
	Status         annotation.Status
	RevisionCount  int
	RevisionPrompt string
	RejectReason   string
	FailReason     string
	CommitSHA      string
	ClaimedBy      string
	CreatedAt      int64 // unix milliseconds
	UpdatedAt      int64
}

// Summary projects the record into the client wire shape. IsOwn is relative
// to the viewer, so it is a parameter rather than a stored field.
func (r *Record) Summary(viewer string) annotation.Summary {
	return annotation.Summary{
		ID:            r.ID,
		Status:        r.Status,
		Comment:       r.Comment,
		Element:       r.Element,
		Timestamp:     r.CreatedAt,
		IsOwn:         viewer != "" && r.OwnerName == viewer,
		TokenOwner:    r.OwnerName,
		RevisionCount: r.RevisionCount,
		CommitSHA:     r.CommitSHA,
	}
}

// Store persists annotations in SQLite. All lifecycle moves go through
// transition, which enforces the state machine inside a single UPDATE so
// concurrent movers cannot race past a guard.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an open database. The schema must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) nowMillis() int64 { return s.now().UnixMilli() }

// Insert stores a new annotation in status pending. CreatedAt and UpdatedAt
// are set here.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	now := s.nowMillis()
	r.Status = annotation.StatusPending
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO annotations (id, owner_name, comment, element, element_context, page_url, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerName, r.Comment, r.Element, r.ElementContext, r.PageURL, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("service: insert annotation: %w", err)
	}
	return nil
}

const recordCols = `id, owner_name, comment, element, element_context, page_url, status,
	revision_count, revision_prompt, reject_reason, fail_reason, commit_sha, claimed_by,
	created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	err := row.Scan(&r.ID, &r.OwnerName, &r.Comment, &r.Element, &r.ElementContext,
		&r.PageURL, &r.Status, &r.RevisionCount, &r.RevisionPrompt, &r.RejectReason,
		&r.FailReason, &r.CommitSHA, &r.ClaimedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Get returns the annotation with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM annotations WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("service: get annotation: %w", err)
	}
	return r, nil
}

// List returns annotations newest first. With includeAll false only the
// owner's annotations are returned.
func (s *Store) List(ctx context.Context, owner string, includeAll bool) ([]*Record, error) {
	query := `SELECT ` + recordCols + ` FROM annotations`
	var args []any
	if !includeAll {
		query += ` WHERE owner_name = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("service: list annotations: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("service: scan annotation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// transition moves id from "from" to "to", applying extra SETs. The guard is
// the UPDATE's WHERE clause, so concurrent movers cannot race past it: a
// touch of zero rows means either the annotation is gone or its status
// disallows the move, and Get disambiguates.
func (s *Store) transition(ctx context.Context, id string, from, to annotation.Status, extra string, extraArgs ...any) error {
	if !canTransition(from, to) {
		return fmt.Errorf("service: %s -> %s is not a lifecycle move", from, to)
	}

	set := `status = ?, updated_at = ?`
	args := []any{to, s.nowMillis()}
	if extra != "" {
		set += ", " + extra
		args = append(args, extraArgs...)
	}

	query := `UPDATE annotations SET ` + set + ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("service: update annotation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("service: rows affected: %w", err)
	}
	if n == 0 {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		return &TransitionError{ID: id, From: cur.Status, To: to}
	}
	return nil
}

// Approve moves an implemented annotation to approved.
func (s *Store) Approve(ctx context.Context, id string) error {
	return s.transition(ctx, id, annotation.StatusImplemented, annotation.StatusApproved, "")
}

// Reject moves an implemented annotation to rejected with a reason.
func (s *Store) Reject(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, annotation.StatusImplemented, annotation.StatusRejected, "reject_reason = ?", reason)
}

// Cancel withdraws a pending annotation. It lands in rejected so the
// lifecycle has a single terminal refusal state; the reason records that
// the owner withdrew it.
func (s *Store) Cancel(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, annotation.StatusPending, annotation.StatusRejected, "reject_reason = ?", reason)
}

// Revise moves an implemented annotation back to revision_requested,
// recording the prompt and bumping the revision counter.
func (s *Store) Revise(ctx context.Context, id, prompt string) error {
	return s.transition(ctx, id, annotation.StatusImplemented, annotation.StatusRevisionRequested,
		"revision_prompt = ?, revision_count = revision_count + 1", prompt)
}

// Finalize moves an approved annotation to completed.
func (s *Store) Finalize(ctx context.Context, id string) error {
	return s.transition(ctx, id, annotation.StatusApproved, annotation.StatusCompleted, "")
}

// Claim atomically takes the oldest waiting annotation (pending or
// revision_requested) into processing on behalf of agent. Returns nil when
// nothing is waiting.
func (s *Store) Claim(ctx context.Context, agent string) (*Record, error) {
	var claimed *Record
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+recordCols+` FROM annotations
			 WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT 1`,
			annotation.StatusPending, annotation.StatusRevisionRequested,
		)
		r, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("service: claim scan: %w", err)
		}

		now := s.nowMillis()
		res, err := tx.ExecContext(ctx,
			`UPDATE annotations SET status = ?, claimed_by = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			annotation.StatusProcessing, agent, now, r.ID, r.Status,
		)
		if err != nil {
			return fmt.Errorf("service: claim update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Raced with another claimer inside the same tx window. Treat
			// as nothing available; the agent polls again.
			return nil
		}
		r.Status = annotation.StatusProcessing
		r.ClaimedBy = agent
		r.UpdatedAt = now
		claimed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReportImplemented moves a processing annotation to implemented with the
// commit that carries the change.
func (s *Store) ReportImplemented(ctx context.Context, id, commitSHA string) error {
	return s.transition(ctx, id, annotation.StatusProcessing, annotation.StatusImplemented, "commit_sha = ?", commitSHA)
}

// ReportFailed moves a processing annotation to failed with the reason.
func (s *Store) ReportFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, annotation.StatusProcessing, annotation.StatusFailed, "fail_reason = ?", reason)
}

// ReapStale interrupts processing annotations whose last update is older
// than cutoff. Covers agents that claimed work and died. Returns the number
// of annotations interrupted.
func (s *Store) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE annotations SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		annotation.StatusInterrupted, s.nowMillis(), annotation.StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("service: reap stale: %w", err)
	}
	return res.RowsAffected()
}
