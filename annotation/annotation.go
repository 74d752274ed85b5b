// Package annotation defines the domain types shared between the review
// controller, the remote adapter, and the reference service: the annotation
// summary, its lifecycle status enum, and the display metadata registry.
package annotation

import (
	"fmt"
	"sort"
	"time"
)

// Status is a lifecycle state owned by the remote authority. The controller
// never transitions a status locally; it only requests transitions and
// reflects the result of the next fetch.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusImplemented       Status = "implemented"
	StatusApproved          Status = "approved"
	StatusCompleted         Status = "completed"
	StatusRejected          Status = "rejected"
	StatusRevisionRequested Status = "revision_requested"
	StatusFailed            Status = "failed"
	StatusInterrupted       Status = "interrupted"

	// StatusArchived is a display-only pseudo-status. It never appears in a
	// fetched Summary — archival is a client-local overlay, not a server
	// transition — but the registry carries an entry for it so archived
	// items can render a badge.
	StatusArchived Status = "archived"
)

// Active reports whether s is one of the states that still need attention:
// pending, processing, implemented, or revision_requested.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusImplemented, StatusRevisionRequested:
		return true
	}
	return false
}

// Summary is the unit the review controller manages. It is produced by the
// remote authority and observed locally only via fetch; the ID is stable
// across polls and unique within a single fetched list.
type Summary struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	Comment       string `json:"comment"`
	Element       string `json:"element"`
	Timestamp     int64  `json:"timestamp"` // creation instant, unix milliseconds
	IsOwn         bool   `json:"isOwn"`
	TokenOwner    string `json:"tokenOwner"`
	RevisionCount int    `json:"revisionCount"`
	CommitSHA     string `json:"commitSha,omitempty"`
}

// ShortCommit returns the first seven characters of the commit SHA, or ""
// when no implementing change has been committed yet.
func (s *Summary) ShortCommit() string {
	if len(s.CommitSHA) > 7 {
		return s.CommitSHA[:7]
	}
	return s.CommitSHA
}

// SortNewestFirst orders summaries by Timestamp descending. The sort is
// stable: equal timestamps preserve fetch order.
func SortNewestFirst(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp > list[j].Timestamp
	})
}

// TimeAgo renders the elapsed time between ts (unix milliseconds) and now as
// a compact bucket string: "42s ago", "5m ago", "3h ago", "2d ago".
func TimeAgo(ts int64, now time.Time) string {
	seconds := (now.UnixMilli() - ts) / 1000
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds ago", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	return fmt.Sprintf("%dd ago", hours/24)
}
