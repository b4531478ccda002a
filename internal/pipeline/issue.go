// Package pipeline implements the issue-processing core: skip rules, the
// processed-issue cache, the per-issue processor and the poll scheduler.
// Ticket tracking and messaging are reached only through the Tracker,
// Messenger and Assigner interfaces.
package pipeline

import (
	"context"
	"time"
)

// Issue is a read-only view of a tracker ticket for one poll cycle.
type Issue struct {
	ID       string // tracker key, e.g. "SD911-2689821"
	Reporter string
	Assignee string
	Summary  string
	Body     string
	Comments []string
	Labels   []string
	Status   string
	Updated  time.Time
	URL      string
}

// Kind names the watch that produced a notification.
type Kind string

const (
	KindNewIssue Kind = "new_issue"
	KindUpdate   Kind = "update"
)

// Destination says where a notification goes and, for new issues, who the
// ticket should be assigned to.
type Destination struct {
	ChatID   string
	Assignee string
}

// Payload is the structured content handed to the messenger. Rendering it
// into text is the messenger's job.
type Payload struct {
	Kind     Kind
	Summary  string
	Reporter string
	Status   string
	URL      string
}

// NotificationRecord is produced by the processor for an accepted issue and
// is not retained after dispatch.
type NotificationRecord struct {
	IssueID     string
	Destination Destination
	Payload     Payload
}

// ProcessedRecord marks an issue key as handled.
type ProcessedRecord struct {
	IssueID     string
	ProcessedAt time.Time
}

// DecisionKind enumerates processor outcomes.
type DecisionKind int

const (
	DecisionAccepted DecisionKind = iota
	DecisionSkipped
	DecisionAlreadyProcessed
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAccepted:
		return "accepted"
	case DecisionSkipped:
		return "skipped"
	case DecisionAlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// Decision is the outcome of processing one issue. Reason is set for
// skipped issues, Notification for accepted ones.
type Decision struct {
	Kind         DecisionKind
	IssueID      string
	Reason       string
	Notification *NotificationRecord
}

// Tracker fetches candidate issues. Implementations wrap query errors with
// Permanent so they are not retried.
type Tracker interface {
	Fetch(ctx context.Context, query string, limit int) ([]Issue, error)
}

// Messenger delivers notification records. Permanent rejections are wrapped
// with Permanent.
type Messenger interface {
	Send(ctx context.Context, record NotificationRecord) error
}

// Assigner applies the tracker-side update for an accepted new issue
// (workflow transition and assignee).
type Assigner interface {
	Assign(ctx context.Context, record NotificationRecord) error
}
