package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Router picks the destination for an accepted issue. Next is called once
// per accepted issue, after the skip and dedup checks.
type Router interface {
	Next(issue Issue) Destination
}

// FixedRouter sends every notification to the same chat.
type FixedRouter struct {
	ChatID string
}

func (r FixedRouter) Next(Issue) Destination {
	return Destination{ChatID: r.ChatID}
}

// Assignee is one slot in an assignment rotation.
type Assignee struct {
	Username string
	ChatID   string
}

// RotationRouter hands issues to assignees in round-robin order and notifies
// the chosen assignee.
type RotationRouter struct {
	mu        sync.Mutex
	assignees []Assignee
	next      int
}

// NewRotationRouter creates a round-robin router. It panics on an empty list.
func NewRotationRouter(assignees []Assignee) *RotationRouter {
	if len(assignees) == 0 {
		panic("pipeline: rotation needs at least one assignee")
	}
	return &RotationRouter{assignees: append([]Assignee(nil), assignees...)}
}

func (r *RotationRouter) Next(Issue) Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.assignees[r.next]
	r.next = (r.next + 1) % len(r.assignees)
	return Destination{ChatID: a.ChatID, Assignee: a.Username}
}

// Processor turns one issue into a Decision using the skip engine and the
// processed cache.
type Processor struct {
	engine   *Engine
	cache    *ProcessedCache
	router   Router
	kind     Kind
	dedupKey func(Issue) string
	now      func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithKind sets the payload kind of produced notifications.
func WithKind(kind Kind) ProcessorOption {
	return func(p *Processor) {
		p.kind = kind
	}
}

// WithDedupKey overrides the cache key derived from an issue. The default is
// the issue ID.
func WithDedupKey(fn func(Issue) string) ProcessorOption {
	return func(p *Processor) {
		p.dedupKey = fn
	}
}

// WithClock overrides time.Now for processed timestamps.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// RevisionKey dedups on issue revision, so each update is reported once.
func RevisionKey(issue Issue) string {
	if issue.Updated.IsZero() {
		return issue.ID
	}
	return issue.ID + "@" + issue.Updated.UTC().Format(time.RFC3339)
}

// NewProcessor creates a processor. engine may be nil (nothing is skipped).
func NewProcessor(engine *Engine, cache *ProcessedCache, router Router, opts ...ProcessorOption) *Processor {
	p := &Processor{
		engine:   engine,
		cache:    cache,
		router:   router,
		kind:     KindNewIssue,
		dedupKey: func(i Issue) string { return i.ID },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.router == nil {
		p.router = FixedRouter{}
	}
	return p
}

// Process decides what to do with issue:
//   - already in the cache: AlreadyProcessed, nothing else happens;
//   - matches a skip rule: Skipped, the cache is left untouched so a later
//     edit can make the issue eligible again;
//   - otherwise the issue is marked and Accepted with a notification.
//
// A cache failure while marking returns a *CacheUnavailableError and no
// decision; the caller moves on to the next issue.
func (p *Processor) Process(issue Issue) (Decision, error) {
	key := p.dedupKey(issue)
	if p.cache.Contains(key) {
		return Decision{Kind: DecisionAlreadyProcessed, IssueID: issue.ID}, nil
	}

	if rule, ok := p.engine.Match(issue); ok {
		return Decision{Kind: DecisionSkipped, IssueID: issue.ID, Reason: rule.Describe()}, nil
	}

	if err := p.cache.Mark(key, p.now()); err != nil {
		return Decision{}, fmt.Errorf("mark %s: %w", issue.ID, err)
	}

	record := &NotificationRecord{
		IssueID:     issue.ID,
		Destination: p.router.Next(issue),
		Payload: Payload{
			Kind:     p.kind,
			Summary:  issue.Summary,
			Reporter: issue.Reporter,
			Status:   issue.Status,
			URL:      issue.URL,
		},
	}
	return Decision{Kind: DecisionAccepted, IssueID: issue.ID, Notification: record}, nil
}

// Cache returns the processed cache the processor writes to.
func (p *Processor) Cache() *ProcessedCache {
	return p.cache
}
