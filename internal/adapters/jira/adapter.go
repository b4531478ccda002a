package jira

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// Tracker implements pipeline.Tracker on top of the search API.
type Tracker struct {
	client *Client
	logger *slog.Logger
}

var _ pipeline.Tracker = (*Tracker)(nil)

// NewTracker creates a Tracker.
func NewTracker(client *Client) *Tracker {
	return &Tracker{client: client, logger: logging.WithComponent("jira")}
}

// Fetch runs a JQL query and converts the results. A limit of zero uses the
// API default page size.
func (t *Tracker) Fetch(ctx context.Context, query string, limit int) ([]pipeline.Issue, error) {
	issues, err := t.client.SearchIssues(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Issue, 0, len(issues))
	for _, issue := range issues {
		if issue == nil {
			continue
		}
		out = append(out, ConvertIssue(issue, t.client.BaseURL()))
	}
	t.logger.Debug("Search finished", slog.Int("count", len(out)))
	return out, nil
}

// Assigner moves accepted issues into work: optional workflow transition,
// then assignment to the user chosen by the rotation.
type Assigner struct {
	client       *Client
	transitionID string
	logger       *slog.Logger
}

var _ pipeline.Assigner = (*Assigner)(nil)

// NewAssigner creates an Assigner. An empty transitionID skips the
// transition step.
func NewAssigner(client *Client, transitionID string) *Assigner {
	return &Assigner{
		client:       client,
		transitionID: transitionID,
		logger:       logging.WithComponent("jira"),
	}
}

// Assign implements pipeline.Assigner. The transition is only sent while
// Jira still offers it, so a retry after a failed assignment does not repeat
// a transition that already happened.
func (a *Assigner) Assign(ctx context.Context, rec pipeline.NotificationRecord) error {
	if rec.Destination.Assignee == "" {
		return nil
	}
	if a.transitionID != "" {
		if err := a.transition(ctx, rec.IssueID); err != nil {
			return err
		}
	}
	if err := a.client.AssignIssue(ctx, rec.IssueID, rec.Destination.Assignee); err != nil {
		return fmt.Errorf("assign %s: %w", rec.IssueID, err)
	}
	a.logger.Info("Assigned issue",
		slog.String("key", rec.IssueID),
		slog.String("assignee", rec.Destination.Assignee),
	)
	return nil
}

func (a *Assigner) transition(ctx context.Context, key string) error {
	available, err := a.client.GetTransitions(ctx, key)
	if err != nil {
		return fmt.Errorf("transitions %s: %w", key, err)
	}
	if !slices.ContainsFunc(available, func(t Transition) bool { return t.ID == a.transitionID }) {
		a.logger.Debug("Transition not offered, skipping",
			slog.String("key", key),
			slog.String("transition_id", a.transitionID),
		)
		return nil
	}
	if err := a.client.TransitionIssue(ctx, key, a.transitionID); err != nil {
		return fmt.Errorf("transition %s: %w", key, err)
	}
	a.logger.Info("Transitioned issue",
		slog.String("key", key),
		slog.String("transition_id", a.transitionID),
	)
	return nil
}
