// Package report builds issue metrics and exports them as CSV, Markdown,
// HTML or a terminal table.
package report

import (
	"sort"
	"sync"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

const unassigned = "Unassigned"

// Metrics summarizes the new-issue and update queues.
type Metrics struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	NewIssues     int            `json:"new_issues_count"`
	UpdatedIssues int            `json:"updated_issues_count"`
	Total         int            `json:"total_issues"`
	ByStatus      map[string]int `json:"status_breakdown"`
	ByCreator     map[string]int `json:"creator_breakdown"`
	ByAssignee    map[string]int `json:"assignee_breakdown"`
	Assignments   map[string]int `json:"assignments_by_user"`
}

// Compute counts statuses over both queues and creators and assignees over
// the new issues. assignments may be nil.
func Compute(newIssues, updates []pipeline.Issue, assignments map[string]int, now time.Time) Metrics {
	m := Metrics{
		GeneratedAt:   now,
		NewIssues:     len(newIssues),
		UpdatedIssues: len(updates),
		Total:         len(newIssues) + len(updates),
		ByStatus:      map[string]int{},
		ByCreator:     map[string]int{},
		ByAssignee:    map[string]int{},
		Assignments:   map[string]int{},
	}
	for _, issue := range newIssues {
		m.ByStatus[orUnknown(issue.Status)]++
		m.ByCreator[orUnknown(issue.Reporter)]++
		assignee := issue.Assignee
		if assignee == "" {
			assignee = unassigned
		}
		m.ByAssignee[assignee]++
	}
	for _, issue := range updates {
		m.ByStatus[orUnknown(issue.Status)]++
	}
	for user, n := range assignments {
		m.Assignments[user] = n
	}
	return m
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Count is one row of a breakdown.
type Count struct {
	Name  string
	Count int
}

// Sorted orders a breakdown by count descending, then by name.
func Sorted(breakdown map[string]int) []Count {
	out := make([]Count, 0, len(breakdown))
	for name, n := range breakdown {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Top returns at most n rows of Sorted(breakdown).
func Top(breakdown map[string]int, n int) []Count {
	rows := Sorted(breakdown)
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Tally counts successful assignments per user for the lifetime of the
// process. It is safe for concurrent use.
type Tally struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewTally creates an empty Tally.
func NewTally() *Tally {
	return &Tally{counts: map[string]int{}}
}

// Add records one assignment.
func (t *Tally) Add(user string) {
	t.mu.Lock()
	t.counts[user]++
	t.mu.Unlock()
}

// Snapshot returns a copy of the counts.
func (t *Tally) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
