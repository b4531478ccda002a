package jira

import (
	"fmt"
	"strings"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// ConvertIssue converts a Jira issue into the pipeline's read-only view.
// The reporter is the creator when present, as service desk tickets are
// often reported on behalf of someone else.
func ConvertIssue(issue *Issue, baseURL string) pipeline.Issue {
	f := issue.Fields

	reporter := f.Creator.Login()
	if reporter == "" {
		reporter = f.Reporter.Login()
	}

	var comments []string
	if f.Comment != nil {
		for _, c := range f.Comment.Comments {
			if text := textOf(c.Body); text != "" {
				comments = append(comments, text)
			}
		}
	}

	return pipeline.Issue{
		ID:       issue.Key,
		Reporter: reporter,
		Assignee: f.Assignee.Login(),
		Summary:  f.Summary,
		Body:     textOf(f.Description),
		Comments: comments,
		Labels:   f.Labels,
		Status:   f.Status.Name,
		Updated:  parseTime(f.Updated),
		URL:      BrowseURL(baseURL, issue.Key),
	}
}

// BrowseURL returns the web link for an issue key.
func BrowseURL(baseURL, key string) string {
	return fmt.Sprintf("%s/browse/%s", strings.TrimSuffix(baseURL, "/"), key)
}
