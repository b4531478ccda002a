package jira

import (
	"encoding/json"
	"strings"
	"time"
)

// Platform types
const (
	PlatformCloud  = "cloud"
	PlatformServer = "server"
)

// searchFields is the field list requested from the search API.
var searchFields = []string{
	"summary", "description", "status", "labels",
	"assignee", "reporter", "creator", "comment", "updated",
}

// Issue represents a Jira issue
type Issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields Fields `json:"fields"`
}

// Fields represents the Jira issue fields jtu reads.
// Description is a plain string on Server and an ADF document on Cloud.
type Fields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description,omitempty"`
	Status      Status          `json:"status"`
	Labels      []string        `json:"labels"`
	Assignee    *User           `json:"assignee,omitempty"`
	Reporter    *User           `json:"reporter,omitempty"`
	Creator     *User           `json:"creator,omitempty"`
	Comment     *CommentPage    `json:"comment,omitempty"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
}

// Status represents a Jira status
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User represents a Jira user
type User struct {
	AccountID    string `json:"accountId,omitempty"` // Cloud
	Name         string `json:"name,omitempty"`      // Server
	Key          string `json:"key,omitempty"`       // Server
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName"`
}

// Login returns the identifier used for skip rules and assignment: the
// username on Server, falling back to email, display name and account id.
func (u *User) Login() string {
	if u == nil {
		return ""
	}
	for _, v := range []string{u.Name, u.EmailAddress, u.DisplayName, u.AccountID} {
		if v != "" {
			return v
		}
	}
	return ""
}

// CommentPage is the embedded comment list of an issue.
type CommentPage struct {
	Comments []Comment `json:"comments"`
	Total    int       `json:"total"`
}

// Comment represents a Jira comment
type Comment struct {
	ID      string          `json:"id"`
	Body    json.RawMessage `json:"body"`
	Author  User            `json:"author"`
	Created string          `json:"created"`
}

// Transition represents a Jira workflow transition
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   Status `json:"to"`
}

// TransitionsResponse represents the response from the transitions API
type TransitionsResponse struct {
	Transitions []Transition `json:"transitions"`
}

// SearchResponse represents the response from the search API
type SearchResponse struct {
	Issues     []*Issue `json:"issues"`
	Total      int      `json:"total"`
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
}

// adfNode is the subset of the Atlassian Document Format needed to pull
// plain text out of Cloud descriptions and comments.
type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// textOf returns the plain text of a description or comment body, which is
// either a JSON string or an ADF document.
func textOf(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var sb strings.Builder
	writeADF(&sb, doc)
	return strings.TrimSpace(sb.String())
}

func writeADF(sb *strings.Builder, n adfNode) {
	switch n.Type {
	case "hardBreak":
		sb.WriteString("\n")
		return
	case "text":
		sb.WriteString(n.Text)
		return
	}
	for _, c := range n.Content {
		writeADF(sb, c)
	}
	switch n.Type {
	case "paragraph", "heading", "codeBlock", "blockquote", "listItem":
		sb.WriteString("\n")
	}
}

// jiraTimeLayouts covers the timestamp formats returned by Cloud and Server.
var jiraTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

func parseTime(s string) time.Time {
	for _, layout := range jiraTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
