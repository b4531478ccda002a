package jira

import (
	"encoding/json"
	"testing"
	"time"
)

func TestConvertIssue_Server(t *testing.T) {
	raw := `{
		"id": "10001",
		"key": "SD911-42",
		"fields": {
			"summary": "VPN is down",
			"description": "Cannot connect since morning",
			"status": {"name": "Waiting"},
			"labels": ["network"],
			"creator": {"name": "jdoe", "displayName": "John Doe"},
			"reporter": {"name": "helpdesk"},
			"assignee": null,
			"comment": {"comments": [
				{"id": "1", "body": "first comment", "author": {"name": "jdoe"}},
				{"id": "2", "body": "", "author": {"name": "jdoe"}}
			]},
			"updated": "2024-05-01T10:15:30.000+0300"
		}
	}`

	var issue Issue
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := ConvertIssue(&issue, "https://jira.example.com/")

	if got.ID != "SD911-42" {
		t.Errorf("ID = %s", got.ID)
	}
	if got.Reporter != "jdoe" {
		t.Errorf("Reporter = %s, want creator login jdoe", got.Reporter)
	}
	if got.Assignee != "" {
		t.Errorf("Assignee = %s, want empty", got.Assignee)
	}
	if got.Body != "Cannot connect since morning" {
		t.Errorf("Body = %q", got.Body)
	}
	if len(got.Comments) != 1 || got.Comments[0] != "first comment" {
		t.Errorf("Comments = %v", got.Comments)
	}
	if got.Status != "Waiting" {
		t.Errorf("Status = %s", got.Status)
	}
	if got.URL != "https://jira.example.com/browse/SD911-42" {
		t.Errorf("URL = %s", got.URL)
	}
	want := time.Date(2024, 5, 1, 7, 15, 30, 0, time.UTC)
	if !got.Updated.Equal(want) {
		t.Errorf("Updated = %v, want %v", got.Updated, want)
	}
}

func TestConvertIssue_CloudADF(t *testing.T) {
	raw := `{
		"key": "PROJ-7",
		"fields": {
			"summary": "Login broken",
			"description": {"type": "doc", "version": 1, "content": [
				{"type": "paragraph", "content": [
					{"type": "text", "text": "Steps:"},
					{"type": "hardBreak"},
					{"type": "text", "text": "open the page"}
				]},
				{"type": "paragraph", "content": [{"type": "text", "text": "Expected: works"}]}
			]},
			"reporter": {"accountId": "abc123", "displayName": "Ann"},
			"assignee": {"accountId": "def456", "emailAddress": "bob@example.com", "displayName": "Bob"},
			"comment": {"comments": [
				{"body": {"type": "doc", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "skip me"}]}]}}
			]},
			"updated": "2024-05-01T10:15:30.123+0000"
		}
	}`

	var issue Issue
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := ConvertIssue(&issue, "https://company.atlassian.net")

	if got.Body != "Steps:\nopen the page\nExpected: works" {
		t.Errorf("Body = %q", got.Body)
	}
	if got.Reporter != "Ann" {
		t.Errorf("Reporter = %s, want display name fallback", got.Reporter)
	}
	if got.Assignee != "bob@example.com" {
		t.Errorf("Assignee = %s", got.Assignee)
	}
	if len(got.Comments) != 1 || got.Comments[0] != "skip me" {
		t.Errorf("Comments = %v", got.Comments)
	}
	if got.Updated.IsZero() {
		t.Error("Updated not parsed")
	}
}

func TestTextOf(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"string", `"plain text"`, "plain text"},
		{"invalid", `{"type":`, ""},
		{"adf list", `{"type":"doc","content":[{"type":"bulletList","content":[
			{"type":"listItem","content":[{"type":"text","text":"one"}]},
			{"type":"listItem","content":[{"type":"text","text":"two"}]}]}]}`, "one\ntwo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textOf(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("textOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserLogin(t *testing.T) {
	var nilUser *User
	if nilUser.Login() != "" {
		t.Error("nil user should have empty login")
	}
	if got := (&User{AccountID: "acc"}).Login(); got != "acc" {
		t.Errorf("Login() = %s, want acc", got)
	}
	if got := (&User{Name: "srv", DisplayName: "Server User"}).Login(); got != "srv" {
		t.Errorf("Login() = %s, want srv", got)
	}
}
