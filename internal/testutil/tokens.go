// Package testutil provides testing utilities for jtu.
package testutil

// Safe test tokens that won't trigger secret scanning.
// These are intentionally simple and obviously fake.
const (
	// FakeJiraToken is a safe test token for Jira authentication.
	FakeJiraToken = "test-jira-token"

	// FakeJiraUser is a safe test username for Jira Basic auth.
	FakeJiraUser = "test-user@example.com"

	// FakeTelegramBotToken is a safe test token for the Telegram Bot API.
	FakeTelegramBotToken = "test-telegram-bot-token"

	// FakeChatID is a safe test Telegram chat id.
	FakeChatID = "100200300"
)
