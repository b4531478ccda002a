package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// maxMessageLen is the Bot API limit for message text.
const maxMessageLen = 4096

// maxListItems caps issue lists sent in one message.
const maxListItems = 30

// Formatter renders notification records as Telegram HTML.
type Formatter struct {
	// ReporterLink, when set, turns the reporter into a link. "{user}" is
	// replaced with the reporter login, e.g.
	// "https://teams.microsoft.com/l/chat/0/0?users={user}@example.com".
	ReporterLink string
}

// Format renders a record. New issues and updates use different wording.
func (f Formatter) Format(rec pipeline.NotificationRecord) string {
	issue := issueLink(rec.IssueID, rec.Payload.Summary, rec.Payload.URL)
	switch rec.Payload.Kind {
	case pipeline.KindUpdate:
		return fmt.Sprintf("Hi! There is a new update: %s from %s", issue, html.EscapeString(rec.Payload.Reporter))
	default:
		return fmt.Sprintf("Hi! There is a new issue: %s from: %s", issue, f.reporter(rec.Payload.Reporter))
	}
}

func (f Formatter) reporter(login string) string {
	if login == "" {
		return "unknown"
	}
	if f.ReporterLink == "" {
		return html.EscapeString(login)
	}
	href := strings.ReplaceAll(f.ReporterLink, "{user}", login)
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(login))
}

func issueLink(key, summary, url string) string {
	label := html.EscapeString(key)
	if summary != "" {
		label += ": " + html.EscapeString(summary)
	}
	if url == "" {
		return "<b>" + label + "</b>"
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), label)
}

// FormatIssueList renders issues as a bulleted HTML list under a title.
func FormatIssueList(title string, issues []pipeline.Issue) string {
	var sb strings.Builder
	sb.WriteString("<b>" + html.EscapeString(title) + "</b>\n")
	for i, issue := range issues {
		if i == maxListItems {
			fmt.Fprintf(&sb, "…and %d more", len(issues)-maxListItems)
			break
		}
		sb.WriteString("• " + issueLink(issue.ID, truncateRunes(issue.Summary, 40), issue.URL) + "\n")
	}
	return truncateRunes(strings.TrimRight(sb.String(), "\n"), maxMessageLen)
}

// Watch is the scheduler view the bot needs. *pipeline.Scheduler
// implements it.
type Watch interface {
	Name() string
	State() pipeline.State
	Paused() bool
	Pause()
	Resume()
	Cache() *pipeline.ProcessedCache
	LastReport() *pipeline.CycleReport
}

// FormatStatus renders one block per watch.
func FormatStatus(watches []Watch, now time.Time) string {
	if len(watches) == 0 {
		return "No watches configured."
	}
	var sb strings.Builder
	sb.WriteString("<b>Watches</b>\n")
	for _, w := range watches {
		state := w.State().String()
		if w.Paused() {
			state += " (paused)"
		}
		fmt.Fprintf(&sb, "\n<b>%s</b>: %s\n", html.EscapeString(w.Name()), state)
		fmt.Fprintf(&sb, "Processed cache: %d\n", w.Cache().Len())
		if r := w.LastReport(); r != nil {
			fmt.Fprintf(&sb, "Last cycle: %s, fetched %d, accepted %d, skipped %d, sent %d",
				humanize.RelTime(r.FinishedAt, now, "ago", "from now"),
				r.Fetched, r.Accepted, r.Skipped, r.Dispatched)
			if r.FetchError != "" {
				sb.WriteString(", fetch failed")
			}
			if len(r.Failures) > 0 {
				fmt.Fprintf(&sb, ", %d failure(s)", len(r.Failures))
			}
			sb.WriteString("\n")
		} else {
			sb.WriteString("Last cycle: none yet\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
