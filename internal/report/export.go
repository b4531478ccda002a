package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

// Formats accepted by Writer.
const (
	FormatMarkdown = "md"
	FormatCSV      = "csv"
	FormatHTML     = "html"
)

var issueHeader = []string{"Key", "Summary", "Status", "Creator", "Assignee", "Updated", "URL"}

// WriteIssuesCSV writes one row per issue.
func WriteIssuesCSV(w io.Writer, issues []pipeline.Issue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(issueHeader); err != nil {
		return err
	}
	for _, issue := range issues {
		if err := cw.Write([]string{
			issue.ID,
			issue.Summary,
			issue.Status,
			issue.Reporter,
			assigneeOf(issue),
			formatTime(issue.Updated),
			issue.URL,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetricsCSV writes the metrics as blocks of name/value rows separated
// by blank rows.
func WriteMetricsCSV(w io.Writer, m Metrics) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Metric", "Value"},
		{"Timestamp", m.GeneratedAt.Format(time.RFC3339)},
		{"New Issues", strconv.Itoa(m.NewIssues)},
		{"Updated Issues", strconv.Itoa(m.UpdatedIssues)},
		{"Total Issues", strconv.Itoa(m.Total)},
	}
	for _, block := range []struct {
		title string
		data  map[string]int
	}{
		{"Status", m.ByStatus},
		{"Creator", m.ByCreator},
		{"Assignee", m.ByAssignee},
		{"User Assignments", m.Assignments},
	} {
		rows = append(rows, []string{""}, []string{block.title, "Count"})
		for _, c := range Sorted(block.data) {
			rows = append(rows, []string{c.Name, strconv.Itoa(c.Count)})
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// IssuesMarkdown renders an issue list as a Markdown document with a table.
func IssuesMarkdown(title string, issues []pipeline.Issue, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "Generated: %s\n\n", now.Format(time.RFC3339))

	if len(issues) == 0 {
		sb.WriteString("No issues found.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Summary\n\nTotal issues: %d\n\n", len(issues))
	sb.WriteString("## Issues\n\n")
	sb.WriteString("| Key | Summary | Status | Creator | Assignee |\n")
	sb.WriteString("|-----|---------|--------|---------|----------|\n")
	for _, issue := range issues {
		key := "`" + issue.ID + "`"
		if issue.URL != "" {
			key = fmt.Sprintf("[%s](%s)", issue.ID, issue.URL)
		}
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			key,
			cell(truncate(issue.Summary, 50)),
			cell(issue.Status),
			cell(issue.Reporter),
			cell(assigneeOf(issue)),
		)
	}
	return sb.String()
}

// MetricsMarkdown renders the metrics report.
func MetricsMarkdown(m Metrics) string {
	var sb strings.Builder
	sb.WriteString("# Jira Metrics Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", m.GeneratedAt.Format(time.RFC3339))

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- **New Issues**: %d\n", m.NewIssues)
	fmt.Fprintf(&sb, "- **Updated Issues**: %d\n", m.UpdatedIssues)
	fmt.Fprintf(&sb, "- **Total Issues**: %d\n\n", m.Total)

	for _, section := range []struct {
		title string
		data  map[string]int
		empty string
	}{
		{"Status Breakdown", m.ByStatus, "No status data available."},
		{"Issues by Creator", m.ByCreator, "No creator data available."},
		{"Issues by Assignee", m.ByAssignee, "No assignee data available."},
		{"Assignments by User", m.Assignments, "No assignment data available."},
	} {
		fmt.Fprintf(&sb, "## %s\n\n", section.title)
		if len(section.data) == 0 {
			sb.WriteString(section.empty + "\n\n")
			continue
		}
		for _, c := range Sorted(section.data) {
			fmt.Fprintf(&sb, "- %s: **%d**\n", c.Name, c.Count)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML converts a Markdown report into an HTML fragment.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Writer saves reports under a directory.
type Writer struct {
	Dir string
	Now func() time.Time
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, Now: time.Now}
}

// Daily writes the issue list and the metrics in the given format and
// returns the two file paths.
func (w *Writer) Daily(format string, newIssues, updates []pipeline.Issue, assignments map[string]int) (string, string, error) {
	now := w.Now()
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create report directory: %w", err)
	}
	stamp := now.Format("20060102_150405")
	issues := append(append([]pipeline.Issue(nil), newIssues...), updates...)
	metrics := Compute(newIssues, updates, assignments, now)

	issuesPath := filepath.Join(w.Dir, fmt.Sprintf("daily_report_%s.%s", stamp, format))
	metricsPath := filepath.Join(w.Dir, fmt.Sprintf("metrics_%s.%s", stamp, format))

	var issuesBody, metricsBody []byte
	switch format {
	case FormatCSV:
		var ib, mb bytes.Buffer
		if err := WriteIssuesCSV(&ib, issues); err != nil {
			return "", "", err
		}
		if err := WriteMetricsCSV(&mb, metrics); err != nil {
			return "", "", err
		}
		issuesBody, metricsBody = ib.Bytes(), mb.Bytes()
	case FormatMarkdown:
		issuesBody = []byte(IssuesMarkdown("Jira Issues Report", issues, now))
		metricsBody = []byte(MetricsMarkdown(metrics))
	case FormatHTML:
		ih, err := HTML(IssuesMarkdown("Jira Issues Report", issues, now))
		if err != nil {
			return "", "", err
		}
		mh, err := HTML(MetricsMarkdown(metrics))
		if err != nil {
			return "", "", err
		}
		issuesBody, metricsBody = []byte(ih), []byte(mh)
	default:
		return "", "", fmt.Errorf("unknown report format %q (want md, csv or html)", format)
	}

	if err := os.WriteFile(issuesPath, issuesBody, 0o644); err != nil {
		return "", "", fmt.Errorf("write issues report: %w", err)
	}
	if err := os.WriteFile(metricsPath, metricsBody, 0o644); err != nil {
		return "", "", fmt.Errorf("write metrics report: %w", err)
	}
	return issuesPath, metricsPath, nil
}

func assigneeOf(issue pipeline.Issue) string {
	if issue.Assignee == "" {
		return unassigned
	}
	return issue.Assignee
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
