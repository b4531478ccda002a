package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7eb8da")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3d4450"))
)

// Table renders rows under headers with the muted terminal style used by
// the CLI.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

// IssueTable renders issues as a terminal table.
func IssueTable(issues []pipeline.Issue) string {
	rows := make([][]string, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, []string{
			issue.ID,
			truncate(issue.Summary, 40),
			issue.Status,
			issue.Reporter,
			assigneeOf(issue),
		})
	}
	return Table([]string{"Key", "Summary", "Status", "Creator", "Assignee"}, rows)
}

// BreakdownTable renders a breakdown sorted by count.
func BreakdownTable(title string, breakdown map[string]int) string {
	rows := make([][]string, 0, len(breakdown))
	for _, c := range Sorted(breakdown) {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.Count)})
	}
	return Table([]string{title, "Count"}, rows)
}

// Summary renders the metrics as short plain text for chat messages.
func Summary(m Metrics, top int) string {
	var sb strings.Builder
	sb.WriteString("Daily Jira Metrics\n\n")
	fmt.Fprintf(&sb, "New Issues: %d\n", m.NewIssues)
	fmt.Fprintf(&sb, "Updated Issues: %d\n", m.UpdatedIssues)
	fmt.Fprintf(&sb, "Total: %d\n", m.Total)

	if len(m.ByStatus) > 0 {
		sb.WriteString("\nStatus Breakdown:\n")
		for _, c := range Sorted(m.ByStatus) {
			fmt.Fprintf(&sb, "  %s: %d\n", c.Name, c.Count)
		}
	}
	if len(m.ByCreator) > 0 {
		sb.WriteString("\nTop Creators:\n")
		for _, c := range Top(m.ByCreator, top) {
			fmt.Fprintf(&sb, "  %s: %d\n", c.Name, c.Count)
		}
	}
	if len(m.Assignments) > 0 {
		sb.WriteString("\nAssignments:\n")
		for _, c := range Sorted(m.Assignments) {
			fmt.Fprintf(&sb, "  %s: %d\n", c.Name, c.Count)
		}
	}
	return sb.String()
}
