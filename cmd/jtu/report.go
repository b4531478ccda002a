package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apeks827/JiraTasksUpdate/internal/adapters/jira"
	"github.com/apeks827/JiraTasksUpdate/internal/config"
	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
	"github.com/apeks827/JiraTasksUpdate/internal/report"
)

const formatTable = "table"

func newReportCmd() *cobra.Command {
	var (
		format string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the daily issue report",
		Long: `Fetch the new-issue and recent-update queues and export them.

Formats: md, csv and html write two files (issues and metrics) to the
reports directory; table prints to the terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()

			if format == "" {
				format = report.FormatMarkdown
				if cfg.Reports != nil && cfg.Reports.Format != "" {
					format = cfg.Reports.Format
				}
			}
			if outDir == "" && cfg.Reports != nil {
				outDir = cfg.Reports.Dir
			}

			tracker, err := reportTracker(cfg)
			if err != nil {
				return err
			}
			limit := 0
			if cfg.Polling != nil {
				limit = cfg.Polling.Limit
			}

			ctx := cmd.Context()
			newIssues, err := tracker.Fetch(ctx, cfg.JiraSearch.NewIssuesJQL, limit)
			if err != nil {
				return fmt.Errorf("fetch new issues: %w", err)
			}
			var updates []pipeline.Issue
			if cfg.JiraSearch.RecentUpdatesJQL != "" {
				updates, err = tracker.Fetch(ctx, cfg.JiraSearch.RecentUpdatesJQL, limit)
				if err != nil {
					return fmt.Errorf("fetch updates: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if format == formatTable {
				top := 5
				if cfg.Reports != nil && cfg.Reports.Top > 0 {
					top = cfg.Reports.Top
				}
				all := append(append([]pipeline.Issue(nil), newIssues...), updates...)
				_, _ = fmt.Fprintln(out, report.IssueTable(all))
				_, _ = fmt.Fprintln(out, report.Summary(report.Compute(newIssues, updates, nil, time.Now()), top))
				return nil
			}

			issuesPath, metricsPath, err := report.NewWriter(outDir).Daily(format, newIssues, updates, nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Issues report:  %s\nMetrics report: %s\n", issuesPath, metricsPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: md, csv, html or table (default reports.format)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default reports.dir)")
	return cmd
}

func reportTracker(cfg *config.Config) (*jira.Tracker, error) {
	if cfg.Jira == nil || cfg.Jira.Server == "" {
		return nil, fmt.Errorf("jira.server is required")
	}
	if cfg.JiraSearch == nil || cfg.JiraSearch.NewIssuesJQL == "" {
		return nil, fmt.Errorf("jira_search.new_issues_jql is required")
	}
	token, err := cfg.JiraToken()
	if err != nil {
		return nil, err
	}
	client := jira.NewClient(cfg.Jira.Server, cfg.Jira.Username, token, cfg.Jira.Platform)
	client.SetTimeout(cfg.Jira.Timeout.Duration)
	return jira.NewTracker(client), nil
}
