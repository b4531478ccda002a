package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
	"github.com/apeks827/JiraTasksUpdate/internal/report"
)

func newOnceCmd() *cobra.Command {
	var (
		opts       runOptions
		jsonOutput bool
		watchName  string
	)

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single poll cycle for each watch and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()

			// Sleep hours only gate the scheduler loop.
			opts.noTimeControl = true
			a, err := newApp(cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var reports []*pipeline.CycleReport
			var fetchFailed bool
			for _, w := range a.watches {
				if watchName != "" && w.Name() != watchName {
					continue
				}
				r, err := w.RunCycle(cmd.Context())
				var fe *pipeline.FetchError
				if errors.As(err, &fe) {
					fetchFailed = true
				} else if err != nil {
					return err
				}
				if r != nil {
					reports = append(reports, r)
				}
			}
			if watchName != "" && len(reports) == 0 {
				return fmt.Errorf("unknown or disabled watch %q", watchName)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.MarshalIndent(reports, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal reports: %w", err)
				}
				_, _ = fmt.Fprintln(out, string(data))
			} else {
				_, _ = fmt.Fprintln(out, cycleTable(reports))
				for _, r := range reports {
					for _, f := range r.Failures {
						_, _ = fmt.Fprintf(out, "  ✗ %s %s (%s): %s\n", r.Watch, f.IssueID, f.Stage, f.Error)
					}
				}
			}
			if fetchFailed {
				return fmt.Errorf("one or more fetches failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Fetch and decide without notifying, assigning or persisting")
	cmd.Flags().BoolVar(&opts.noTelegram, "no-telegram", false, "Log notifications instead of sending them")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output cycle reports as JSON")
	cmd.Flags().StringVar(&watchName, "watch", "", "Run only this watch (new_issues or updates)")

	return cmd
}

func cycleTable(reports []*pipeline.CycleReport) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		result := "ok"
		switch {
		case r.FetchError != "":
			result = "fetch failed"
		case len(r.Failures) > 0:
			result = strconv.Itoa(len(r.Failures)) + " failed"
		}
		if r.DryRun {
			result += " (dry run)"
		}
		rows = append(rows, []string{
			r.Watch,
			strconv.Itoa(r.Fetched),
			strconv.Itoa(r.Accepted),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.AlreadyProcessed),
			strconv.Itoa(r.Dispatched),
			result,
		})
	}
	return report.Table([]string{"Watch", "Fetched", "Accepted", "Skipped", "Seen", "Sent", "Result"}, rows)
}
