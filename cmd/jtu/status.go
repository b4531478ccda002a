package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/report"
	"github.com/apeks827/JiraTasksUpdate/internal/store"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show processed-issue counts per watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()

			if cfg.Cache == nil || cfg.Cache.Path == "" {
				return fmt.Errorf("cache.path is not configured")
			}
			s, err := store.Open(cfg.Cache.Path)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			summaries, err := s.Summaries()
			if err != nil {
				return fmt.Errorf("failed to read processed store: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.MarshalIndent(summaries, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				_, _ = fmt.Fprintln(out, string(data))
				return nil
			}

			_, _ = fmt.Fprintf(out, "Processed store: %s\n", cfg.Cache.Path)
			if len(summaries) == 0 {
				_, _ = fmt.Fprintln(out, "  (no processed issues yet)")
				return nil
			}
			_, _ = fmt.Fprintln(out, statusTable(summaries, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func statusTable(summaries []store.WatchSummary, now time.Time) string {
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Watch,
			strconv.Itoa(s.Count),
			humanize.RelTime(s.Oldest, now, "ago", "from now"),
			humanize.RelTime(s.Newest, now, "ago", "from now"),
		})
	}
	return report.Table([]string{"Watch", "Processed", "Oldest", "Newest"}, rows)
}
