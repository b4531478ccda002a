package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/apeks827/JiraTasksUpdate/internal/adapters/jira"
	"github.com/apeks827/JiraTasksUpdate/internal/adapters/telegram"
	"github.com/apeks827/JiraTasksUpdate/internal/config"
	"github.com/apeks827/JiraTasksUpdate/internal/health"
	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/store"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		noTelegram bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Long: `Validate the configuration, then check that Jira, Telegram and the
processed store are reachable.

Examples:
  jtu doctor                # Run all checks
  jtu doctor --no-telegram  # Skip the bot check
  jtu doctor --verbose      # Show fix suggestions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				cfg = config.DefaultConfig()
			} else {
				defer func() { _ = logging.Close() }()
			}
			report := health.RunChecks(cmd.Context(), cfg, doctorConnChecks(cfg, !noTelegram)...)
			printDoctorReport(cmd.OutOrStdout(), report, verbose)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed output with fix suggestions")
	cmd.Flags().BoolVar(&noTelegram, "no-telegram", false, "Skip Telegram checks")

	return cmd
}

func doctorConnChecks(cfg *config.Config, withTelegram bool) []health.ConnCheck {
	var connChecks []health.ConnCheck

	if cfg.Jira != nil {
		connChecks = append(connChecks, health.ConnCheck{
			Name: "jira",
			Fix:  "check jira.server, jira.username and the token",
			Run: func(ctx context.Context) (string, error) {
				token, err := cfg.JiraToken()
				if err != nil {
					return "", err
				}
				client := jira.NewClient(cfg.Jira.Server, cfg.Jira.Username, token, cfg.Jira.Platform)
				client.SetTimeout(cfg.Jira.Timeout.Duration)
				if err := client.Ping(ctx); err != nil {
					return "", err
				}
				return cfg.Jira.Server, nil
			},
		})
	}

	if withTelegram && cfg.Telegram != nil {
		if token, err := cfg.TelegramToken(); err == nil {
			connChecks = append(connChecks, health.ConnCheck{
				Name: "telegram",
				Fix:  "check the bot token with @BotFather",
				Run: func(ctx context.Context) (string, error) {
					me, err := telegram.NewClient(token).GetMe(ctx)
					if err != nil {
						return "", err
					}
					return "@" + me.Username, nil
				},
			})
		}
	}

	// Opening creates the file, so only check a store that already exists.
	if cfg.Cache != nil && cfg.Cache.Path != "" {
		if _, err := os.Stat(cfg.Cache.Path); err == nil {
			path := cfg.Cache.Path
			connChecks = append(connChecks, health.ConnCheck{
				Name: "store",
				Fix:  "remove or restore the processed store file",
				Run: func(context.Context) (string, error) {
					s, err := store.Open(path)
					if err != nil {
						return "", err
					}
					defer func() { _ = s.Close() }()
					if err := s.Ping(); err != nil {
						return "", err
					}
					return "readable", nil
				},
			})
		}
	}
	return connChecks
}

func printDoctorReport(w io.Writer, report *health.Report, verbose bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "jtu Health Check")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	printChecks := func(title string, checks []health.Check) {
		if len(checks) == 0 {
			return
		}
		fmt.Fprintln(w, title)
		for _, c := range checks {
			fmt.Fprintf(w, "  %s %-16s %s\n", c.Status.ColorSymbol(), c.Name, c.Message)
			if verbose && c.Fix != "" && c.Status != health.StatusOK {
				fmt.Fprintf(w, "                     → %s\n", c.Fix)
			}
		}
		fmt.Fprintln(w)
	}
	printChecks("Configuration:", report.Config)
	printChecks("Connectivity:", report.Connectivity)

	fmt.Fprintln(w, "Features:")
	for _, f := range report.Features {
		note := ""
		if f.Note != "" {
			note = " (" + f.Note + ")"
		}
		fmt.Fprintf(w, "  %s %-16s%s\n", f.Status.ColorSymbol(), f.Name, note)
	}
	fmt.Fprintln(w)

	errors, warnings := report.Summary()
	if errors > 0 || warnings > 0 {
		fmt.Fprintln(w, "Recommendations:")
		shown := 0
		maxRecs := 5
		// Errors first, then warnings.
		for _, want := range []health.Status{health.StatusError, health.StatusWarning} {
			for _, list := range [][]health.Check{report.Config, report.Connectivity} {
				for _, c := range list {
					if c.Status == want && c.Fix != "" && shown < maxRecs {
						fmt.Fprintf(w, "  %d. %s: %s\n", shown+1, c.Name, c.Fix)
						shown++
					}
				}
			}
		}
		fmt.Fprintln(w)
	}

	switch {
	case errors == 0 && warnings == 0:
		fmt.Fprintln(w, "✅ All systems operational!")
	case report.ReadyToStart():
		fmt.Fprintf(w, "✅ Ready to start (%d warning(s))\n", warnings)
	default:
		fmt.Fprintf(w, "❌ Not ready - %d error(s)\n", errors)
	}
}
