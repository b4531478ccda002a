package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apeks827/JiraTasksUpdate/internal/adapters/telegram"
	"github.com/apeks827/JiraTasksUpdate/internal/dashboard"
	"github.com/apeks827/JiraTasksUpdate/internal/gateway"
	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

func newStartCmd() *cobra.Command {
	var (
		opts          runOptions
		showDashboard bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the watches and the Telegram bot",
		Long: `Start polling Jira on the configured intervals until interrupted.

With --dashboard a terminal UI replaces the log output; press q to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logging.Close() }()

			a, err := newApp(cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					logging.WithComponent("main").Info("Shutting down...")
					cancel()
				case <-ctx.Done():
				}
			}()

			return a.run(ctx, cancel, showDashboard)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Fetch and decide without notifying, assigning or persisting")
	cmd.Flags().BoolVar(&opts.noTelegram, "no-telegram", false, "Log notifications instead of sending them")
	cmd.Flags().BoolVar(&opts.noTimeControl, "no-time-control", false, "Ignore sleep hours")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Override both poll intervals (e.g. 30s)")
	cmd.Flags().BoolVar(&showDashboard, "dashboard", false, "Show the terminal dashboard")

	return cmd
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *app) run(ctx context.Context, cancel context.CancelFunc, showDashboard bool) error {
	log := logging.WithComponent("main")
	if len(a.watches) == 0 {
		return fmt.Errorf("no watches enabled (features.main_loop and features.updates_watcher are both off)")
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Gateway != nil && a.cfg.Gateway.Enabled {
		server := gateway.NewServer(a.cfg.Gateway,
			gateway.WithAuthConfig(a.cfg.Auth),
			gateway.WithVersion(version),
		)
		for _, w := range a.watches {
			server.AddWatch(w)
			w.OnCycle(server.Publish)
		}
		g.Go(func() error {
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		})
	}

	if a.telegram != nil && a.cfg.Features != nil && a.cfg.Features.TelegramCommands {
		checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
		err := a.telegram.CheckSingleton(checkCtx)
		checkCancel()
		if errors.Is(err, telegram.ErrConflict) {
			return fmt.Errorf("another jtu instance is already polling this bot")
		}
		if err != nil {
			log.Warn("Telegram singleton check failed", slog.Any("error", err))
		}

		bot := a.commandHandler()
		transport := telegram.NewTransport(a.telegram, bot)
		transport.StartPolling(ctx)
		defer transport.Stop()

		if a.cfg.Telegram.NotifyLifecycle {
			bot.Notify(ctx, fmt.Sprintf("jtu v%s started", version))
			defer func() {
				notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer notifyCancel()
				bot.Notify(notifyCtx, "jtu stopped")
			}()
		}
	}

	if showDashboard {
		logging.Suppress()
		watches := make([]dashboard.Watch, len(a.watches))
		for i, w := range a.watches {
			watches[i] = w
		}
		program := dashboard.NewProgram(version, watches)
		for _, w := range a.watches {
			w.OnCycle(program.Publish)
		}
		g.Go(func() error {
			defer cancel()
			if err := program.Run(); err != nil {
				return fmt.Errorf("dashboard error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			program.Quit()
			return nil
		})
	}

	for _, w := range a.watches {
		g.Go(func() error { return w.Run(ctx) })
	}

	log.Info("jtu started",
		slog.String("version", version),
		slog.Int("watches", len(a.watches)),
		slog.Bool("dry_run", a.cfg.DryRun),
		slog.Bool("telegram", a.telegram != nil),
	)
	err := g.Wait()
	log.Info("jtu stopped")
	return err
}
