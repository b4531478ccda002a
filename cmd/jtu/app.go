package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/adapters/jira"
	"github.com/apeks827/JiraTasksUpdate/internal/adapters/telegram"
	"github.com/apeks827/JiraTasksUpdate/internal/config"
	"github.com/apeks827/JiraTasksUpdate/internal/logging"
	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
	"github.com/apeks827/JiraTasksUpdate/internal/report"
	"github.com/apeks827/JiraTasksUpdate/internal/store"
)

// Watch names, also used as store namespaces.
const (
	watchNewIssues = "new_issues"
	watchUpdates   = "updates"
)

// runOptions are command-line overrides applied on top of the config.
type runOptions struct {
	dryRun        bool
	noTelegram    bool
	noTimeControl bool
	interval      time.Duration
}

// app holds everything built from the config for one process.
type app struct {
	cfg      *config.Config
	opts     runOptions
	store    *store.Store
	tally    *report.Tally
	jira     *jira.Client
	tracker  *jira.Tracker
	telegram *telegram.Client
	watches  []*pipeline.Scheduler
}

// loadConfig loads the config file, applies --log-level and initializes
// logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		if cfg.Logging == nil {
			cfg.Logging = logging.DefaultConfig()
		}
		cfg.Logging.Level = logLevel
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// newApp validates cfg and builds the clients, the processed store and one
// scheduler per enabled watch.
func newApp(cfg *config.Config, opts runOptions) (*app, error) {
	if opts.dryRun {
		cfg.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	defaults := config.DefaultConfig()
	if cfg.Cache == nil {
		cfg.Cache = defaults.Cache
	}
	if cfg.Retry == nil {
		cfg.Retry = defaults.Retry
	}

	token, err := cfg.JiraToken()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   cfg,
		opts:  opts,
		tally: report.NewTally(),
	}
	a.jira = jira.NewClient(cfg.Jira.Server, cfg.Jira.Username, token, cfg.Jira.Platform)
	a.jira.SetTimeout(cfg.Jira.Timeout.Duration)
	a.tracker = jira.NewTracker(a.jira)

	if !opts.noTelegram {
		tgToken, err := cfg.TelegramToken()
		if err != nil {
			return nil, err
		}
		a.telegram = telegram.NewClient(tgToken)
	}

	// Dry runs never touch the durable dedup state.
	if !cfg.DryRun {
		a.store, err = store.Open(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
	}

	if err := a.buildWatches(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildWatches() error {
	cfg := a.cfg
	tc, err := cfg.TimeControl.Pipeline()
	if err != nil {
		return err
	}
	if a.opts.noTimeControl {
		tc.Enabled = false
	}

	messenger := a.messenger()
	features := cfg.Features
	if features == nil {
		features = &config.FeaturesConfig{}
	}

	mainChat := ""
	if cfg.Telegram.MainChatID != 0 {
		mainChat = strconv.FormatInt(cfg.Telegram.MainChatID, 10)
	}

	if features.MainLoop {
		var router pipeline.Router = pipeline.FixedRouter{ChatID: mainChat}
		var opts []pipeline.SchedulerOption
		if assignees := cfg.Assignee.Assignees(); len(assignees) > 0 {
			router = pipeline.NewRotationRouter(assignees)
			opts = append(opts, pipeline.WithAssigner(&countingAssigner{
				next:  jira.NewAssigner(a.jira, cfg.Assignee.TransitionID),
				tally: a.tally,
			}))
		}
		engine := pipeline.NewEngine(pipeline.RulesFromSet(cfg.SkipRules.RuleSet())...)
		s, err := a.newWatch(watchNewIssues, cfg.JiraSearch.NewIssuesJQL,
			a.interval(cfg.Polling.NewIssuesInterval.Duration), tc, messenger, engine, router, nil, opts...)
		if err != nil {
			return err
		}
		a.watches = append(a.watches, s)
	}

	// Skip rules only gate new issues; every update on a watched issue is sent.
	if features.UpdatesWatcher {
		s, err := a.newWatch(watchUpdates, cfg.JiraSearch.UpdatesJQL,
			a.interval(cfg.Polling.UpdatesInterval.Duration), tc, messenger,
			pipeline.NewEngine(), pipeline.FixedRouter{ChatID: mainChat},
			[]pipeline.ProcessorOption{
				pipeline.WithKind(pipeline.KindUpdate),
				pipeline.WithDedupKey(pipeline.RevisionKey),
			})
		if err != nil {
			return err
		}
		a.watches = append(a.watches, s)
	}
	return nil
}

func (a *app) newWatch(name, query string, interval time.Duration, tc pipeline.TimeControl,
	messenger pipeline.Messenger, engine *pipeline.Engine, router pipeline.Router, procOpts []pipeline.ProcessorOption,
	opts ...pipeline.SchedulerOption) (*pipeline.Scheduler, error) {
	var backend pipeline.Backend
	if a.store != nil {
		backend = a.store.Watch(name)
	}
	cache, err := pipeline.NewProcessedCache(backend)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	processor := pipeline.NewProcessor(engine, cache, router, procOpts...)

	cfg := a.cfg
	return pipeline.NewScheduler(pipeline.SchedulerConfig{
		Name:          name,
		Query:         query,
		Limit:         cfg.Polling.Limit,
		Interval:      interval,
		FetchRetry:    cfg.Retry.Fetch.Pipeline(),
		DispatchRetry: cfg.Retry.Dispatch.Pipeline(),
		Retention:     cfg.Cache.Retention(),
		TimeControl:   tc,
		DryRun:        cfg.DryRun,
	}, a.tracker, messenger, processor, opts...), nil
}

func (a *app) interval(configured time.Duration) time.Duration {
	if a.opts.interval > 0 {
		return a.opts.interval
	}
	return configured
}

func (a *app) messenger() pipeline.Messenger {
	if a.telegram == nil {
		return logMessenger{logger: logging.WithComponent("notify")}
	}
	return telegram.NewMessenger(a.telegram,
		telegram.WithFormatter(telegram.Formatter{ReporterLink: a.cfg.Telegram.ReporterLink}),
		telegram.WithRateLimit(a.cfg.Telegram.SendRate),
	)
}

// commandHandler builds the bot command handler over the running watches.
func (a *app) commandHandler() *telegram.CommandHandler {
	watches := make([]telegram.Watch, len(a.watches))
	for i, w := range a.watches {
		watches[i] = w
	}
	top := 0
	if a.cfg.Reports != nil {
		top = a.cfg.Reports.Top
	}
	return telegram.NewCommandHandler(a.telegram, telegram.CommandConfig{
		AllowedIDs: a.cfg.Telegram.ChatIDs(),
		Queries: telegram.Queries{
			Mine:          a.cfg.JiraSearch.MyIssuesJQL,
			RecentUpdates: a.cfg.JiraSearch.RecentUpdatesJQL,
			NewIssues:     a.cfg.JiraSearch.NewIssuesJQL,
		},
		ReportTop: top,
	}, a.tracker, a.tally, watches...)
}

// Close releases the store.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.WithComponent("store").Warn("Failed to close store", slog.Any("error", err))
		}
	}
}

// countingAssigner records successful assignments for the daily report.
type countingAssigner struct {
	next  pipeline.Assigner
	tally *report.Tally
}

func (c *countingAssigner) Assign(ctx context.Context, rec pipeline.NotificationRecord) error {
	if err := c.next.Assign(ctx, rec); err != nil {
		return err
	}
	if rec.Destination.Assignee != "" {
		c.tally.Add(rec.Destination.Assignee)
	}
	return nil
}

// logMessenger stands in for Telegram when it is disabled.
type logMessenger struct {
	logger *slog.Logger
}

func (m logMessenger) Send(_ context.Context, rec pipeline.NotificationRecord) error {
	m.logger.Info("Notification",
		slog.String("issue", rec.IssueID),
		slog.String("kind", string(rec.Payload.Kind)),
		slog.String("chat_id", rec.Destination.ChatID),
		slog.String("assignee", rec.Destination.Assignee),
		slog.String("summary", rec.Payload.Summary),
	)
	return nil
}
