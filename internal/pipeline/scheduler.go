package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

// State is the scheduler's position in the poll cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TimeControl suppresses polling during sleep hours.
type TimeControl struct {
	Enabled    bool
	SleepHours []int
	Location   *time.Location
}

func (tc TimeControl) sleeping(t time.Time) bool {
	if !tc.Enabled {
		return false
	}
	if tc.Location != nil {
		t = t.In(tc.Location)
	}
	for _, h := range tc.SleepHours {
		if t.Hour() == h {
			return true
		}
	}
	return false
}

// SchedulerConfig describes one watched query.
type SchedulerConfig struct {
	Name          string
	Query         string
	Limit         int
	Interval      time.Duration
	FetchRetry    RetryConfig
	DispatchRetry RetryConfig
	Retention     RetentionPolicy
	TimeControl   TimeControl
	DryRun        bool
}

// IssueFailure is a per-issue error surfaced in a cycle report.
type IssueFailure struct {
	IssueID string `json:"issue_id"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

// SkipEntry records why an issue was skipped.
type SkipEntry struct {
	IssueID string `json:"issue_id"`
	Reason  string `json:"reason"`
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	ID               string         `json:"id"`
	Watch            string         `json:"watch"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Fetched          int            `json:"fetched"`
	Accepted         int            `json:"accepted"`
	Skipped          int            `json:"skipped"`
	AlreadyProcessed int            `json:"already_processed"`
	Dispatched       int            `json:"dispatched"`
	Evicted          int            `json:"evicted"`
	FetchError       string         `json:"fetch_error,omitempty"`
	Interrupted      bool           `json:"interrupted,omitempty"`
	DryRun           bool           `json:"dry_run,omitempty"`
	Skips            []SkipEntry    `json:"skips,omitempty"`
	Failures         []IssueFailure `json:"failures,omitempty"`
}

// Scheduler drives poll cycles for one query: fetch, process each issue in
// fetch order, dispatch accepted notifications, evict. At most one cycle runs
// at a time.
type Scheduler struct {
	cfg       SchedulerConfig
	tracker   Tracker
	messenger Messenger
	assigner  Assigner
	processor *Processor
	logger    *slog.Logger
	now       func() time.Time

	execMu sync.Mutex // held for the duration of a cycle
	state  atomic.Int32
	paused atomic.Bool

	mu    sync.RWMutex
	last  *CycleReport
	hooks []func(CycleReport)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithAssigner sets the tracker-side updater for accepted records that carry
// an assignee.
func WithAssigner(a Assigner) SchedulerOption {
	return func(s *Scheduler) {
		s.assigner = a
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerClock overrides time.Now for time control and eviction.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler. The processor's cache is owned by the
// scheduler from here on; other goroutines may only read it.
func NewScheduler(cfg SchedulerConfig, tracker Tracker, messenger Messenger, processor *Processor, opts ...SchedulerOption) *Scheduler {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	s := &Scheduler{
		cfg:       cfg,
		tracker:   tracker,
		messenger: messenger,
		processor: processor,
		logger:    logging.WithComponent("scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("watch", cfg.Name))
	return s
}

// Name returns the watch name.
func (s *Scheduler) Name() string { return s.cfg.Name }

// State returns the current cycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Cache returns the processed cache for read-only introspection.
func (s *Scheduler) Cache() *ProcessedCache { return s.processor.Cache() }

// Pause stops timer ticks from starting cycles. A running cycle finishes.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables timer ticks.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports whether ticks are suppressed.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// OnCycle registers fn to be called with every finished cycle report.
func (s *Scheduler) OnCycle(fn func(CycleReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// LastReport returns the most recent cycle report, or nil.
func (s *Scheduler) LastReport() *CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// Run polls on the configured interval until ctx is cancelled. The first
// cycle starts immediately. Ticks that fire while a cycle is running are
// dropped. Run returns once the in-flight cycle has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting scheduler",
		slog.String("query", s.cfg.Query),
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("limit", s.cfg.Limit),
		slog.Bool("dry_run", s.cfg.DryRun),
	)

	loc := s.cfg.TimeControl.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})),
	)
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule %s: %w", s.cfg.Name, err)
	}

	s.tick(ctx)
	c.Start()

	<-ctx.Done()
	s.logger.Info("Scheduler stopping, waiting for active cycle...")
	<-c.Stop().Done()
	s.execMu.Lock()
	s.setState(StateStopped)
	s.execMu.Unlock()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.paused.Load() {
		s.logger.Debug("Scheduler paused, skipping tick")
		return
	}
	if s.cfg.TimeControl.sleeping(s.now()) {
		s.logger.Info("Sleep hours, skipping tick")
		return
	}
	if _, err := s.RunCycle(ctx); err != nil && errors.Is(err, ErrCycleInProgress) {
		s.logger.Info("Cycle still running, tick coalesced")
	}
}

// RunCycle performs one poll cycle and returns its report. It returns
// ErrCycleInProgress without doing anything when a cycle is already running,
// and a *FetchError (with a report) when fetching failed after retries.
//
// Cancelling ctx stops processing between issues. Records accepted before
// that point are always dispatched, so a marked issue is never left without
// a delivery attempt.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !s.execMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.execMu.Unlock()
	defer s.setState(StateIdle)

	report := &CycleReport{
		ID:        uuid.NewString(),
		Watch:     s.cfg.Name,
		StartedAt: s.now(),
		DryRun:    s.cfg.DryRun,
	}
	log := s.logger.With(slog.String("correlation_id", report.ID))

	s.setState(StateFetching)
	issues, err := s.fetch(ctx, log)
	if err != nil {
		report.FetchError = err.Error()
		s.finish(report)
		return report, err
	}
	report.Fetched = len(issues)

	s.setState(StateProcessing)
	accepted := s.processAll(ctx, log, issues, report)

	s.setState(StateDispatching)
	dctx := context.WithoutCancel(ctx)
	for _, rec := range accepted {
		if s.dispatch(dctx, log, rec, report) {
			report.Dispatched++
		}
	}

	report.Evicted = s.processor.Cache().Evict(s.cfg.Retention, s.now())
	s.finish(report)

	log.Info("Cycle finished",
		slog.Int("fetched", report.Fetched),
		slog.Int("accepted", report.Accepted),
		slog.Int("skipped", report.Skipped),
		slog.Int("already_processed", report.AlreadyProcessed),
		slog.Int("dispatched", report.Dispatched),
		slog.Int("evicted", report.Evicted),
		slog.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (s *Scheduler) fetch(ctx context.Context, log *slog.Logger) ([]Issue, error) {
	var issues []Issue
	attempts, err := withRetry(ctx, s.cfg.FetchRetry, func(ctx context.Context) error {
		var ferr error
		issues, ferr = s.tracker.Fetch(ctx, s.cfg.Query, s.cfg.Limit)
		if ferr != nil && !IsPermanent(ferr) {
			log.Debug("Fetch attempt failed", slog.Any("error", ferr))
		}
		return ferr
	})
	if err != nil {
		fe := &FetchError{Query: s.cfg.Query, Attempts: attempts, Err: err}
		log.Warn("Failed to fetch issues, skipping cycle", slog.Any("error", fe))
		return nil, fe
	}
	if s.cfg.Limit > 0 && len(issues) > s.cfg.Limit {
		issues = issues[:s.cfg.Limit]
	}
	return issues, nil
}

func (s *Scheduler) processAll(ctx context.Context, log *slog.Logger, issues []Issue, report *CycleReport) []NotificationRecord {
	var accepted []NotificationRecord
	for _, issue := range issues {
		if ctx.Err() != nil {
			report.Interrupted = true
			log.Info("Shutdown requested, stopping between issues")
			break
		}

		d, err := s.processor.Process(issue)
		if err != nil {
			report.Failures = append(report.Failures, IssueFailure{IssueID: issue.ID, Stage: "process", Error: err.Error()})
			log.Error("Failed to process issue", slog.String("key", issue.ID), slog.Any("error", err))
			continue
		}

		switch d.Kind {
		case DecisionAlreadyProcessed:
			report.AlreadyProcessed++
			log.Debug("Issue already processed", slog.String("key", issue.ID))
		case DecisionSkipped:
			report.Skipped++
			report.Skips = append(report.Skips, SkipEntry{IssueID: issue.ID, Reason: d.Reason})
			log.Info("Skipping issue", slog.String("key", issue.ID), slog.String("reason", d.Reason))
		case DecisionAccepted:
			report.Accepted++
			accepted = append(accepted, *d.Notification)
			log.Info("Accepted issue",
				slog.String("key", issue.ID),
				slog.String("summary", issue.Summary),
				slog.String("reporter", issue.Reporter),
			)
		}
	}
	return accepted
}

// dispatch applies the assignment (if any) and sends the notification. It
// reports whether the notification was delivered.
func (s *Scheduler) dispatch(ctx context.Context, log *slog.Logger, rec NotificationRecord, report *CycleReport) bool {
	if s.cfg.DryRun {
		log.Info("[DRY-RUN] Would notify",
			slog.String("key", rec.IssueID),
			slog.String("chat_id", rec.Destination.ChatID),
			slog.String("assignee", rec.Destination.Assignee),
		)
		return false
	}

	if s.assigner != nil && rec.Destination.Assignee != "" {
		attempts, err := withRetry(ctx, s.cfg.DispatchRetry, func(ctx context.Context) error {
			return s.assigner.Assign(ctx, rec)
		})
		if err != nil {
			de := &DispatchError{IssueID: rec.IssueID, Stage: "assign", Attempts: attempts, Err: err}
			report.Failures = append(report.Failures, IssueFailure{IssueID: rec.IssueID, Stage: de.Stage, Error: de.Error()})
			log.Error("Failed to assign issue", slog.Any("error", de))
		}
	}

	if s.messenger == nil {
		return false
	}
	attempts, err := withRetry(ctx, s.cfg.DispatchRetry, func(ctx context.Context) error {
		return s.messenger.Send(ctx, rec)
	})
	if err != nil {
		de := &DispatchError{IssueID: rec.IssueID, Stage: "send", Attempts: attempts, Err: err}
		report.Failures = append(report.Failures, IssueFailure{IssueID: rec.IssueID, Stage: de.Stage, Error: de.Error()})
		log.Error("Notification dropped, issue stays processed", slog.Any("error", de))
		return false
	}
	log.Info("Notification sent",
		slog.String("key", rec.IssueID),
		slog.String("chat_id", rec.Destination.ChatID),
	)
	return true
}

func (s *Scheduler) finish(report *CycleReport) {
	report.FinishedAt = s.now()
	s.mu.Lock()
	s.last = report
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(*report)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
