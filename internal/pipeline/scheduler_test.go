package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestScheduler(tracker Tracker, messenger Messenger, p *Processor, mutate func(*SchedulerConfig), opts ...SchedulerOption) *Scheduler {
	cfg := SchedulerConfig{
		Name:          "new-issues",
		Query:         `project = SD911 AND assignee is EMPTY`,
		Limit:         50,
		Interval:      time.Second,
		FetchRetry:    fastRetry(),
		DispatchRetry: fastRetry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewScheduler(cfg, tracker, messenger, p, opts...)
}

func TestScheduler_RunCycle(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{
		{ID: "KEY-1", Body: "Problem with пропуск"},
		{ID: "KEY-2", Body: "normal bug", Summary: "Printer"},
	}}}
	messenger := &fakeMessenger{}
	cache := mustCache(nil)
	p := NewProcessor(NewEngine(KeywordRule{Keyword: "пропуск"}), cache, FixedRouter{ChatID: "42"})
	s := newTestScheduler(tracker, messenger, p, nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Fetched != 2 || report.Accepted != 1 || report.Skipped != 1 || report.Dispatched != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.ID == "" {
		t.Error("expected cycle id")
	}
	sent := messenger.Sent()
	if len(sent) != 1 || sent[0].IssueID != "KEY-2" || sent[0].Payload.Summary != "Printer" {
		t.Errorf("sent = %+v", sent)
	}
	if cache.Contains("KEY-1") {
		t.Error("skipped issue must not be marked")
	}
	if s.State() != StateIdle {
		t.Errorf("state after cycle = %v, want idle", s.State())
	}
	if last := s.LastReport(); last == nil || last.ID != report.ID {
		t.Error("LastReport should return the finished cycle")
	}
}

func TestScheduler_AtMostOneNotificationAcrossCycles(t *testing.T) {
	issues := []Issue{{ID: "KEY-1"}, {ID: "KEY-2"}}
	tracker := &fakeTracker{batches: [][]Issue{issues}}
	messenger := &fakeMessenger{}
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), nil), nil)

	for i := 0; i < 3; i++ {
		if _, err := s.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	if n := len(messenger.Sent()); n != 2 {
		t.Errorf("sent %d notifications over 3 cycles, want 2", n)
	}
	last := s.LastReport()
	if last.AlreadyProcessed != 2 || last.Accepted != 0 {
		t.Errorf("third cycle report: %+v", last)
	}
}

func TestScheduler_FetchRetriedThenSucceeds(t *testing.T) {
	tracker := &fakeTracker{
		errs:    []error{errors.New("connection reset"), errors.New("502 bad gateway")},
		batches: [][]Issue{{{ID: "KEY-1"}}},
	}
	messenger := &fakeMessenger{}
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), nil), nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if tracker.Calls() != 3 {
		t.Errorf("fetch calls = %d, want 3", tracker.Calls())
	}
	if report.Dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", report.Dispatched)
	}
}

func TestScheduler_FetchFailureSkipsCycle(t *testing.T) {
	fetchErr := errors.New("jira unavailable")
	tracker := &fakeTracker{errs: []error{fetchErr, fetchErr, fetchErr}}
	messenger := &fakeMessenger{}
	cache := mustCache(nil)
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, cache, nil), nil)

	report, err := s.RunCycle(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.Attempts != 3 || !errors.Is(err, fetchErr) {
		t.Errorf("fetch error = %+v", fe)
	}
	if report == nil || report.FetchError == "" {
		t.Error("report must record the fetch error")
	}
	if messenger.calls != 0 {
		t.Error("nothing may be dispatched when the fetch fails")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestScheduler_PermanentFetchErrorNotRetried(t *testing.T) {
	tracker := &fakeTracker{errs: []error{Permanent(errors.New("JQL syntax error"))}}
	s := newTestScheduler(tracker, &fakeMessenger{}, NewProcessor(nil, mustCache(nil), nil), nil)

	_, err := s.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if tracker.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", tracker.Calls())
	}
}

func TestScheduler_DispatchFailureKeepsMarker(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}, {ID: "KEY-2"}}}}
	messenger := &fakeMessenger{failOn: map[string]error{"KEY-1": errors.New("telegram 502")}}
	cache := mustCache(nil)
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, cache, nil), nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !cache.Contains("KEY-1") {
		t.Error("processed marker must not be rolled back on dispatch failure")
	}
	if report.Dispatched != 1 || len(report.Failures) != 1 || report.Failures[0].Stage != "send" {
		t.Errorf("report = %+v", report)
	}
	// KEY-1: 3 attempts, KEY-2: 1 attempt.
	if messenger.calls != 4 {
		t.Errorf("send calls = %d, want 4", messenger.calls)
	}

	_, _ = s.RunCycle(context.Background())
	if messenger.calls != 4 {
		t.Error("dropped notification must not be retried on the next cycle")
	}
}

func TestScheduler_PermanentSendRejectionNotRetried(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	messenger := &fakeMessenger{failOn: map[string]error{"KEY-1": Permanent(errors.New("chat not found"))}}
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), nil), nil)

	report, _ := s.RunCycle(context.Background())
	if messenger.calls != 1 {
		t.Errorf("send calls = %d, want 1", messenger.calls)
	}
	if len(report.Failures) != 1 {
		t.Errorf("failures = %+v", report.Failures)
	}
}

func TestScheduler_TransientSendRecovers(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	messenger := &fakeMessenger{failN: 2}
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), nil), nil)

	report, _ := s.RunCycle(context.Background())
	if report.Dispatched != 1 || len(report.Failures) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestScheduler_BatchIsolation(t *testing.T) {
	backend := newFakeBackend()
	backend.failFor["KEY-2"] = true
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}, {ID: "KEY-2"}, {ID: "KEY-3"}}}}
	messenger := &fakeMessenger{}
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(backend), nil), nil)

	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Accepted != 2 || report.Dispatched != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].IssueID != "KEY-2" || report.Failures[0].Stage != "process" {
		t.Errorf("failures = %+v", report.Failures)
	}
	sent := messenger.Sent()
	if len(sent) != 2 || sent[0].IssueID != "KEY-1" || sent[1].IssueID != "KEY-3" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestScheduler_AssignsBeforeSending(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}, {ID: "KEY-2"}}}}
	messenger := &fakeMessenger{}
	assigner := &fakeAssigner{}
	router := NewRotationRouter([]Assignee{{Username: "alice", ChatID: "1"}, {Username: "bob", ChatID: "2"}})
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), router), nil, WithAssigner(assigner))

	if _, err := s.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(assigner.assigned) != 2 || assigner.assigned[0] != "KEY-1->alice" || assigner.assigned[1] != "KEY-2->bob" {
		t.Errorf("assigned = %v", assigner.assigned)
	}
	sent := messenger.Sent()
	if len(sent) != 2 || sent[1].Destination.ChatID != "2" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestScheduler_AssignFailureStillNotifies(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	messenger := &fakeMessenger{}
	assigner := &fakeAssigner{err: Permanent(errors.New("transition not allowed"))}
	router := NewRotationRouter([]Assignee{{Username: "alice", ChatID: "1"}})
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), router), nil, WithAssigner(assigner))

	report, _ := s.RunCycle(context.Background())
	if report.Dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", report.Dispatched)
	}
	if len(report.Failures) != 1 || report.Failures[0].Stage != "assign" {
		t.Errorf("failures = %+v", report.Failures)
	}
}

func TestScheduler_CycleInProgress(t *testing.T) {
	tracker := &fakeTracker{
		batches: [][]Issue{{{ID: "KEY-1"}}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	s := newTestScheduler(tracker, &fakeMessenger{}, NewProcessor(nil, mustCache(nil), nil), nil)
	started := tracker.started

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.RunCycle(context.Background())
	}()

	<-started
	if s.State() != StateFetching {
		t.Errorf("state = %v, want fetching", s.State())
	}
	if _, err := s.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("expected ErrCycleInProgress, got %v", err)
	}
	close(tracker.block)
	wg.Wait()

	if tracker.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1 (second tick must be dropped)", tracker.Calls())
	}
}

func TestScheduler_ShutdownBetweenIssues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}, {ID: "KEY-2"}, {ID: "KEY-3"}}}}
	messenger := &fakeMessenger{}
	cache := mustCache(nil)
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, cache, &cancelRouter{cancel: cancel}), nil)

	report, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !report.Interrupted {
		t.Error("expected interrupted cycle")
	}
	if report.Accepted != 1 || cache.Len() != 1 {
		t.Errorf("accepted=%d cache=%d, want 1/1", report.Accepted, cache.Len())
	}
	sent := messenger.Sent()
	if len(sent) != 1 || sent[0].IssueID != "KEY-1" {
		t.Errorf("marked issue must still be dispatched, sent = %+v", sent)
	}
}

func TestScheduler_DryRun(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	messenger := &fakeMessenger{}
	assigner := &fakeAssigner{}
	router := NewRotationRouter([]Assignee{{Username: "alice", ChatID: "1"}})
	s := newTestScheduler(tracker, messenger, NewProcessor(nil, mustCache(nil), router),
		func(c *SchedulerConfig) { c.DryRun = true }, WithAssigner(assigner))

	report, _ := s.RunCycle(context.Background())
	if messenger.calls != 0 || len(assigner.assigned) != 0 {
		t.Error("dry run must not call collaborators")
	}
	if report.Accepted != 1 || report.Dispatched != 0 || !report.DryRun {
		t.Errorf("report = %+v", report)
	}
}

func TestScheduler_EvictsAtCycleEnd(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	cache := mustCache(nil)
	_ = cache.Mark("OLD-1", now.Add(-2*time.Hour))
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	p := NewProcessor(nil, cache, nil, WithClock(func() time.Time { return now }))
	s := newTestScheduler(tracker, &fakeMessenger{}, p,
		func(c *SchedulerConfig) { c.Retention = RetentionPolicy{MaxAge: time.Hour} },
		WithSchedulerClock(func() time.Time { return now }))

	report, _ := s.RunCycle(context.Background())
	if report.Evicted != 1 {
		t.Errorf("evicted = %d, want 1", report.Evicted)
	}
	if cache.Contains("OLD-1") || !cache.Contains("KEY-1") {
		t.Error("eviction must drop only the expired entry")
	}
}

func TestScheduler_LimitTruncatesBatch(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "A"}, {ID: "B"}, {ID: "C"}}}}
	s := newTestScheduler(tracker, &fakeMessenger{}, NewProcessor(nil, mustCache(nil), nil),
		func(c *SchedulerConfig) { c.Limit = 2 })

	report, _ := s.RunCycle(context.Background())
	if report.Fetched != 2 {
		t.Errorf("fetched = %d, want 2", report.Fetched)
	}
}

func TestScheduler_OnCycleHook(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	s := newTestScheduler(tracker, &fakeMessenger{}, NewProcessor(nil, mustCache(nil), nil), nil)

	var got []CycleReport
	s.OnCycle(func(r CycleReport) { got = append(got, r) })
	_, _ = s.RunCycle(context.Background())

	if len(got) != 1 || got[0].Watch != "new-issues" || got[0].Accepted != 1 {
		t.Errorf("hook reports = %+v", got)
	}
}

func TestScheduler_TickRespectsPauseAndSleepHours(t *testing.T) {
	now := time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	s := newTestScheduler(tracker, &fakeMessenger{}, NewProcessor(nil, mustCache(nil), nil),
		func(c *SchedulerConfig) {
			c.TimeControl = TimeControl{Enabled: true, SleepHours: []int{23, 0, 1, 2, 3}, Location: time.UTC}
		},
		WithSchedulerClock(func() time.Time { return now }))

	s.tick(context.Background())
	if tracker.Calls() != 0 {
		t.Error("tick during sleep hours must not fetch")
	}

	now = now.Add(9 * time.Hour)
	s.Pause()
	s.tick(context.Background())
	if tracker.Calls() != 0 {
		t.Error("paused scheduler must not fetch")
	}

	s.Resume()
	s.tick(context.Background())
	if tracker.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", tracker.Calls())
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	tracker := &fakeTracker{batches: [][]Issue{{{ID: "KEY-1"}}}}
	s := newTestScheduler(tracker, &fakeMessenger{}, NewProcessor(nil, mustCache(nil), nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan struct{})
	var once sync.Once
	s.OnCycle(func(CycleReport) { once.Do(func() { close(first) }) })

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("initial cycle did not run")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
}

func TestTimeControl(t *testing.T) {
	tc := TimeControl{Enabled: true, SleepHours: []int{0, 1}, Location: time.UTC}
	if !tc.sleeping(time.Date(2026, 1, 1, 1, 30, 0, 0, time.UTC)) {
		t.Error("01:30 should be sleeping")
	}
	if tc.sleeping(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)) {
		t.Error("11:00 should be awake")
	}
	tc.Enabled = false
	if tc.sleeping(time.Date(2026, 1, 1, 1, 30, 0, 0, time.UTC)) {
		t.Error("disabled time control never sleeps")
	}
}
