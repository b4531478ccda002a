package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeTracker struct {
	mu      sync.Mutex
	batches [][]Issue // returned in order; the last one repeats
	errs    []error   // consumed before batches
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeTracker) Fetch(ctx context.Context, query string, limit int) ([]Issue, error) {
	f.mu.Lock()
	f.calls++
	started, block := f.started, f.block
	f.started = nil
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	var batch []Issue
	if err == nil && len(f.batches) > 0 {
		batch = f.batches[0]
		if len(f.batches) > 1 {
			f.batches = f.batches[1:]
		}
	}
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return batch, err
}

func (f *fakeTracker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []NotificationRecord
	calls  int
	failOn map[string]error // issue id -> error returned on every attempt
	failN  int              // fail the first N calls with a transient error
}

func (f *fakeMessenger) Send(ctx context.Context, rec NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.failOn[rec.IssueID]; ok {
		return err
	}
	if f.failN > 0 {
		f.failN--
		return errors.New("transient send failure")
	}
	f.sent = append(f.sent, rec)
	return nil
}

func (f *fakeMessenger) Sent() []NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]NotificationRecord(nil), f.sent...)
}

type fakeAssigner struct {
	mu       sync.Mutex
	assigned []string
	err      error
}

func (f *fakeAssigner) Assign(ctx context.Context, rec NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.assigned = append(f.assigned, rec.IssueID+"->"+rec.Destination.Assignee)
	return nil
}

type fakeBackend struct {
	mu        sync.Mutex
	records   map[string]time.Time
	loadErr   error
	failFor   map[string]bool
	persisted int
	deleted   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{records: make(map[string]time.Time), failFor: make(map[string]bool)}
}

func (b *fakeBackend) Load() ([]ProcessedRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	var out []ProcessedRecord
	for id, ts := range b.records {
		out = append(out, ProcessedRecord{IssueID: id, ProcessedAt: ts})
	}
	return out, nil
}

func (b *fakeBackend) Persist(r ProcessedRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failFor[r.IssueID] || b.failFor["*"] {
		return errors.New("database is locked")
	}
	b.persisted++
	b.records[r.IssueID] = r.ProcessedAt
	return nil
}

func (b *fakeBackend) Delete(ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.records, id)
	}
	b.deleted = append(b.deleted, ids...)
	return nil
}

// cancelRouter cancels a context the first time it routes an issue.
type cancelRouter struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (r *cancelRouter) Next(Issue) Destination {
	r.once.Do(r.cancel)
	return Destination{ChatID: "100"}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func mustCache(backend Backend) *ProcessedCache {
	c, err := NewProcessedCache(backend)
	if err != nil {
		panic(err)
	}
	return c
}
