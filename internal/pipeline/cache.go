package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/logging"
)

// Backend is the optional durable store behind a ProcessedCache. Without one
// the cache lives for the process lifetime only, and duplicate notifications
// can recur after a restart.
type Backend interface {
	Load() ([]ProcessedRecord, error)
	Persist(record ProcessedRecord) error
	Delete(issueIDs []string) error
}

// RetentionPolicy bounds the cache. Zero fields disable that bound.
type RetentionPolicy struct {
	MaxAge     time.Duration
	MaxEntries int
}

// ProcessedCache tracks which issue keys were already handled. Contains is
// safe to call from any goroutine; Mark and Evict are meant to be driven by a
// single scheduler.
type ProcessedCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	backend Backend
	logger  *slog.Logger
}

// NewProcessedCache creates a cache and loads existing records from backend
// when one is given. A load failure is returned so the caller can refuse to
// start with silently empty dedup state.
func NewProcessedCache(backend Backend) (*ProcessedCache, error) {
	c := &ProcessedCache{
		entries: make(map[string]time.Time),
		backend: backend,
		logger:  logging.WithComponent("processed-cache"),
	}
	if backend == nil {
		return c, nil
	}

	records, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load processed records: %w", err)
	}
	for _, r := range records {
		if prev, ok := c.entries[r.IssueID]; !ok || r.ProcessedAt.Before(prev) {
			c.entries[r.IssueID] = r.ProcessedAt
		}
	}
	if len(records) > 0 {
		c.logger.Info("Loaded processed issues from store", slog.Int("count", len(c.entries)))
	}
	return c, nil
}

// Contains reports whether issueID is marked.
func (c *ProcessedCache) Contains(issueID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[issueID]
	return ok
}

// Mark records issueID as processed at ts. Marking a key that is already
// present is a no-op. The durable backend is written before the in-memory
// entry so a backend failure never leaves a marker that would be lost on
// restart; such failures return *CacheUnavailableError.
func (c *ProcessedCache) Mark(issueID string, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[issueID]; ok {
		return nil
	}
	if c.backend != nil {
		if err := c.backend.Persist(ProcessedRecord{IssueID: issueID, ProcessedAt: ts}); err != nil {
			return &CacheUnavailableError{IssueID: issueID, Err: err}
		}
	}
	c.entries[issueID] = ts
	return nil
}

// Evict removes entries older than policy.MaxAge relative to now, then the
// oldest entries beyond policy.MaxEntries. It returns the number removed.
// Backend deletes are best effort: a failure is logged and the entries are
// still dropped from memory.
func (c *ProcessedCache) Evict(policy RetentionPolicy, now time.Time) int {
	c.mu.Lock()
	var removed []string
	if policy.MaxAge > 0 {
		horizon := now.Add(-policy.MaxAge)
		for id, ts := range c.entries {
			if ts.Before(horizon) {
				removed = append(removed, id)
				delete(c.entries, id)
			}
		}
	}
	if policy.MaxEntries > 0 && len(c.entries) > policy.MaxEntries {
		records := c.snapshotLocked()
		for _, r := range records[:len(records)-policy.MaxEntries] {
			removed = append(removed, r.IssueID)
			delete(c.entries, r.IssueID)
		}
	}
	backend := c.backend
	c.mu.Unlock()

	if len(removed) > 0 && backend != nil {
		if err := backend.Delete(removed); err != nil {
			c.logger.Warn("Failed to delete evicted records from store",
				slog.Int("count", len(removed)),
				slog.Any("error", err),
			)
		}
	}
	return len(removed)
}

// Len returns the number of marked issues.
func (c *ProcessedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns all records ordered oldest first.
func (c *ProcessedCache) Snapshot() []ProcessedRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *ProcessedCache) snapshotLocked() []ProcessedRecord {
	records := make([]ProcessedRecord, 0, len(c.entries))
	for id, ts := range c.entries {
		records = append(records, ProcessedRecord{IssueID: id, ProcessedAt: ts})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].ProcessedAt.Equal(records[j].ProcessedAt) {
			return records[i].IssueID < records[j].IssueID
		}
		return records[i].ProcessedAt.Before(records[j].ProcessedAt)
	})
	return records
}
