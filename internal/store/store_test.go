package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/apeks827/JiraTasksUpdate/internal/pipeline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWatchStore_PersistLoad(t *testing.T) {
	s := newTestStore(t)
	w := s.Watch("new-issues")

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	if err := w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-2", ProcessedAt: t2}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: t1}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	records, err := w.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].IssueID != "KEY-1" || !records[0].ProcessedAt.Equal(t1) {
		t.Errorf("records[0] = %+v", records[0])
	}
	if records[1].IssueID != "KEY-2" || !records[1].ProcessedAt.Equal(t2) {
		t.Errorf("records[1] = %+v", records[1])
	}
}

func TestWatchStore_PersistKeepsFirstTimestamp(t *testing.T) {
	s := newTestStore(t)
	w := s.Watch("new-issues")

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: first})
	_ = w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: first.Add(time.Hour)})

	records, err := w.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || !records[0].ProcessedAt.Equal(first) {
		t.Errorf("records = %+v", records)
	}
}

func TestWatchStore_Namespaced(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	_ = s.Watch("new-issues").Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: now})
	_ = s.Watch("updates").Persist(pipeline.ProcessedRecord{IssueID: "KEY-1@x", ProcessedAt: now})

	records, err := s.Watch("updates").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || records[0].IssueID != "KEY-1@x" {
		t.Errorf("updates records = %+v", records)
	}

	summaries, err := s.Summaries()
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Watch != "new-issues" || summaries[0].Count != 1 {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestWatchStore_Delete(t *testing.T) {
	s := newTestStore(t)
	w := s.Watch("new-issues")
	now := time.Now().UTC()
	for _, id := range []string{"KEY-1", "KEY-2", "KEY-3"} {
		_ = w.Persist(pipeline.ProcessedRecord{IssueID: id, ProcessedAt: now})
	}

	if err := w.Delete([]string{"KEY-1", "KEY-3"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := w.Delete([]string{"missing"}); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if err := w.Delete(nil); err != nil {
		t.Fatalf("Delete(nil): %v", err)
	}

	records, _ := w.Load()
	if len(records) != 1 || records[0].IssueID != "KEY-2" {
		t.Errorf("records = %+v", records)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "processed.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Watch("new-issues").Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: time.Now()})
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()

	cache, err := pipeline.NewProcessedCache(s.Watch("new-issues"))
	if err != nil {
		t.Fatalf("NewProcessedCache: %v", err)
	}
	if !cache.Contains("KEY-1") {
		t.Error("marker lost across restart")
	}
}

func TestStore_BackedCacheEviction(t *testing.T) {
	s := newTestStore(t)
	w := s.Watch("new-issues")

	cache, err := pipeline.NewProcessedCache(w)
	if err != nil {
		t.Fatalf("NewProcessedCache: %v", err)
	}
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	_ = cache.Mark("OLD-1", now.Add(-48*time.Hour))
	_ = cache.Mark("NEW-1", now)

	if n := cache.Evict(pipeline.RetentionPolicy{MaxAge: 24 * time.Hour}, now); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	records, _ := w.Load()
	if len(records) != 1 || records[0].IssueID != "NEW-1" {
		t.Errorf("backend after eviction = %+v", records)
	}
}

func TestWatchStore_OrdersSubSecondTimestamps(t *testing.T) {
	s := newTestStore(t)
	w := s.Watch("new-issues")

	whole := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)
	_ = w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-2", ProcessedAt: half})
	_ = w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: whole})

	records, err := w.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 || records[0].IssueID != "KEY-1" || records[1].IssueID != "KEY-2" {
		t.Fatalf("records = %+v", records)
	}
	if !records[1].ProcessedAt.Equal(half) {
		t.Errorf("ProcessedAt = %v, want %v", records[1].ProcessedAt, half)
	}

	summaries, err := s.Summaries()
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(summaries) != 1 || !summaries[0].Oldest.Equal(whole) || !summaries[0].Newest.Equal(half) {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestWatchStore_LoadRejectsCorruptRow(t *testing.T) {
	s := newTestStore(t)
	w := s.Watch("new-issues")
	_ = w.Persist(pipeline.ProcessedRecord{IssueID: "KEY-1", ProcessedAt: time.Now()})
	if _, err := s.db.Exec(`INSERT INTO processed_issues (watch, issue_id, processed_at)
		VALUES ('new-issues', 'KEY-2', 'not a time')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := w.Load(); err == nil {
		t.Fatal("expected Load to fail on a corrupt timestamp")
	}
	if _, err := pipeline.NewProcessedCache(w); err == nil {
		t.Error("expected cache construction to surface the corrupt row")
	}
}
