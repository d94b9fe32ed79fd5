package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"imgforge/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open kv store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestRecordSuccessAndGet(t *testing.T) {
	s := newTestStore(t)

	result := map[string]interface{}{"outputFile": "compressed-abc.jpg", "outputSize": 1200}
	if err := s.RecordSuccess("abc", "compress", "direct", result); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	rec, err := s.Get("abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != StateCompleted || rec.Operation != "compress" || rec.Mode != "direct" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Error != "" {
		t.Errorf("Completed record must not carry an error, got %q", rec.Error)
	}
}

func TestRecordFailureKeepsReason(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordFailure("f1", "crop", "queued", errors.New("crop failed: decode"), nil); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	rec, err := s.Get("f1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.State != StateFailed || rec.Error != "crop failed: decode" {
		t.Errorf("Unexpected record: %+v", rec)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	s.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}

	s.RecordSuccess("a", "resize", "direct", nil)
	s.RecordFailure("b", "resize", "direct", errors.New("boom"), nil)
	s.RecordSuccess("c", "convert", "queued", nil)

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].JobID != "c" || all[2].JobID != "a" {
		t.Errorf("Expected newest first [c b a], got %+v", all)
	}

	done, _ := s.List(StateCompleted)
	if len(done) != 2 {
		t.Errorf("Expected 2 completed records, got %d", len(done))
	}
}

func TestCleanupOldRecords(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	s.RecordSuccess("old", "compress", "direct", nil)
	s.now = func() time.Time { return now.Add(-time.Hour) }
	s.RecordSuccess("recent", "compress", "direct", nil)

	s.now = func() time.Time { return now }
	removed, err := s.CleanupOldRecords(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldRecords failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed record, got %d", removed)
	}
	if _, err := s.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Error("Expected old record to be gone")
	}
	if _, err := s.Get("recent"); err != nil {
		t.Errorf("Expected recent record to remain, got %v", err)
	}
}
