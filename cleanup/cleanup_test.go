package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"imgforge/settings"
)

type staticSettings struct {
	snap *settings.Snapshot
}

func (s staticSettings) Get(ctx context.Context) *settings.Snapshot { return s.snap }

func retentionSettings(processed, archive, temp float64, auto bool) staticSettings {
	snap := settings.Defaults()
	snap.Retention = settings.Retention{
		ProcessedHours:       processed,
		ArchiveHours:         archive,
		TempHours:            temp,
		AutoCleanup:          auto,
		CleanupIntervalHours: 1,
	}
	return staticSettings{snap: snap}
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type dirs struct {
	processed, archives, uploads string
}

func newEngine(t *testing.T, src staticSettings) (*Engine, dirs) {
	t.Helper()
	d := dirs{processed: t.TempDir(), archives: t.TempDir(), uploads: t.TempDir()}
	e := NewEngine(src, d.processed, d.archives, d.uploads).WithClock(func() time.Time { return testNow })
	return e, d
}

// touch creates a file of size bytes whose mtime is age before testNow.
func touch(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := testNow.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRetentionBoundaryIsStrict(t *testing.T) {
	e, d := newEngine(t, retentionSettings(24, 6, 2.5, true))

	atBoundary := touch(t, d.processed, "compressed-a.jpg", 10, 24*time.Hour)
	pastBoundary := touch(t, d.processed, "resized-b.jpg", 20, 24*time.Hour+time.Second)

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !exists(atBoundary) {
		t.Error("File exactly at the retention boundary must be kept")
	}
	if exists(pastBoundary) {
		t.Error("File one second past the boundary must be deleted")
	}
	if report.DeletedCount != 1 || report.TotalSize != 20 {
		t.Errorf("Expected 1 file / 20 bytes, got %d / %d", report.DeletedCount, report.TotalSize)
	}
}

func TestFractionalRetentionHours(t *testing.T) {
	e, d := newEngine(t, retentionSettings(24, 6, 2.5, true))

	young := touch(t, d.uploads, "upload-1.jpg", 5, 2*time.Hour+29*time.Minute)
	old := touch(t, d.uploads, "upload-2.jpg", 7, 2*time.Hour+31*time.Minute)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !exists(young) {
		t.Error("2h29m old temp file must survive a 2.5h retention")
	}
	if exists(old) {
		t.Error("2h31m old temp file must be deleted under a 2.5h retention")
	}
}

func TestEmptyDirectories(t *testing.T) {
	e, _ := newEngine(t, retentionSettings(1, 1, 1, true))

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.DeletedCount != 0 || report.TotalSize != 0 {
		t.Errorf("Expected zero result, got %+v", report)
	}
	if len(report.Categories) != 3 {
		t.Errorf("Expected 3 category results, got %d", len(report.Categories))
	}
}

func TestMissingDirectoryIsNotAnError(t *testing.T) {
	src := retentionSettings(1, 1, 1, true)
	missing := filepath.Join(t.TempDir(), "nope")
	e := NewEngine(src, missing, missing, missing).WithClock(func() time.Time { return testNow })

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, c := range report.Categories {
		if c.Errors != 0 || c.DeletedCount != 0 {
			t.Errorf("Expected clean zero result for %s, got %+v", c.Category, c)
		}
	}
}

func TestPermanentAndForeignFilesSurvive(t *testing.T) {
	e, d := newEngine(t, retentionSettings(0, 0, 0, true))

	blog := touch(t, d.processed, "blog-cover.jpg", 10, 1000*time.Hour)
	foreign := touch(t, d.processed, "notes.txt", 10, 1000*time.Hour)
	wrongDir := touch(t, d.archives, "compressed-x.jpg", 10, 1000*time.Hour)
	if err := os.Mkdir(filepath.Join(d.processed, "compressed-dir"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, path := range []string{blog, foreign, wrongDir, filepath.Join(d.processed, "compressed-dir")} {
		if !exists(path) {
			t.Errorf("Expected %s to be kept", filepath.Base(path))
		}
	}
}

func TestZeroRetentionDeletesPastFiles(t *testing.T) {
	e, d := newEngine(t, retentionSettings(0, 0, 0, true))
	archive := touch(t, d.archives, "archive-1.zip", 3, time.Second)
	now := touch(t, d.archives, "archive-2.zip", 3, 0)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if exists(archive) {
		t.Error("Expected archive older than a zero retention to be deleted")
	}
	if !exists(now) {
		t.Error("A file with mtime == now is not older than a zero retention")
	}
}

func TestDisabledCleanupIsNoop(t *testing.T) {
	e, d := newEngine(t, retentionSettings(0, 0, 0, false))
	old := touch(t, d.processed, "cropped-1.png", 10, 100*time.Hour)

	report, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Enabled || report.DeletedCount != 0 {
		t.Errorf("Expected disabled no-op report, got %+v", report)
	}
	if !exists(old) {
		t.Error("Disabled cleanup must not delete anything")
	}

	forced, err := e.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if forced.DeletedCount != 1 || exists(old) {
		t.Error("Sweep must ignore the auto-cleanup flag")
	}
}

func TestSecondRunDeletesNothing(t *testing.T) {
	e, d := newEngine(t, retentionSettings(1, 1, 1, true))
	touch(t, d.processed, "converted-1.webp", 10, 2*time.Hour)
	touch(t, d.processed, "converted-2.webp", 10, 30*time.Minute)

	first, _ := e.Run(context.Background())
	second, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.DeletedCount != 1 || second.DeletedCount != 0 {
		t.Errorf("Expected 1 then 0 deletions, got %d then %d", first.DeletedCount, second.DeletedCount)
	}
}

func TestGraceProtectsYoungFiles(t *testing.T) {
	e, d := newEngine(t, retentionSettings(0, 0, 0, true))
	e.Grace = time.Minute
	young := touch(t, d.uploads, "upload-young.jpg", 1, 30*time.Second)
	old := touch(t, d.uploads, "upload-old.jpg", 1, 2*time.Minute)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !exists(young) || exists(old) {
		t.Errorf("Expected grace to keep only the young file (young=%v old=%v)", exists(young), exists(old))
	}
}

type fakeTrimmer struct {
	calls  int
	maxAge time.Duration
}

func (f *fakeTrimmer) CleanupOldRecords(maxAge time.Duration) (int, error) {
	f.calls++
	f.maxAge = maxAge
	return 0, nil
}

func TestSchedulerRunTrimsHistory(t *testing.T) {
	src := retentionSettings(1, 1, 1, false)
	e, d := newEngine(t, src)
	old := touch(t, d.processed, "compressed-9.jpg", 4, 5*time.Hour)
	trimmer := &fakeTrimmer{}
	s := NewScheduler(e, src, trimmer)

	report, err := s.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.DeletedCount != 1 || exists(old) {
		t.Errorf("Expected forced run to delete the old file, got %+v", report)
	}
	if trimmer.calls != 1 || trimmer.maxAge != HistoryMaxAge {
		t.Errorf("Expected history trimmed once with %v, got %d calls / %v", HistoryMaxAge, trimmer.calls, trimmer.maxAge)
	}
}
