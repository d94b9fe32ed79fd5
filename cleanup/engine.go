package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imgforge/logger"
	"imgforge/settings"
	"imgforge/transform"
)

// PermanentPrefix marks files that are never cleaned up.
const PermanentPrefix = "blog-"

// File naming conventions for the managed directories.
const (
	ArchivePrefix = "archive-"
	UploadPrefix  = "upload-"
)

var log = logger.With("cleanup")

// SettingsSource supplies the current retention policy.
type SettingsSource interface {
	Get(ctx context.Context) *settings.Snapshot
}

// Category is one managed directory and the files in it that expire.
type Category struct {
	Name      string
	Dir       string
	Prefixes  []string
	Retention func(settings.Retention) float64
}

// CategoryResult reports one category's scan.
type CategoryResult struct {
	Category       string  `json:"category"`
	Directory      string  `json:"directory"`
	RetentionHours float64 `json:"retentionHours"`
	Scanned        int     `json:"scanned"`
	DeletedCount   int     `json:"deletedCount"`
	TotalSize      int64   `json:"totalSize"`
	Errors         int     `json:"errors"`
}

// Report summarises a cleanup run.
type Report struct {
	Enabled      bool             `json:"enabled"`
	Categories   []CategoryResult `json:"categories"`
	DeletedCount int              `json:"deletedCount"`
	TotalSize    int64            `json:"totalSize"`
	StartedAt    time.Time        `json:"startedAt"`
	Duration     string           `json:"duration"`
}

// Engine deletes expired files from the processed, archive and upload
// directories.
type Engine struct {
	settings   SettingsSource
	categories []Category

	// Grace protects files younger than this regardless of retention.
	Grace time.Duration

	now func() time.Time
}

// NewEngine manages the three standard directories.
func NewEngine(src SettingsSource, processedDir, archiveDir, uploadDir string) *Engine {
	processed := make([]string, 0, len(transform.Operations))
	for _, op := range transform.Operations {
		processed = append(processed, transform.OutputPrefix(op))
	}
	return NewEngineWithCategories(src, []Category{
		{
			Name:      "processed",
			Dir:       processedDir,
			Prefixes:  processed,
			Retention: func(r settings.Retention) float64 { return r.ProcessedHours },
		},
		{
			Name:      "archives",
			Dir:       archiveDir,
			Prefixes:  []string{ArchivePrefix},
			Retention: func(r settings.Retention) float64 { return r.ArchiveHours },
		},
		{
			Name:      "temp",
			Dir:       uploadDir,
			Prefixes:  []string{UploadPrefix},
			Retention: func(r settings.Retention) float64 { return r.TempHours },
		},
	})
}

func NewEngineWithCategories(src SettingsSource, categories []Category) *Engine {
	return &Engine{settings: src, categories: categories, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run cleans every category unless automatic cleanup is disabled, in which
// case it returns a report with Enabled false and touches nothing.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	retention := e.settings.Get(ctx).Retention
	if !retention.AutoCleanup {
		log.Info("Cleanup disabled by settings, skipping")
		return &Report{Enabled: false, Categories: []CategoryResult{}, StartedAt: e.now()}, nil
	}
	return e.sweep(ctx, retention)
}

// Sweep cleans every category regardless of the auto-cleanup flag.
func (e *Engine) Sweep(ctx context.Context) (*Report, error) {
	return e.sweep(ctx, e.settings.Get(ctx).Retention)
}

func (e *Engine) sweep(ctx context.Context, retention settings.Retention) (*Report, error) {
	start := e.now()
	report := &Report{Enabled: true, Categories: make([]CategoryResult, 0, len(e.categories)), StartedAt: start}

	for _, c := range e.categories {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := e.cleanCategory(ctx, c, c.Retention(retention), start)
		report.Categories = append(report.Categories, res)
		report.DeletedCount += res.DeletedCount
		report.TotalSize += res.TotalSize
	}

	report.Duration = time.Since(start).String()
	log.Infof("Cleanup finished: %d files, %d bytes recovered", report.DeletedCount, report.TotalSize)
	return report, nil
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

func (e *Engine) cleanCategory(ctx context.Context, c Category, hours float64, now time.Time) CategoryResult {
	res := CategoryResult{Category: c.Name, Directory: c.Dir, RetentionHours: hours}
	retention := hoursToDuration(hours)

	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("Failed to read %s: %v", c.Dir, err)
			res.Errors++
		}
		return res
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, PermanentPrefix) || !hasAnyPrefix(name, c.Prefixes) {
			continue
		}
		res.Scanned++

		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("Failed to stat %s: %v", name, err)
				res.Errors++
			}
			continue
		}

		age := now.Sub(info.ModTime())
		if age <= retention || age < e.Grace {
			continue
		}

		path := filepath.Join(c.Dir, name)
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("Failed to delete %s: %v", path, err)
				res.Errors++
			}
			continue
		}
		res.DeletedCount++
		res.TotalSize += info.Size()
		log.Debugf("Deleted %s (age %s, size %d)", path, age.Truncate(time.Second), info.Size())
	}
	return res
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
