package cleanup

import (
	"context"
	"sync"
	"time"
)

// HistoryMaxAge is how long job history records are kept.
const HistoryMaxAge = 30 * 24 * time.Hour

// HistoryTrimmer drops job records older than a given age.
type HistoryTrimmer interface {
	CleanupOldRecords(maxAge time.Duration) (int, error)
}

// Scheduler runs the engine periodically and on demand. Runs never overlap.
type Scheduler struct {
	engine   *Engine
	settings SettingsSource
	history  HistoryTrimmer

	mu sync.Mutex
}

// NewScheduler builds a scheduler. history may be nil.
func NewScheduler(engine *Engine, src SettingsSource, history HistoryTrimmer) *Scheduler {
	return &Scheduler{engine: engine, settings: src, history: history}
}

// Run performs one cleanup. With force the auto-cleanup flag is ignored.
func (s *Scheduler) Run(ctx context.Context, force bool) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		report *Report
		err    error
	)
	if force {
		report, err = s.engine.Sweep(ctx)
	} else {
		report, err = s.engine.Run(ctx)
	}

	if s.history != nil {
		if removed, herr := s.history.CleanupOldRecords(HistoryMaxAge); herr != nil {
			log.Errorf("Failed to cleanup old history records: %v", herr)
		} else if removed > 0 {
			log.Infof("Removed %d history records older than %v", removed, HistoryMaxAge)
		}
	}
	return report, err
}

func (s *Scheduler) interval(ctx context.Context) time.Duration {
	d := hoursToDuration(s.settings.Get(ctx).Retention.CleanupIntervalHours)
	if d < time.Minute {
		d = time.Hour
	}
	return d
}

// Start runs cleanup every CleanupIntervalHours until ctx is cancelled. The
// interval is re-read from settings after each run.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		wait := s.interval(ctx)
		log.Infof("Cleanup routine started - will run every %v", wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Cleanup routine stopped due to context cancellation")
				return
			case <-timer.C:
				log.Info("Running scheduled cleanup")
				if _, err := s.Run(ctx, false); err != nil {
					log.Errorf("Scheduled cleanup failed: %v", err)
				}
				timer.Reset(s.interval(ctx))
			}
		}
	}()
}
