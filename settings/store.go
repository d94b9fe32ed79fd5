package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imgforge/kv"
)

// Provider is the source of truth for the settings snapshot.
type Provider interface {
	Load(ctx context.Context) (*Snapshot, error)
}

const snapshotKey = "settings:current"

// Store persists the snapshot in pebble.
type Store struct {
	db *kv.Store
}

func NewStore(db *kv.Store) *Store {
	return &Store{db: db}
}

// Load returns the persisted snapshot, or Defaults when nothing was saved yet.
// Sections missing from an older record are filled from Defaults.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap Snapshot
	err := s.db.GetJSON(snapshotKey, &snap)
	if errors.Is(err, kv.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	def := Defaults()
	if snap.RateLimits == nil {
		snap.RateLimits = def.RateLimits
	}
	for name, rl := range def.RateLimits {
		if _, ok := snap.RateLimits[name]; !ok {
			snap.RateLimits[name] = rl
		}
	}
	if snap.Retention.CleanupIntervalHours <= 0 {
		snap.Retention.CleanupIntervalHours = def.Retention.CleanupIntervalHours
	}
	if snap.Upload.MaxFileSizeMB <= 0 {
		snap.Upload = def.Upload
	}
	return &snap, nil
}

// Save validates and persists snap, stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.UpdatedAt = time.Now().UTC()
	if err := s.db.SetJSON(snapshotKey, snap); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
