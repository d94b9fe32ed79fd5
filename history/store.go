package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"imgforge/kv"
)

// Record states.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

const keyPrefix = "job:"

var ErrNotFound = errors.New("history record not found")

// Record is the stored outcome of one job, whichever path executed it.
type Record struct {
	JobID     string          `json:"jobId"`
	Operation string          `json:"operation"`
	State     string          `json:"state"`
	Mode      string          `json:"mode"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store keeps job outcomes in a pebble-backed kv store.
type Store struct {
	db  *kv.Store
	now func() time.Time
}

func NewStore(db *kv.Store) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordSuccess stores a completed job and its result payload.
func (s *Store) RecordSuccess(id, operation, mode string, result interface{}) error {
	return s.put(Record{
		JobID:     id,
		Operation: operation,
		State:     StateCompleted,
		Mode:      mode,
		Data:      marshalData(result),
		Timestamp: s.now(),
	})
}

// RecordFailure stores a failed job along with the request that produced it.
func (s *Store) RecordFailure(id, operation, mode string, jobErr error, request interface{}) error {
	reason := "unknown error"
	if jobErr != nil {
		reason = jobErr.Error()
	}
	return s.put(Record{
		JobID:     id,
		Operation: operation,
		State:     StateFailed,
		Mode:      mode,
		Error:     reason,
		Data:      marshalData(request),
		Timestamp: s.now(),
	})
}

func marshalData(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("failed to marshal job data: %v", err))
	}
	return data
}

func (s *Store) put(rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("history store not initialized")
	}
	if rec.JobID == "" {
		return errors.New("history record needs a job id")
	}
	return s.db.SetJSON(keyPrefix+rec.JobID, rec)
}

// Get returns the record for id or ErrNotFound.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	if err := s.db.GetJSON(keyPrefix+id, &rec); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List returns records newest first. An empty state returns every record.
func (s *Store) List(state string) ([]Record, error) {
	records := []Record{}
	err := s.db.Scan(keyPrefix, func(key string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil // skip invalid records
		}
		if state == "" || rec.State == state {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// CleanupOldRecords removes records older than maxAge and reports how many went.
func (s *Store) CleanupOldRecords(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)

	var keysToDelete []string
	err := s.db.Scan(keyPrefix, func(key string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		if rec.Timestamp.Before(cutoff) {
			keysToDelete = append(keysToDelete, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, key := range keysToDelete {
		if err := s.db.Delete(key); err != nil {
			return i, fmt.Errorf("failed to delete old history record: %w", err)
		}
	}
	return len(keysToDelete), nil
}

func (s *Store) Health() error {
	if s == nil {
		return errors.New("history store not initialized")
	}
	return s.db.Health()
}
