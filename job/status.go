package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hibiken/asynq"

	"imgforge/transform"
)

// Lifecycle states reported to clients.
const (
	StateQueued    = "queued"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Inspector reads and manipulates queued tasks.
type Inspector interface {
	TaskInfo(op transform.Operation, id string) (*asynq.TaskInfo, error)
	Delete(op transform.Operation, id string) error
	CancelProcessing(id string) error
}

// Status is the polled view of a queued job. Result is set only when
// completed and Error only when failed.
type Status struct {
	JobID     string  `json:"jobId"`
	Operation string  `json:"operation"`
	State     string  `json:"state"`
	Progress  int     `json:"progress"`
	Result    *Result `json:"result"`
	Error     *string `json:"error"`
}

// StatusService answers status and cancel requests for queued jobs.
type StatusService struct {
	detector  Availability
	inspector Inspector
	history   Recorder
}

// NewStatusService builds the service. inspector is nil when no broker is
// configured; history may be nil.
func NewStatusService(detector Availability, inspector Inspector, history Recorder) *StatusService {
	return &StatusService{detector: detector, inspector: inspector, history: history}
}

func (s *StatusService) lookup(ctx context.Context, id string, op transform.Operation) (*asynq.TaskInfo, error) {
	if s.inspector == nil || s.detector == nil || !s.detector.Available(ctx) {
		return nil, ErrQueueUnavailable
	}
	if _, ok := transform.ParseOperation(string(op)); !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", transform.ErrInvalidParams, op)
	}
	info, err := s.inspector.TaskInfo(op, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return info, nil
}

// Status reports the state of the job id on op's queue.
func (s *StatusService) Status(ctx context.Context, id string, op transform.Operation) (*Status, error) {
	info, err := s.lookup(ctx, id, op)
	if err != nil {
		return nil, err
	}

	st := &Status{JobID: id, Operation: string(op), State: mapState(info.State)}
	switch st.State {
	case StateQueued:
		st.Progress = 0
	case StateActive:
		st.Progress = 50
	case StateCompleted:
		st.Progress = 100
		res := Result{JobID: id, Operation: string(op)}
		if len(info.Result) > 0 {
			if err := json.Unmarshal(info.Result, &res); err != nil {
				return nil, fmt.Errorf("decode result of %s: %w", id, err)
			}
		}
		st.Result = &res
	case StateFailed:
		st.Progress = 100
		reason := failureReason(info.LastErr)
		st.Error = &reason
	}
	return st, nil
}

// Cancel stops the job id. A job still waiting is deleted from its queue;
// a running job has its worker context cancelled and ends as failed with
// reason "cancelled". Finished jobs return ErrNotCancellable.
func (s *StatusService) Cancel(ctx context.Context, id string, op transform.Operation) error {
	info, err := s.lookup(ctx, id, op)
	if err != nil {
		return err
	}

	switch mapState(info.State) {
	case StateQueued:
		if err := s.inspector.Delete(op, id); err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) {
				return ErrJobNotFound
			}
			return fmt.Errorf("delete task %s: %w", id, err)
		}
		s.discardInput(info)
		log.Infof("Job %s (%s) cancelled before start", id, op)
		return nil
	case StateActive:
		if err := s.inspector.CancelProcessing(id); err != nil {
			return fmt.Errorf("cancel task %s: %w", id, err)
		}
		log.Infof("Job %s (%s) cancellation requested", id, op)
		return nil
	default:
		return ErrNotCancellable
	}
}

// discardInput removes the upload of a job deleted before it ran.
func (s *StatusService) discardInput(info *asynq.TaskInfo) {
	var req Request
	if err := json.Unmarshal(info.Payload, &req); err != nil {
		return
	}
	if req.InputPath != "" {
		os.Remove(req.InputPath)
	}
	if s.history != nil {
		if err := s.history.RecordFailure(req.ID, string(req.Operation), ModeQueued, ErrCancelled, req); err != nil {
			log.Errorf("Failed to store failure for %s: %v", req.ID, err)
		}
	}
}

func mapState(state asynq.TaskState) string {
	switch state {
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateCompleted:
		return StateCompleted
	case asynq.TaskStateArchived:
		return StateFailed
	default:
		// pending, scheduled, retry, aggregating
		return StateQueued
	}
}

// failureReason strips the retry marker the worker appends to final errors.
func failureReason(lastErr string) string {
	reason := strings.TrimSuffix(lastErr, ": "+asynq.SkipRetry.Error())
	if reason == "" {
		return "job failed"
	}
	return reason
}
