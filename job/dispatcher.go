package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"imgforge/transform"
)

// Availability reports whether the queue can take jobs. Reset drops any
// cached answer.
type Availability interface {
	Available(ctx context.Context) bool
	Reset()
}

// Enqueuer submits a payload to the queue for op.
type Enqueuer interface {
	Enqueue(ctx context.Context, op transform.Operation, id string, payload []byte) error
}

// Executor runs or schedules a validated request.
type Executor interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// DirectExecutor transforms synchronously in the calling goroutine. At most
// limit transforms run at once; further callers wait for a slot.
type DirectExecutor struct {
	processor *Processor
	slots     *semaphore.Weighted
}

func NewDirectExecutor(processor *Processor, limit int) *DirectExecutor {
	if limit < 1 {
		limit = 1
	}
	return &DirectExecutor{processor: processor, slots: semaphore.NewWeighted(int64(limit))}
}

func (e *DirectExecutor) Execute(ctx context.Context, req Request) (Outcome, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		os.Remove(req.InputPath)
		return Outcome{}, err
	}
	defer e.slots.Release(1)

	res, err := e.processor.Run(ctx, req, ModeDirect)
	if err != nil {
		// No retry follows a direct failure, so the upload is done with.
		os.Remove(req.InputPath)
		return Outcome{}, err
	}
	return Outcome{Result: res}, nil
}

// QueuedExecutor hands the request to the broker and returns a poll handle.
type QueuedExecutor struct {
	queue Enqueuer
}

func NewQueuedExecutor(queue Enqueuer) *QueuedExecutor {
	return &QueuedExecutor{queue: queue}
}

func (e *QueuedExecutor) Execute(ctx context.Context, req Request) (Outcome, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal job payload: %w", err)
	}
	if err := e.queue.Enqueue(ctx, req.Operation, req.ID, payload); err != nil {
		return Outcome{}, err
	}
	return Outcome{Handle: &Handle{JobID: req.ID, StatusURL: StatusPath(req.ID, req.Operation)}}, nil
}

// Dispatcher picks the queued or direct path once per submission.
type Dispatcher struct {
	detector Availability
	direct   Executor
	queued   Executor
}

// NewDispatcher wires the two paths. queued may be nil when no broker is
// configured.
func NewDispatcher(detector Availability, direct, queued Executor) *Dispatcher {
	return &Dispatcher{detector: detector, direct: direct, queued: queued}
}

// Submit validates req and either enqueues it or runs it directly. The
// returned outcome always carries a handle or a result. Submit owns the
// input file: it is removed when the request is rejected.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Outcome, error) {
	if err := transform.Validate(req.Operation, req.Params, req.InputPath); err != nil {
		os.Remove(req.InputPath)
		return Outcome{}, err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if d.queued != nil && d.detector != nil && d.detector.Available(ctx) {
		out, err := d.queued.Execute(ctx, req)
		if err == nil {
			log.Infof("Job %s (%s) queued", req.ID, req.Operation)
			return out, nil
		}
		log.Warnf("Enqueue of job %s failed, processing directly: %v", req.ID, err)
		d.detector.Reset()
	}

	return d.direct.Execute(ctx, req)
}
