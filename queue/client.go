package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"imgforge/logger"
	"imgforge/transform"
)

// Bounds applied to every queued job.
const (
	Timeout   = 3 * time.Minute
	MaxRetry  = 1
	Retention = 24 * time.Hour
)

// Name returns the queue that holds jobs for op.
func Name(op transform.Operation) string {
	return "image-" + string(op)
}

// TaskType returns the asynq task type for op.
func TaskType(op transform.Operation) string {
	return "image:" + string(op)
}

// RedisOpt builds the asynq connection options.
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

// Client enqueues and inspects image jobs.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Enqueue submits payload under the caller-chosen id to op's queue.
func (c *Client) Enqueue(ctx context.Context, op transform.Operation, id string, payload []byte) error {
	task := asynq.NewTask(TaskType(op), payload)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.Queue(Name(op)),
		asynq.MaxRetry(MaxRetry),
		asynq.Timeout(Timeout),
		asynq.Retention(Retention),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s job %s: %w", op, id, err)
	}
	log.Debugf("Enqueued task id=%s queue=%s", info.ID, info.Queue)
	return nil
}

// TaskInfo fetches the job's current state.
func (c *Client) TaskInfo(op transform.Operation, id string) (*asynq.TaskInfo, error) {
	return c.inspector.GetTaskInfo(Name(op), id)
}

// Delete removes a job that has not started yet.
func (c *Client) Delete(op transform.Operation, id string) error {
	return c.inspector.DeleteTask(Name(op), id)
}

// CancelProcessing signals the worker running id to cancel its context.
func (c *Client) CancelProcessing(id string) error {
	return c.inspector.CancelProcessing(id)
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return err
	}
	return c.inspector.Close()
}

// NewServer builds the worker server consuming every operation queue with
// equal weight.
func NewServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	queues := make(map[string]int, len(transform.Operations))
	for _, op := range transform.Operations {
		queues[Name(op)] = 1
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		Logger:      logger.With("asynq"),
		LogLevel:    asynq.InfoLevel,
	})
}
