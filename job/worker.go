package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"imgforge/queue"
	"imgforge/transform"
)

// WebhookTimeout bounds a completion callback.
const WebhookTimeout = 30 * time.Second

// Worker executes queued jobs inside the asynq server.
type Worker struct {
	processor   *Processor
	client      *http.Client
	lastAttempt func(ctx context.Context) bool
}

func NewWorker(processor *Processor) *Worker {
	return &Worker{
		processor:   processor,
		client:      &http.Client{Timeout: WebhookTimeout},
		lastAttempt: lastAttempt,
	}
}

// Register routes every operation's task type to the worker.
func (w *Worker) Register(mux *asynq.ServeMux) {
	for _, op := range transform.Operations {
		mux.HandleFunc(queue.TaskType(op), w.HandleTask)
	}
}

// HandleTask runs one queued job. Invalid payloads, invalid parameters and
// cancellations are not retried; any other failure gets the task's retry.
// A failure reaches the history only once no retry follows.
func (w *Worker) HandleTask(ctx context.Context, t *asynq.Task) error {
	var req Request
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := w.processor.Run(ctx, req, ModeQueued)
	if err != nil {
		final := errors.Is(err, ErrCancelled) || errors.Is(err, transform.ErrInvalidParams) || w.lastAttempt(ctx)
		if !final {
			return err
		}
		w.processor.recordFailure(req, ModeQueued, err)
		if rmErr := os.Remove(req.InputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("Failed to remove input %s: %v", req.InputPath, rmErr)
		}
		w.notify(req, nil, err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %v: %w", err, asynq.SkipRetry)
	}
	if rw := t.ResultWriter(); rw != nil {
		if _, err := rw.Write(data); err != nil {
			log.Errorf("Failed to write result for %s: %v", req.ID, err)
		}
	}
	w.notify(req, res, nil)
	return nil
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}

// notify delivers the webhook for req if one was attached. Failures are
// logged only.
func (w *Worker) notify(req Request, res *Result, jobErr error) {
	if req.WebhookURL == "" {
		return
	}
	if err := w.sendCallback(req, res, jobErr); err != nil {
		log.Errorf("Failed to send callback for %s: %v", req.ID, err)
	}
}

func (w *Worker) sendCallback(req Request, res *Result, jobErr error) error {
	payload := map[string]interface{}{
		"jobId":     req.ID,
		"operation": req.Operation,
		"timestamp": time.Now().Unix(),
	}
	if jobErr != nil {
		payload["status"] = "failed"
		payload["error"] = jobErr.Error()
	} else {
		payload["status"] = "completed"
		payload["result"] = res
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), WebhookTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.WebhookURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "imgforge/1.0")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned non-2xx status: %d", resp.StatusCode)
	}

	log.Infof("Successfully sent callback to %s", req.WebhookURL)
	return nil
}
