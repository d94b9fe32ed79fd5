package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"

	"imgforge/transform"
)

type fakeInspector struct {
	tasks     map[string]*asynq.TaskInfo
	deleted   []string
	cancelled []string
}

func (f *fakeInspector) TaskInfo(op transform.Operation, id string) (*asynq.TaskInfo, error) {
	info, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("asynq: %w", asynq.ErrTaskNotFound)
	}
	return info, nil
}

func (f *fakeInspector) Delete(op transform.Operation, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.tasks, id)
	return nil
}

func (f *fakeInspector) CancelProcessing(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestStatusRefusesWithoutQueue(t *testing.T) {
	svc := NewStatusService(&fakeAvailability{available: false}, &fakeInspector{}, nil)
	if _, err := svc.Status(context.Background(), "any-id", transform.Compress); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Expected ErrQueueUnavailable, got %v", err)
	}
	if err := svc.Cancel(context.Background(), "any-id", transform.Compress); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Expected ErrQueueUnavailable from cancel, got %v", err)
	}

	noBroker := NewStatusService(&fakeAvailability{available: true}, nil, nil)
	if _, err := noBroker.Status(context.Background(), "any-id", transform.Compress); !errors.Is(err, ErrQueueUnavailable) {
		t.Errorf("Expected ErrQueueUnavailable without inspector, got %v", err)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	svc := NewStatusService(&fakeAvailability{available: true}, &fakeInspector{tasks: map[string]*asynq.TaskInfo{}}, nil)
	if _, err := svc.Status(context.Background(), "does-not-exist", transform.Resize); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestStatusStateMapping(t *testing.T) {
	result, _ := json.Marshal(Result{JobID: "done", OutputFile: "compressed-done.jpg", OutputSize: 10})
	inspector := &fakeInspector{tasks: map[string]*asynq.TaskInfo{
		"pending":   {ID: "pending", State: asynq.TaskStatePending},
		"scheduled": {ID: "scheduled", State: asynq.TaskStateScheduled},
		"retry":     {ID: "retry", State: asynq.TaskStateRetry, LastErr: "compress failed: decode"},
		"active":    {ID: "active", State: asynq.TaskStateActive},
		"done":      {ID: "done", State: asynq.TaskStateCompleted, Result: result},
		"failed":    {ID: "failed", State: asynq.TaskStateArchived, LastErr: "compress failed: decode: skip retry for the task"},
		"cancelled": {ID: "cancelled", State: asynq.TaskStateArchived, LastErr: "cancelled: skip retry for the task"},
	}}
	svc := NewStatusService(&fakeAvailability{available: true}, inspector, nil)

	cases := []struct {
		id       string
		state    string
		progress int
		reason   string
	}{
		{"pending", StateQueued, 0, ""},
		{"scheduled", StateQueued, 0, ""},
		{"retry", StateQueued, 0, ""},
		{"active", StateActive, 50, ""},
		{"done", StateCompleted, 100, ""},
		{"failed", StateFailed, 100, "compress failed: decode"},
		{"cancelled", StateFailed, 100, CancelledReason},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			st, err := svc.Status(context.Background(), tc.id, transform.Compress)
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if st.State != tc.state || st.Progress != tc.progress {
				t.Errorf("Expected %s/%d, got %s/%d", tc.state, tc.progress, st.State, st.Progress)
			}
			if st.Result != nil && st.Error != nil {
				t.Fatal("Result and error must never both be set")
			}
			switch tc.state {
			case StateCompleted:
				if st.Result == nil || st.Result.OutputFile != "compressed-done.jpg" {
					t.Errorf("Expected result, got %+v", st.Result)
				}
			case StateFailed:
				if st.Error == nil || *st.Error != tc.reason {
					t.Errorf("Expected error %q, got %v", tc.reason, st.Error)
				}
			default:
				if st.Result != nil || st.Error != nil {
					t.Errorf("Non-terminal state must carry neither result nor error: %+v", st)
				}
			}
		})
	}
}

func TestCancelPendingDeletesJob(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "upload-x.jpg")
	os.WriteFile(input, []byte("x"), 0644)
	payload, _ := json.Marshal(Request{ID: "p1", Operation: transform.Compress, InputPath: input})

	inspector := &fakeInspector{tasks: map[string]*asynq.TaskInfo{
		"p1": {ID: "p1", State: asynq.TaskStatePending, Payload: payload},
	}}
	history := &fakeRecorder{}
	svc := NewStatusService(&fakeAvailability{available: true}, inspector, history)

	if err := svc.Cancel(context.Background(), "p1", transform.Compress); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(inspector.deleted) != 1 || inspector.deleted[0] != "p1" {
		t.Errorf("Expected p1 deleted, got %v", inspector.deleted)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Error("Expected the cancelled job's upload to be removed")
	}
	if len(history.records) != 1 || history.records[0].state != "failed" {
		t.Errorf("Expected a failure record, got %+v", history.records)
	}
	if _, err := svc.Status(context.Background(), "p1", transform.Compress); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected deleted job to be gone, got %v", err)
	}
}

func TestCancelActiveSignalsWorker(t *testing.T) {
	inspector := &fakeInspector{tasks: map[string]*asynq.TaskInfo{
		"a1": {ID: "a1", State: asynq.TaskStateActive},
	}}
	svc := NewStatusService(&fakeAvailability{available: true}, inspector, nil)

	if err := svc.Cancel(context.Background(), "a1", transform.Resize); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if len(inspector.cancelled) != 1 || len(inspector.deleted) != 0 {
		t.Errorf("Expected CancelProcessing only, got cancelled=%v deleted=%v", inspector.cancelled, inspector.deleted)
	}
}

func TestCancelFinishedJob(t *testing.T) {
	inspector := &fakeInspector{tasks: map[string]*asynq.TaskInfo{
		"c1": {ID: "c1", State: asynq.TaskStateCompleted},
		"f1": {ID: "f1", State: asynq.TaskStateArchived},
	}}
	svc := NewStatusService(&fakeAvailability{available: true}, inspector, nil)

	for _, id := range []string{"c1", "f1"} {
		if err := svc.Cancel(context.Background(), id, transform.Crop); !errors.Is(err, ErrNotCancellable) {
			t.Errorf("%s: expected ErrNotCancellable, got %v", id, err)
		}
	}
	if err := svc.Cancel(context.Background(), "missing", transform.Crop); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}
