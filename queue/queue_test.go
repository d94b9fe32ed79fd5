package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"imgforge/transform"
)

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProber) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func TestDetectorCachesResult(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	prober := &fakeProber{}
	d := NewDetector(prober).WithClock(func() time.Time { return now })

	if !d.Available(context.Background()) {
		t.Fatal("Expected queue to be available")
	}
	prober.setErr(errors.New("connection refused"))
	now = now.Add(CheckInterval - time.Second)
	if !d.Available(context.Background()) {
		t.Error("Expected cached availability inside the interval")
	}
	if prober.calls != 1 {
		t.Errorf("Expected 1 probe, got %d", prober.calls)
	}

	now = now.Add(2 * time.Second)
	if d.Available(context.Background()) {
		t.Error("Expected queue to be unavailable after re-probe")
	}
	if prober.calls != 2 {
		t.Errorf("Expected 2 probes, got %d", prober.calls)
	}
}

func TestDetectorResetForcesProbe(t *testing.T) {
	prober := &fakeProber{}
	d := NewDetector(prober)

	d.Available(context.Background())
	d.Reset()
	d.Available(context.Background())
	if prober.calls != 2 {
		t.Errorf("Expected reset to force a probe, got %d calls", prober.calls)
	}
}

func TestDetectorProbeErrorMeansUnavailable(t *testing.T) {
	d := NewDetector(&fakeProber{err: context.DeadlineExceeded})
	if d.Available(context.Background()) {
		t.Error("Expected probe timeout to mean unavailable")
	}
}

func TestDetectorWithoutBroker(t *testing.T) {
	if NewDetector(nil).Available(context.Background()) {
		t.Error("Expected no broker to mean unavailable")
	}
	var d *Detector
	if d.Available(context.Background()) {
		t.Error("Expected nil detector to be unavailable")
	}
}

func TestQueueNaming(t *testing.T) {
	seen := make(map[string]bool)
	for _, op := range transform.Operations {
		name := Name(op)
		if seen[name] {
			t.Errorf("Duplicate queue name %s", name)
		}
		seen[name] = true
	}
	if got := Name(transform.Compress); got != "image-compress" {
		t.Errorf("Expected image-compress, got %s", got)
	}
	if got := TaskType(transform.Crop); got != "image:crop" {
		t.Errorf("Expected image:crop, got %s", got)
	}
}
