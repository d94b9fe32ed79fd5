package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"imgforge/logger"
)

// CheckInterval is how long a probe result is trusted before the broker is
// probed again.
const CheckInterval = 10 * time.Second

const probeTimeout = 2 * time.Second

var log = logger.With("queue")

// Prober checks whether the job broker can be reached.
type Prober interface {
	Probe(ctx context.Context) error
}

// RedisProber pings the Redis instance backing the queue.
type RedisProber struct {
	client *redis.Client
}

func NewRedisProber(addr, password string, db int) *RedisProber {
	return &RedisProber{client: redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  probeTimeout,
		ReadTimeout:  probeTimeout,
		WriteTimeout: probeTimeout,
		MaxRetries:   -1,
	})}
}

// Probe sends a PING bounded by a short timeout.
func (p *RedisProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return p.client.Ping(ctx).Err()
}

func (p *RedisProber) Close() error {
	return p.client.Close()
}

// Detector answers "is the queue usable right now", caching the answer for
// CheckInterval. Probe failures of any kind mean unavailable.
type Detector struct {
	prober   Prober
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	checked   bool
	checkedAt time.Time
	available bool
}

// NewDetector builds a detector around prober. A nil prober means no broker
// is configured and the queue is never available.
func NewDetector(prober Prober) *Detector {
	return &Detector{prober: prober, interval: CheckInterval, now: time.Now}
}

// WithClock replaces the time source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Available reports whether jobs can be enqueued.
func (d *Detector) Available(ctx context.Context) bool {
	if d == nil || d.prober == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.checked && now.Sub(d.checkedAt) < d.interval {
		return d.available
	}

	err := d.prober.Probe(ctx)
	available := err == nil
	if err != nil {
		log.Warnf("Queue broker unavailable, falling back to direct processing: %v", err)
	} else if !d.available || !d.checked {
		log.Info("Queue broker reachable")
	}
	d.available = available
	d.checked = true
	d.checkedAt = now
	return available
}

// Reset discards the cached answer so the next call probes again.
func (d *Detector) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.checked = false
	d.mu.Unlock()
}
