package settings

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"imgforge/logger"
)

// CacheDuration is how long a loaded snapshot is served before a reload.
const CacheDuration = 60 * time.Second

var log = logger.With("settings")

type cached struct {
	snap     *Snapshot
	loadedAt time.Time
}

// Cache serves the current snapshot with a bounded staleness window.
// Readers always see a whole snapshot; reloads replace the pointer.
type Cache struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time

	current     atomic.Pointer[cached]
	lastKnown   atomic.Pointer[Snapshot]
	group       singleflight.Group
	generation  atomic.Uint64
	hooksMu     sync.Mutex
	invalidated []func()
}

func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider, ttl: CacheDuration, now: time.Now}
}

// WithClock replaces the time source. Tests use it to step past the TTL.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the current snapshot, reloading from the provider when the
// cached copy is missing or older than the cache duration. It never fails:
// on a provider error the last successfully loaded snapshot is served, and
// without one the hardcoded defaults are.
func (c *Cache) Get(ctx context.Context) *Snapshot {
	if e := c.current.Load(); e != nil && c.now().Sub(e.loadedAt) < c.ttl {
		return e.snap
	}

	// Keyed by generation so a Get after Invalidate never joins a load that
	// started before it.
	gen := c.generation.Load()
	v, _, _ := c.group.Do("reload-"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		return c.reload(ctx, gen), nil
	})
	return v.(*Snapshot)
}

func (c *Cache) reload(ctx context.Context, gen uint64) *Snapshot {
	snap, err := c.provider.Load(ctx)
	if err == nil {
		err = snap.Validate()
	}
	if err != nil {
		if last := c.lastKnown.Load(); last != nil {
			log.Warnf("reload failed, keeping last known settings: %v", err)
			return last
		}
		log.Errorf("reload failed, using default settings: %v", err)
		return Defaults()
	}

	// An Invalidate that raced with this load must win; a snapshot read
	// before the invalidation is returned to its callers but never kept.
	if c.generation.Load() == gen {
		c.lastKnown.Store(snap)
		c.current.Store(&cached{snap: snap, loadedAt: c.now()})
	}
	log.Debugf("settings reloaded (updated %s)", snap.UpdatedAt.Format(time.RFC3339))
	return snap
}

// Invalidate drops the cached snapshot so the next Get reloads, then runs
// the registered hooks.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.current.Store(nil)

	c.hooksMu.Lock()
	hooks := append([]func(){}, c.invalidated...)
	c.hooksMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	log.Info("settings cache invalidated")
}

// OnInvalidate registers fn to run after every Invalidate.
func (c *Cache) OnInvalidate(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.invalidated = append(c.invalidated, fn)
}

// Saver persists a snapshot. *Store implements it.
type Saver interface {
	Save(ctx context.Context, snap *Snapshot) error
}

// Update persists snap through saver and invalidates the cache.
func (c *Cache) Update(ctx context.Context, saver Saver, snap *Snapshot) error {
	if err := saver.Save(ctx, snap); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}
