package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"imgforge/logger"
	"imgforge/settings"
)

// MaxInstances bounds how many distinct limiters are kept. Frequent settings
// changes would otherwise accumulate one limiter per (category, window, max).
const MaxInstances = 10

var log = logger.With("ratelimit")

type key struct {
	category string
	window   int
	max      int
}

// Factory hands out limiters built from the current settings snapshot.
type Factory struct {
	settings *settings.Cache

	mu       sync.Mutex
	limiters map[key]*Limiter
	order    []key

	// hits throttles the rejection warning to one per second.
	hits rate.Sometimes
}

// NewFactory creates a factory and hooks its Reset to settings invalidation.
func NewFactory(cache *settings.Cache) *Factory {
	f := &Factory{
		settings: cache,
		limiters: make(map[key]*Limiter),
		hits:     rate.Sometimes{Interval: time.Second},
	}
	cache.OnInvalidate(f.Reset)
	return f
}

// Get returns the limiter for category under the current settings. The same
// instance is returned for as long as the category's window and max are unchanged.
func (f *Factory) Get(ctx context.Context, category string) *Limiter {
	rl := f.settings.Get(ctx).RateLimit(category)
	k := key{category: category, window: rl.WindowSeconds, max: rl.Max}

	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[k]; ok {
		return l
	}

	l := NewLimiter(category, rl)
	f.limiters[k] = l
	f.order = append(f.order, k)
	for len(f.order) > MaxInstances {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.limiters, oldest)
		log.Debugf("evicted limiter %s (%ds/%d)", oldest.category, oldest.window, oldest.max)
	}
	log.Debugf("created limiter %s: %d requests per %ds", category, rl.Max, rl.WindowSeconds)
	return l
}

// Len reports the number of cached limiters.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.limiters)
}

// Reset drops every cached limiter.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiters = make(map[key]*Limiter)
	f.order = nil
}

// Middleware throttles with the category's limiter, resolved per request so
// admin changes apply without a restart.
func (f *Factory) Middleware(category string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientIP(r)
			ok, wait := f.Get(r.Context(), category).take(client)
			if !ok {
				f.hits.Do(func() {
					log.Warnf("rate limit hit: category=%s client=%s", category, client)
				})
				reject(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
