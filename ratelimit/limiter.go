package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"imgforge/settings"
)

// Limiter enforces one (window, max) policy per client IP with a fixed window:
// a client's count resets once its window has fully elapsed.
type Limiter struct {
	Category string
	Window   time.Duration
	Max      int

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	count int
	start time.Time
}

// NewLimiter builds a limiter for category from rl.
func NewLimiter(category string, rl settings.RateLimit) *Limiter {
	return &Limiter{
		Category:  category,
		Window:    rl.Window(),
		Max:       rl.Max,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow consumes one request for client and reports whether it may proceed.
func (l *Limiter) Allow(client string) bool {
	ok, _ := l.take(client)
	return ok
}

// take counts one request for client. When the client is over its budget it
// returns the time left until its window resets.
func (l *Limiter) take(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	v, ok := l.visitors[client]
	if !ok || now.Sub(v.start) >= l.Window {
		v = &visitor{start: now}
		l.visitors[client] = v
	}
	if v.count >= l.Max {
		return false, l.Window - now.Sub(v.start)
	}
	v.count++
	return true, 0
}

// sweep drops clients whose window has expired.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.Window {
		return
	}
	for ip, v := range l.visitors {
		if now.Sub(v.start) >= l.Window {
			delete(l.visitors, ip)
		}
	}
	l.lastSweep = now
}

// retryAfterSeconds rounds wait up to whole seconds, never below one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func reject(w http.ResponseWriter, wait time.Duration) {
	retryAfter := retryAfterSeconds(wait)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "error",
		"message":    "Too many requests, please try again in " + humanDuration(time.Duration(retryAfter)*time.Second) + ".",
		"retryAfter": retryAfter,
	})
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(math.Ceil(d.Seconds())), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
