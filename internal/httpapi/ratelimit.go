package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimiter is a per-key sliding window. A full sweep runs at most
// once per window, so keys that stop sending requests do not pin map
// entries forever.
type rateLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	hits      map[string][]time.Time
	lastSweep time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:       max,
		window:    window,
		hits:      make(map[string][]time.Time),
		lastSweep: time.Now(),
	}
}

// allow records one request for key and reports whether it fits the
// window. When it does not, retryAfter is the whole seconds until the
// oldest counted request ages out.
func (rl *rateLimiter) allow(key string, now time.Time) (retryAfter int, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweepLocked(now)
	}

	recent := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if now.Sub(t) < rl.window {
			recent = append(recent, t)
		}
	}
	if len(recent) >= rl.max {
		rl.hits[key] = recent
		return int(rl.window.Seconds() - now.Sub(recent[0]).Seconds()), false
	}
	rl.hits[key] = append(recent, now)
	return 0, true
}

// sweepLocked drops every key whose requests have all aged out. Callers
// hold mu.
func (rl *rateLimiter) sweepLocked(now time.Time) {
	for key, times := range rl.hits {
		live := times[:0]
		for _, t := range times {
			if now.Sub(t) < rl.window {
				live = append(live, t)
			}
		}
		if len(live) == 0 {
			delete(rl.hits, key)
			continue
		}
		rl.hits[key] = live
	}
	rl.lastSweep = now
}

// RateLimit limits requests per client IP over a sliding window.
func RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	rl := newRateLimiter(maxRequests, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				key = r.RemoteAddr
			}
			if retryAfter, ok := rl.allow(key, time.Now()); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "rate limit exceeded, try again later", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
