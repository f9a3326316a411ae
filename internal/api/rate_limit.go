package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultAuthRateEvents = 10
	defaultAuthRateWindow = time.Minute
)

// authLimiter is a per-IP sliding-window limiter guarding the credential
// endpoints against brute-force attempts.
type authLimiter struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	limit     int
	window    time.Duration
	lastPrune time.Time
}

func newAuthLimiter(limit int, window time.Duration) *authLimiter {
	if limit <= 0 {
		limit = defaultAuthRateEvents
	}
	if window <= 0 {
		window = defaultAuthRateWindow
	}
	return &authLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an attempt from key at time "now" is permitted.
func (l *authLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)

	// Expired keys would otherwise accumulate forever.
	if now.Sub(l.lastPrune) > l.window {
		for k, ts := range l.events {
			if len(ts) == 0 || !ts[len(ts)-1].After(cut) {
				delete(l.events, k)
			}
		}
		l.lastPrune = now
	}

	ts := l.events[key]
	dst := ts[:0]
	for _, t := range ts {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	if len(dst) >= l.limit {
		l.events[key] = dst
		return false
	}
	l.events[key] = append(dst, now)
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
