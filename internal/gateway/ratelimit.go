package gateway

import (
	"sync"
	"time"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter keeps one fixed window per caller identifier. Windows expire
// lazily on next access; no background sweeper runs.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow counts this request against the identifier's window. When the window
// is exhausted it returns false and the time until the window resets. The
// counter is charged whether or not the eventual response succeeds.
func (l *RateLimiter) Allow(identifier string, cfg RateLimitConfig) (bool, time.Duration) {
	now := l.now()
	window := time.Duration(cfg.WindowSeconds) * time.Second

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.resetAt) {
		l.windows[identifier] = &rateWindow{count: 1, resetAt: now.Add(window)}
		return true, 0
	}
	w.count++
	if w.count > cfg.MaxRequests {
		return false, w.resetAt.Sub(now)
	}
	return true, 0
}

// WindowStatus is the admin view of one identifier's current window.
type WindowStatus struct {
	Identifier string    `json:"identifier"`
	Count      int       `json:"count"`
	ResetAt    time.Time `json:"resetAt"`
}

// Status reports live windows. With an identifier it returns at most one
// entry; with "" it returns all. Expired windows are dropped as a side
// effect, which is the only cleanup the map gets.
func (l *RateLimiter) Status(identifier string) []WindowStatus {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []WindowStatus
	for id, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, id)
			continue
		}
		if identifier != "" && id != identifier {
			continue
		}
		out = append(out, WindowStatus{Identifier: id, Count: w.count, ResetAt: w.resetAt})
	}
	return out
}
