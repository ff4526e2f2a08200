package rate

import (
	"context"
	"sync"
	"time"
)

type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windows     map[string]*bucket
	lastCleanup time.Time
}

type bucket struct {
	count int
	reset time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		windows: map[string]*bucket{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Expired windows are dropped at most once per window length.
	if now.Sub(l.lastCleanup) >= l.window {
		for k, w := range l.windows {
			if !now.Before(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		l.windows[key] = &bucket{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}
	if w.count >= l.limit {
		return false, max(w.reset.Sub(now), 0), nil
	}
	w.count++
	return true, 0, nil
}
