package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryLimiter is the in-process implementation of the same fixed-window
// semantics, for development and tests. Not suitable for multi-instance
// deployments.
type MemoryLimiter struct {
	cfg   Config
	clock clockwork.Clock

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count        int
	windowEnd    time.Time
	blockedUntil time.Time
}

func NewMemoryLimiter(cfg Config, clock clockwork.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		clock:   clock,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || (now.After(w.windowEnd) && now.After(w.blockedUntil)) {
		w = &window{windowEnd: now.Add(l.cfg.Window)}
		l.windows[key] = w
		l.evictExpiredLocked(now)
	}

	if now.Before(w.blockedUntil) {
		return false, w.blockedUntil.Sub(now), nil
	}

	if now.After(w.windowEnd) {
		w.count = 0
		w.windowEnd = now.Add(l.cfg.Window)
	}

	w.count++
	if w.count <= l.cfg.Points {
		return true, 0, nil
	}

	if l.cfg.BlockDuration > 0 {
		w.blockedUntil = now.Add(l.cfg.BlockDuration)
		return false, l.cfg.BlockDuration, nil
	}
	return false, w.windowEnd.Sub(now), nil
}

func (l *MemoryLimiter) evictExpiredLocked(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.windowEnd) && now.After(w.blockedUntil) {
			delete(l.windows, key)
		}
	}
}
