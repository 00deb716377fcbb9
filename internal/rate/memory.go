package rate

import (
	"sync"
	"time"
)

const sweepEvery = time.Minute

type window struct {
	hits    int
	opened  time.Time
	closing time.Time
}

// Limiter is a fixed-window counter per key, kept in process memory.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]window
	lastSweep time.Time
	now       func() time.Time
}

func NewLimiter() *Limiter { return NewLimiterWithClock(time.Now) }

func NewLimiterWithClock(now func() time.Time) *Limiter {
	return &Limiter{windows: map[string]window{}, lastSweep: now(), now: now}
}

// Allow counts one hit against key. When the key is over limit it reports
// false and how long until its window closes.
func (l *Limiter) Allow(key string, limit int, span time.Duration) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) > sweepEvery {
		l.sweep(now)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.closing) {
		l.windows[key] = window{hits: 1, opened: now, closing: now.Add(span)}
		return true, 0
	}
	if w.hits >= limit {
		return false, w.closing.Sub(now)
	}
	w.hits++
	l.windows[key] = w
	return true, 0
}

// sweep forgets windows that closed at least two spans ago.
func (l *Limiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.closing) > 2*w.closing.Sub(w.opened) {
			delete(l.windows, k)
		}
	}
	l.lastSweep = now
}

// Len is the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
