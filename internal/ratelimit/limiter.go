// Package ratelimit implements a sliding-window event counter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter admits at most Max events within any trailing Window.
type Limiter struct {
	max    int
	window time.Duration
	clock  clock.Clock

	mu     sync.Mutex
	events []time.Time // ascending
}

// New creates a limiter. A nil clock uses the wall clock.
func New(max int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		max:    max,
		window: window,
		clock:  clk,
	}
}

// Allow records an event and returns true if it fits in the window, or
// returns false without recording it. A non-positive max disables limiting.
func (l *Limiter) Allow() bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.events) >= l.max {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// Count returns the number of events currently inside the window.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return len(l.events)
}

// RetryAfter returns how long until the next event would be admitted.
func (l *Limiter) RetryAfter() time.Duration {
	if l.max <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)
	if len(l.events) < l.max {
		return 0
	}
	return l.events[0].Add(l.window).Sub(now)
}

// Reset forgets every recorded event.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.events = l.events[:0]
	l.mu.Unlock()
}

// prune drops events that fell out of the window. Must be called with lock held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.events) && !l.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0], l.events[i:]...)
	}
}
