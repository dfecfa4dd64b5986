package shellws

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// eventLimiter admits at most len(ring) inbound envelopes in any window.
// The ring keeps the admission times of the last len(ring) events, so the
// slot about to be overwritten is always the oldest one. It belongs to a
// single read loop and is not safe for concurrent use.
type eventLimiter struct {
	clock  clockwork.Clock
	window time.Duration
	ring   []time.Time
	next   int
}

// newEventLimiter falls back to the package defaults for non-positive inputs.
func newEventLimiter(clock clockwork.Clock, limit int, window time.Duration) *eventLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &eventLimiter{clock: clock, window: window, ring: make([]time.Time, limit)}
}

// allow records the event unless the budget for the current window is spent.
// Rejected events are not recorded.
func (l *eventLimiter) allow() bool {
	now := l.clock.Now()
	if oldest := l.ring[l.next]; !oldest.IsZero() && now.Sub(oldest) < l.window {
		return false
	}
	l.ring[l.next] = now
	l.next = (l.next + 1) % len(l.ring)
	return true
}
