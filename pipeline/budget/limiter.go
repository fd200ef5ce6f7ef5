package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/shopreel/errors"
)

// Limiter enforces max calls per minute using a sliding window.
// The pipeline uses it to throttle outbound source-image downloads so a
// burst of submitted jobs cannot hammer a merchant's image host.
type Limiter struct {
	maxCallsPerMinute int
	window            time.Duration
	mu                sync.Mutex
	callTimes         []time.Time
	timeNow           func() time.Time // Injectable for testing
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCallsPerMinute int) *Limiter {
	return NewLimiterWithClock(maxCallsPerMinute, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxCallsPerMinute int, timeNow func() time.Time) *Limiter {
	return &Limiter{
		maxCallsPerMinute: maxCallsPerMinute,
		window:            60 * time.Second,
		callTimes:         make([]time.Time, 0, maxCallsPerMinute),
		timeNow:           timeNow,
	}
}

// Allow records a call if capacity remains in the current window.
// Returns an error when the rate limit is exceeded.
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()

	// Drop timestamps that have slid out of the window
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCallsPerMinute {
		err := errors.Newf("rate limit exceeded: %d calls in the last minute (limit: %d)",
			len(r.callTimes), r.maxCallsPerMinute)
		err = errors.WithDetail(err, fmt.Sprintf("Calls in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Max calls per minute: %d", r.maxCallsPerMinute))
		return err
	}

	r.callTimes = append(r.callTimes, now)

	return nil
}

// Wait blocks until a call is allowed under rate limits.
// Returns error if context is cancelled first.
func (r *Limiter) Wait(ctx context.Context) error {
	for {
		if err := r.Allow(); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			// Retry after short delay
		}
	}
}

// removeExpiredCalls drops call timestamps outside the sliding window.
// Must be called with lock held. Timestamps are ordered, so expired
// entries are always a prefix.
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// Reset clears the rate limiter state
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
}

// Stats returns current calls in the window and remaining capacity
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	callsInWindow = len(r.callTimes)
	remaining = r.maxCallsPerMinute - callsInWindow
	if remaining < 0 {
		remaining = 0
	}

	return callsInWindow, remaining
}
