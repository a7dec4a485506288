package faexport

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces requests at least an interval apart and grants waiting
// callers strictly in enrollment order. A later caller can never overtake
// an earlier one, even if scheduling would otherwise wake it first.
type RateLimiter struct {
	mu       sync.Mutex
	queue    []*ticket
	last     time.Time
	interval time.Duration
}

type ticket struct {
	ready chan struct{} // closed when this ticket reaches the head
}

// NewRateLimiter creates a limiter enforcing the given minimum interval
// between grants.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until it is the caller's turn and the minimum interval since
// the previous grant has elapsed. If ctx is cancelled first, the caller's
// ticket is removed from the queue so it does not block later enrollees.
func (l *RateLimiter) Wait(ctx context.Context) error {
	t := &ticket{ready: make(chan struct{})}

	l.mu.Lock()
	l.queue = append(l.queue, t)
	if len(l.queue) == 1 {
		close(t.ready)
	}
	l.mu.Unlock()

	select {
	case <-t.ready:
	case <-ctx.Done():
		l.remove(t)
		return ctx.Err()
	}

	// Head of the queue: wait out the remaining interval. The grant time
	// and the dequeue happen under the same lock so the next waiter sees a
	// consistent "last grant".
	for {
		l.mu.Lock()
		remaining := l.interval - time.Since(l.last)
		if l.last.IsZero() || remaining <= 0 {
			l.last = time.Now()
			l.advanceLocked()
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.remove(t)
			return ctx.Err()
		}
	}
}

// advanceLocked pops the head ticket and wakes the next one. Callers must
// hold l.mu.
func (l *RateLimiter) advanceLocked() {
	l.queue = l.queue[1:]
	if len(l.queue) > 0 {
		close(l.queue[0].ready)
	}
}

// remove deletes a cancelled ticket wherever it sits in the queue. If the
// ticket had already become the head, leadership passes to the next waiter.
func (l *RateLimiter) remove(t *ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, queued := range l.queue {
		if queued != t {
			continue
		}
		if i == 0 {
			l.advanceLocked()
			return
		}
		l.queue = append(l.queue[:i], l.queue[i+1:]...)
		return
	}
}
