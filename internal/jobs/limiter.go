package jobs

import (
	"context"
	"sync"
)

// limiter is a counting semaphore whose capacity can change while in use.
// Lowering the limit never interrupts holders; it only delays new acquires.
type limiter struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	changed chan struct{}
}

func newLimiter(limit int) *limiter {
	if limit < 1 {
		limit = 1
	}
	return &limiter{limit: limit, changed: make(chan struct{})}
}

func (l *limiter) acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.inUse < l.limit {
			l.inUse++
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *limiter) release() {
	l.mu.Lock()
	l.inUse--
	l.broadcast()
	l.mu.Unlock()
}

func (l *limiter) setLimit(n int) {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	l.limit = n
	l.broadcast()
	l.mu.Unlock()
}

func (l *limiter) size() (limit, inUse int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit, l.inUse
}

// broadcast wakes all waiters; callers hold mu.
func (l *limiter) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}
