package recorder

import (
	"context"
	"sync"
)

// operationLock is a depth-1 asynchronous mutex with FIFO waiters. It
// serializes track toggle operations for the whole session: both toggles
// touch per-track segment state, and an interleaved pair could start two
// segments or finalize the same segment twice.
type operationLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Acquire blocks until the lock is granted in call order or the context
// ends.
func (l *operationLock) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	l.waiters = append(l.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Ownership was granted concurrently with cancellation; pass it
		// to the next waiter.
		l.Release()
		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter, or unlocks.
func (l *operationLock) Release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		grant := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(grant)
		return
	}
	l.locked = false
	l.mu.Unlock()
}

// Held reports whether any operation currently owns the lock.
func (l *operationLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
