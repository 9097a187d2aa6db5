package order

import (
	"context"
	"sync"
)

// OrderLocker serializes mutations of a single order. Different orders never
// block each other.
type OrderLocker interface {
	WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error
}

// LocalLocker is an in-process keyed mutex. Enough for a single instance; use
// the redis locker when several instances share the database.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	kl := l.acquireRef(orderID)
	defer l.releaseRef(orderID, kl)

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-kl.sem }()

	return fn(ctx)
}

func (l *LocalLocker) acquireRef(orderID string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[orderID]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[orderID] = kl
	}
	kl.refs++
	return kl
}

func (l *LocalLocker) releaseRef(orderID string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, orderID)
	}
}

// size is used by tests to make sure idle keys are dropped.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
