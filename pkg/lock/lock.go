package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when a lock is held by someone else
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out named, non-blocking mutual exclusion
type Locker interface {
	// TryLock acquires name or fails at once with ErrNotAcquired.
	// The returned func releases the lock and is safe to call more than once.
	TryLock(ctx context.Context, name string) (release func(), err error)
}

// PromoteLockName guards writes of an environment's deploy pointer
func PromoteLockName(envID string) string {
	return "PROMOTE-" + envID
}

// DeployLockName guards the pacing check of an environment's rollout
func DeployLockName(envID string) string {
	return "DEPLOY-" + envID
}

// LocalLocker is a Locker for a single deployd process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process Locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker
func (l *LocalLocker) TryLock(ctx context.Context, name string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, ErrNotAcquired
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}
