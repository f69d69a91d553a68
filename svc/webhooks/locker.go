package webhooks

import (
	"context"
	"sync"
	"time"
)

// Locker guards one event id against concurrent deliveries. Providers send
// the same event again when a response is slow, so two deliveries of one
// event can overlap. The lock lets only one of them reach the database.
type Locker interface {
	// Lock returns ErrEventInFlight when key is already held.
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// Unlock releases a lock taken by Locker.Lock. It returns ErrLockNotHeld
// when the lock expired or was taken over.
type Unlock func(ctx context.Context) error

// MemoryLocker is a process-local Locker. It is enough for a single server
// instance; use RedisLocker when several replicas share one database.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	seq   uint64
	now   func() time.Time
}

// memoryLock is one held key. owner tells a stale Unlock from the current
// holder after the lock expired and was taken again.
type memoryLock struct {
	owner   uint64
	expires time.Time
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock), now: time.Now}
}

// Lock takes key for ttl. An expired lock is taken over silently; its old
// Unlock then returns ErrLockNotHeld.
func (l *MemoryLocker) Lock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expires) {
		return nil, ErrEventInFlight
	}
	l.seq++
	owner := l.seq
	l.locks[key] = memoryLock{owner: owner, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		held, ok := l.locks[key]
		if !ok || held.owner != owner {
			return ErrLockNotHeld
		}
		delete(l.locks, key)
		return nil
	}, nil
}
