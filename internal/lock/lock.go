// Package lock serializes work that must not run twice at once, such as two merges of the
// same pair of manuscripts.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by Acquire when another holder owns the key.
var ErrLocked = errors.New("lock held")

// Locker hands out exclusive, expiring locks. The returned release func is safe to call once
// the lock has already expired.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// LocalLocker is an in-process Locker for single-instance deployments and tests.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localHold
	now   func() time.Time
	token uint64
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localHold), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, ErrLocked
	}
	l.token++
	token := l.token
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
	}, nil
}
