// Package locks serializes work on a single key, such as one batch.
package locks

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another holder already owns the key.
var ErrHeld = errors.New("lock is held")

// Unlock releases a held key. It is safe to call more than once.
type Unlock func()

// Locker acquires exclusive ownership of a key without waiting.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Local is an in-process Locker for single-instance deployments.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: map[string]struct{}{}}
}

func (l *Local) Lock(_ context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
