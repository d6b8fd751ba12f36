// Package lock provides the advisory-lock-by-name primitive used to serialize
// work on one project's dedicated tables.
package lock

import (
	"context"
	"fmt"
	"sync"

	"taskportal/internal/repository"
)

var (
	_ repository.Locker = (*Local)(nil)
	_ repository.Locker = (*Postgres)(nil)
	_ repository.Locker = (*Redis)(nil)
)

// Local is an in-process keyed mutex. It serializes callers inside one
// process only.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

func (l *Local) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	e, ok := l.locks[name]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[name] = e
	}
	e.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", name, ctx.Err())
	}
	defer func() { <-e.ch }()

	return fn(ctx)
}
