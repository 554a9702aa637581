package revision

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// identityLocks hands out one exclusive lock per identity. Entries are
// reference-counted and dropped once nobody holds or waits for them, so the
// map only grows with the number of identities in flight.
type identityLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// lock blocks until the lock for id is held or ctx is done. The returned
// function releases it and must be called exactly once.
func (l *identityLocks) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.release(id, e)
		return nil, err
	}
	return func() {
		e.sem.Release(1)
		l.release(id, e)
	}, nil
}

func (l *identityLocks) release(id uuid.UUID, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// size returns the number of live entries.
func (l *identityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
