package keylock

import (
	"context"
	"sync"
)

// Locker serializes work per key. The engine takes a lock for the duration
// of one read-reconcile-persist cycle so two writers for the same user can
// never interleave; different keys never contend.
type Locker interface {
	// Acquire blocks until the key's lock is held or ctx is done. The
	// returned release function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type lockEntry struct {
	ch   chan struct{} // capacity 1, holding the token means holding the lock
	refs int
}

// KeyedMutex is an in-process Locker. Entries are created on demand and
// removed once the last waiter releases, so the map stays proportional to
// the number of keys currently contended, not the number of users ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewKeyedMutex returns an empty in-process Locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*lockEntry)}
}

func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		}, nil
	case <-ctx.Done():
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}
