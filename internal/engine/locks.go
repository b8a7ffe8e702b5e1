package engine

import (
	"sync"

	"github.com/roach88/catalog/internal/record"
)

// keyedMutex serializes work on one snapshot key across lanes.
//
// Entries are reference counted and removed when the last holder unlocks,
// so the map only holds keys currently in use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[record.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[record.Key]*keyLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (m *keyedMutex) Lock(key record.Key) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *keyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
