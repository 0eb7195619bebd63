package transient

import (
	"sync"
	"time"
)

// Compile-time proof that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

type entry struct {
	value     int64
	expiresAt time.Time // zero = no expiry
}

// MemStore is an in-process Store. It backs single-node deployments and unit
// tests; tests can inject a fake clock through Now.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]entry

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]entry),
		Now:     time.Now,
	}
}

func (m *MemStore) Get(key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, false, nil
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return 0, false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) Set(key string, value int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.Now().Add(ttl)
	}
	m.entries[key] = entry{value: value, expiresAt: exp}
	return nil
}

func (m *MemStore) Incr(key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok && !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		m.entries[key] = entry{value: 1}
		return 1, nil
	}
	e.value++
	m.entries[key] = e // expiry untouched
	return e.value, nil
}

// Len reports the number of live entries. Expired entries still held in the
// map are not counted.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.Now()
	for _, e := range m.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
