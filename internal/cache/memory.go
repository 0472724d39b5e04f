package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time // zero = never
}

// Memory is the in-process cache. A single mutex guards the map so
// concurrent population of the same key cannot race; entries vanish on
// process restart by construction.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func cacheKey(tool, key string) string {
	return tool + "\x00" + key
}

func (m *Memory) Get(tool, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cacheKey(tool, key)]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, cacheKey(tool, key))
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Put(tool, key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[cacheKey(tool, key)] = e
	m.mu.Unlock()
}

// Len reports live entries, counting expired ones until they are read.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
