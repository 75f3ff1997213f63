package cache

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how many writes happen between expiry sweeps.
const sweepEvery = 512

// Memory is the in-process fallback used when no Redis is configured.
// Entries expire lazily on read, with a periodic sweep on write so an
// idle key set cannot grow without bound.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	writes  int
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, nil
	}
	return e.data, nil
}

func (m *Memory) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = memoryEntry{data: data, expiresAt: expiresAt}

	m.writes++
	if m.writes%sweepEvery == 0 {
		m.sweep()
	}
	return nil
}

// sweep drops expired entries. Callers must hold m.mu.
func (m *Memory) sweep() {
	now := m.now()
	for key, e := range m.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
