package cache

import (
	"sync"

	"connectome/internal/engine"
)

// Memory is an in-process Storage backed by a map.
//
// Entries are immutable once stored: Set for a digest that is already present
// keeps the existing value, so concurrent writers of the same node agree.
type Memory struct {
	mu      sync.RWMutex
	entries map[engine.Digest]engine.Value
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[engine.Digest]engine.Value)}
}

func (m *Memory) Contains(d engine.Digest) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[d]
	return ok, nil
}

func (m *Memory) Get(d engine.Digest) (engine.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[d]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(d engine.Digest, v engine.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[d]; !ok {
		m.entries[d] = v
	}
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
