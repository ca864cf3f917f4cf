// Package memory provides process local opens cache used by default
package memory

import (
	"context"
	"sync"
)

// Cache counts beacon fetches in a mutex guarded map
type Cache struct {
	mu    sync.RWMutex
	data  map[string]int64
	total int64
}

// New makes empty memory cache
func New() *Cache {
	return &Cache{data: make(map[string]int64)}
}

// Ping does nothing, memory is always there
func (m *Cache) Ping(_ context.Context) error {
	return nil
}

// Close releases the map
func (m *Cache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Incr counts one beacon fetch for message id
func (m *Cache) Incr(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]int64)
	}
	m.data[id]++
	m.total++
	return nil
}

// Opens returns cached opens counter for message id
func (m *Cache) Opens(_ context.Context, id string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[id], nil
}

// Total returns cached total of all beacon fetches
func (m *Cache) Total(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total, nil
}
