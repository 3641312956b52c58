package store

import (
	"context"
	"sync"

	"github.com/guardian-crm/guardian/pkg/models"
)

// Memory is a map-backed Store. It shares records within one process only
// and is mainly useful in tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.CacheEntry
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.CacheEntry)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, key string, entry *models.CacheEntry) error {
	m.mu.Lock()
	m.records[key] = entry.Clone()
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}

// DeleteByFilter implements Store.
func (m *Memory) DeleteByFilter(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.records {
		if f.Match(e) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// List implements Lister.
func (m *Memory) List(_ context.Context, f Filter) ([]*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CacheEntry
	for _, e := range m.records {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
