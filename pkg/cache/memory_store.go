package cache

import "sync"

// MemoryStore is the default mutex-guarded in-memory Store. All mutation is
// keyed, so operations on different keys never contend beyond the map lock.
type MemoryStore[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{entries: make(map[string]Entry[V])}
}

// Get returns the entry for key.
func (s *MemoryStore[V]) Get(key string) (Entry[V], bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]

	return e, ok, nil
}

// Set stores the entry under key.
func (s *MemoryStore[V]) Set(key string, e Entry[V]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = e

	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore[V]) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)

	return nil
}

// Keys returns all stored keys.
func (s *MemoryStore[V]) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}

	return keys, nil
}
