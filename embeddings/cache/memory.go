package cache

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vectors: make(map[string][]float32)}
}

// MGet implements Store.
func (s *MemoryStore) MGet(_ context.Context, keys []string) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]float32, len(keys))
	for i, k := range keys {
		if v, ok := s.vectors[k]; ok {
			out[i] = slices.Clone(v)
		}
	}
	return out, nil
}

// MSet implements Store.
func (s *MemoryStore) MSet(_ context.Context, entries map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.vectors[k] = slices.Clone(v)
	}
	return nil
}

// Len returns the number of cached vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}
