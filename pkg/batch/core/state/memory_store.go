package state

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MemoryStore keeps the state in process memory. It is shared by the worker
// goroutines of one process.
type MemoryStore struct {
	lock *semaphore.Weighted

	mu     sync.RWMutex // guards values
	values map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lock:   semaphore.NewWeighted(1),
		values: make(map[string][]byte),
	}
}

// Lock implements Store.
func (s *MemoryStore) Lock(ctx context.Context) error {
	return s.lock.Acquire(ctx, 1)
}

// Unlock implements Store.
func (s *MemoryStore) Unlock(_ context.Context) error {
	s.lock.Release(1)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.mu.Lock()
	s.values[key] = stored
	s.mu.Unlock()
	return nil
}

// Close implements Store. A MemoryStore holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}
