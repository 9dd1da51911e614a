package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store.
//
// Suitable for tests and for deployments that accept losing the
// processed set on restart. For anything durable use FileStore or
// RedisStore.
type MemoryStore struct {
	mu   sync.Mutex
	refs map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		refs: make(map[string]struct{}),
	}
}

// LoadAll returns a copy of the current set.
func (s *MemoryStore) LoadAll(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{}, len(s.refs))
	for ref := range s.refs {
		out[ref] = struct{}{}
	}
	return out, nil
}

// Add records ref, reporting whether it was newly added.
func (s *MemoryStore) Add(_ context.Context, ref string) (bool, error) {
	ref = canonical(ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refs[ref]; exists {
		return false, nil
	}
	s.refs[ref] = struct{}{}
	return true, nil
}

// Remove deletes ref. Absent references are a no-op.
func (s *MemoryStore) Remove(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refs, canonical(ref))
	return nil
}

// Clear empties the store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs = make(map[string]struct{})
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
