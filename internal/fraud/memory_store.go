package fraud

import (
	"context"
	"sync"
)

// MemoryProfileStore is an in-memory ProfileStore for demo/test use.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

var _ ProfileStore = (*MemoryProfileStore)(nil)

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*Profile)}
}

func (s *MemoryProfileStore) Get(_ context.Context, tenantID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[tenantID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProfileStore) Save(_ context.Context, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	s.profiles[profile.TenantID] = &cp
	return nil
}
