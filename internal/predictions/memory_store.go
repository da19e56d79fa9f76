package predictions

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/vigil/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for testing
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory predictions store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (m *MemoryStore) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records {
		if filter.TenantID != "" && rec.TenantID != filter.TenantID {
			continue
		}
		if filter.EventType != "" && rec.EventType != filter.EventType {
			continue
		}
		if filter.Before != nil && !olderThan(rec, filter.Before) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func olderThan(rec *Record, c *pagination.Cursor) bool {
	if rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.ID < c.ID
	}
	return rec.CreatedAt.Before(c.CreatedAt)
}
