// Package storage contains the in-memory implementation of store.Store used by
// the classify dry run and by tests.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/vanguard/internal/model"
	"github.com/dharsanguruparan/vanguard/internal/store"
)

// MemoryStore keeps item types and found items in maps guarded by an RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	types map[string]model.ItemType
	found map[string]model.FoundItem
	now   func() time.Time
}

// NewMemoryStore constructs a MemoryStore seeded with the given item types.
// Types without an ID get a fresh UUID.
func NewMemoryStore(types ...model.ItemType) *MemoryStore {
	m := &MemoryStore{
		types: make(map[string]model.ItemType),
		found: make(map[string]model.FoundItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, t := range types {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		m.types[t.ID] = t
	}
	return m
}

// NewSeededMemoryStore returns a MemoryStore holding the full vocabulary.
func NewSeededMemoryStore() *MemoryStore {
	return NewMemoryStore(model.Vocabulary...)
}

// ItemTypes returns all types ordered by title.
func (m *MemoryStore) ItemTypes(ctx context.Context) ([]model.ItemType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.ItemType, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// ItemTypeByTitle returns the type whose title matches exactly.
func (m *MemoryStore) ItemTypeByTitle(ctx context.Context, title string) (*model.ItemType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.types {
		if t.Title == title {
			found := t
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateFoundItem inserts a found item, filling ID and CreatedAt when unset.
func (m *MemoryStore) CreateFoundItem(ctx context.Context, item *model.FoundItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.types[item.TypeID]; !ok {
		return store.ErrNotFound
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	m.found[item.ID] = *item
	return nil
}

// FoundItems returns all found items, oldest first.
func (m *MemoryStore) FoundItems(ctx context.Context) ([]model.FoundItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.FoundItem, 0, len(m.found))
	for _, f := range m.found {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FoundItem returns a copy of one found item.
func (m *MemoryStore) FoundItem(ctx context.Context, id string) (*model.FoundItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.found[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ store.Store = (*MemoryStore)(nil)
