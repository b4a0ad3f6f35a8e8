package persistence

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/google/uuid"
)

// MemoryStore is an in-process RecordStore for the memory driver and tests
type MemoryStore struct {
	mu      sync.RWMutex
	records map[reconciliation.Collection][]reconciliation.StoredRecord
	subs    *subscribers
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory record store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[reconciliation.Collection][]reconciliation.StoredRecord),
		subs:    newSubscribers(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Fetch returns copies of the records of a collection in insertion order
func (m *MemoryStore) Fetch(ctx context.Context, collection reconciliation.Collection) ([]reconciliation.Record, error) {
	if !collection.IsValid() {
		return nil, unknownCollection(collection)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(collection), nil
}

func (m *MemoryStore) snapshot(collection reconciliation.Collection) []reconciliation.Record {
	stored := m.records[collection]
	out := make([]reconciliation.Record, 0, len(stored))
	for _, r := range stored {
		out = append(out, maps.Clone(r.Data))
	}
	return out
}

// List returns the stored records of a collection
func (m *MemoryStore) List(ctx context.Context, collection reconciliation.Collection) ([]reconciliation.StoredRecord, error) {
	if !collection.IsValid() {
		return nil, unknownCollection(collection)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]reconciliation.StoredRecord, 0, len(m.records[collection]))
	for _, r := range m.records[collection] {
		r.Data = maps.Clone(r.Data)
		out = append(out, r)
	}
	return out, nil
}

// Create stores a copy of data
func (m *MemoryStore) Create(ctx context.Context, collection reconciliation.Collection, data reconciliation.Record) (*reconciliation.StoredRecord, error) {
	if !collection.IsValid() {
		return nil, unknownCollection(collection)
	}
	now := m.now()
	stored := reconciliation.StoredRecord{
		ID:         uuid.New(),
		Collection: collection,
		Data:       maps.Clone(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	m.records[collection] = append(m.records[collection], stored)
	records := m.snapshot(collection)
	m.mu.Unlock()

	m.subs.notify(collection, records)
	stored.Data = maps.Clone(stored.Data)
	return &stored, nil
}

// Delete removes a record
func (m *MemoryStore) Delete(ctx context.Context, collection reconciliation.Collection, id uuid.UUID) error {
	if !collection.IsValid() {
		return unknownCollection(collection)
	}

	m.mu.Lock()
	stored := m.records[collection]
	idx := -1
	for i, r := range stored {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return shared.NewDomainError(shared.ErrNotFound.Code,
			fmt.Sprintf("record %s not found in %s", id, collection))
	}
	m.records[collection] = append(stored[:idx:idx], stored[idx+1:]...)
	records := m.snapshot(collection)
	m.mu.Unlock()

	m.subs.notify(collection, records)
	return nil
}

// Subscribe registers a handler for changes of a collection
func (m *MemoryStore) Subscribe(collection reconciliation.Collection, onChange reconciliation.ChangeHandler) reconciliation.Unsubscribe {
	return m.subs.add(collection, onChange)
}

var _ reconciliation.RecordStore = (*MemoryStore)(nil)
