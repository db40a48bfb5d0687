package vectorstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store using brute-force cosine similarity.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, rec Record) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (*Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) NearestNeighbors(
	_ context.Context,
	collection string,
	query []float32,
	k int,
) ([]Neighbor, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	candidates := make([]Record, 0, len(m.collections[collection]))
	for _, rec := range m.collections[collection] {
		candidates = append(candidates, cloneRecord(rec))
	}
	m.mu.RUnlock()
	return rankNeighbors(candidates, query, k), nil
}

func (m *MemoryStore) List(_ context.Context, collection string) ([]Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Record, 0, len(m.collections[collection]))
	for _, rec := range m.collections[collection] {
		out = append(out, cloneRecord(rec))
	}
	m.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) FindByField(_ context.Context, collection, field, value string) ([]Record, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if err := validateField(field); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []Record
	for _, rec := range m.collections[collection] {
		if fieldEquals(rec.Data, field, value) {
			out = append(out, cloneRecord(rec))
		}
	}
	m.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (m *MemoryStore) CompareAndSwap(
	_ context.Context,
	collection, id, field, expected string,
	rec Record,
) (bool, error) {
	if err := validateCollection(collection); err != nil {
		return false, err
	}
	if err := validateField(field); err != nil {
		return false, err
	}
	if err := validateRecord(rec); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.collections[collection][id]
	if !ok || !fieldEquals(current.Data, field, expected) {
		return false, nil
	}
	rec.ID = id
	m.put(collection, rec)
	return true, nil
}

func (m *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection]), nil
}

func (m *MemoryStore) Close() error { return nil }

// put stores a copy of rec; callers hold the write lock.
func (m *MemoryStore) put(collection string, rec Record) {
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Record)
		m.collections[collection] = coll
	}
	coll[rec.ID] = cloneRecord(rec)
}

func cloneRecord(rec Record) Record {
	out := rec
	if rec.Data != nil {
		out.Data = append([]byte(nil), rec.Data...)
	}
	if rec.Vector != nil {
		out.Vector = append([]float32(nil), rec.Vector...)
	}
	return out
}
