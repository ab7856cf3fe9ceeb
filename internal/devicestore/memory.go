package devicestore

import (
	"fmt"
	"sync"
)

// MemoryStore is a thread-safe in-memory record store backed by sync.RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (m *MemoryStore) Put(r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[r.ID]; exists {
		return fmt.Errorf("device %s already exists", r.ID)
	}
	m.records[r.ID] = r
	return nil
}

func (m *MemoryStore) Get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return r, nil
}

// List returns all records ordered by creation time.
func (m *MemoryStore) List() ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		result = append(result, r)
	}
	sortRecords(result)
	return result, nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.records, id)
	return nil
}
