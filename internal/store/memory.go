package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	txs     map[string][]Transaction
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		txs:     make(map[string][]Transaction),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, address string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[address]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Create(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.Address]; ok {
		return existing, false, nil
	}
	now := m.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.LastActivity.IsZero() {
		rec.LastActivity = rec.CreatedAt
	}
	m.records[rec.Address] = rec
	return rec, true, nil
}

func (m *MemoryStore) Upsert(_ context.Context, address string, patch Patch) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	rec, ok := m.records[address]
	if !ok {
		rec = Record{CreatedAt: now}
		rec.Address = address
		rec.LastActivity = now
	}
	patch.apply(&rec)
	rec.UpdatedAt = now
	m.records[address] = rec
	return rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[address]
	delete(m.records, address)
	delete(m.txs, address)
	return ok, nil
}

func (m *MemoryStore) AppendTransaction(_ context.Context, address string, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[address] = append(m.txs[address], tx)
	return nil
}

func (m *MemoryStore) Transactions(_ context.Context, address string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, len(m.txs[address]))
	copy(out, m.txs[address])
	return out, nil
}
