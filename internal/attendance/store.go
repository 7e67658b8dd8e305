package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the ledger's persistence contract. Create is exclusive on the key:
// a second create for the same key fails with ErrDuplicateKey. Transition is a
// compare-and-swap on status and fails with ErrStaleRecord when the stored
// status is not from.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, key Key) (*Record, error)
	Transition(ctx context.Context, key Key, from Status, u Update) (Record, error)
	Set(ctx context.Context, key Key, u Update) (Record, error)
	ListWeek(ctx context.Context, week int) ([]Record, error)
}

// MemoryStore is a mutex-guarded Store for dev and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := rec.Key().String()
	if _, ok := m.records[id]; ok {
		return ErrDuplicateKey
	}
	rec.ID = id
	m.records[id] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key.String()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Transition(_ context.Context, key Key, from Status, u Update) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key.String()]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status != from {
		return Record{}, ErrStaleRecord
	}
	rec = u.apply(rec, m.now())
	m.records[key.String()] = rec
	return rec, nil
}

func (m *MemoryStore) Set(_ context.Context, key Key, u Update) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key.String()]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec = u.apply(rec, m.now())
	m.records[key.String()] = rec
	return rec, nil
}

func (m *MemoryStore) ListWeek(_ context.Context, week int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if rec.WeekNumber == week {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
