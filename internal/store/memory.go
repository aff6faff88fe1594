package store

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps encoded results in process memory. Results are stored
// encoded so callers never share mutable state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ schemas.ResultStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store. A non-positive ttl keeps
// results until they are overwritten.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Save replaces the tab's stored result.
func (m *MemoryStore) Save(ctx context.Context, result *schemas.ScanResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[schemas.ResultKey(result.TabID)] = memoryEntry{data: data, expiresAt: expiry(m.now(), m.ttl)}
	return nil
}

// Get returns the tab's live result or (nil, nil).
func (m *MemoryStore) Get(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	return absentAsNil(m.load(tab))
}

func (m *MemoryStore) load(tab schemas.TabID) (*schemas.ScanResult, error) {
	key := schemas.ResultKey(tab)
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, schemas.ErrResultNotFound
	}
	if expired(entry.expiresAt, m.now()) {
		m.mu.Lock()
		// Re-check under the write lock; a concurrent Save may have refreshed it.
		if cur, ok := m.entries[key]; ok && expired(cur.expiresAt, m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, schemas.ErrResultNotFound
	}
	return decodeResult(entry.data)
}

// Len reports how many entries are held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close drops every entry.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}
