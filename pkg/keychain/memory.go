package keychain

import "sync"

// MemoryStore keeps items in process memory. It is durable only for the life
// of the value, which makes it a convenient stand-in for tests.
type MemoryStore struct {
	service string

	mu    sync.RWMutex
	items map[string][]byte
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store for service.
func NewMemoryStore(service string) *MemoryStore {
	return &MemoryStore{
		service: service,
		items:   make(map[string][]byte),
	}
}

// Read implements Store.
func (s *MemoryStore) Read(account string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.items[account]
	if !ok {
		return nil, false
	}
	return cloneBytes(data), true
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(account string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[account] = cloneBytes(data)
}

// Clear removes every item, simulating a device wipe.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string][]byte)
}

// Len returns the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close implements Backend.
func (s *MemoryStore) Close() error { return nil }
