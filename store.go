package sessionkeys

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryContextStore is an in-process ContextStore. Contents live with the
// process; callers wanting durability supply their own implementation.
type MemoryContextStore struct {
	mu       sync.RWMutex
	contexts map[common.Address][]byte
}

// NewMemoryContextStore creates an empty store.
func NewMemoryContextStore() *MemoryContextStore {
	return &MemoryContextStore{
		contexts: make(map[common.Address][]byte),
	}
}

// Put stores the context bytes for an account, replacing any prior value.
func (s *MemoryContextStore) Put(account common.Address, context []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[account] = append([]byte{}, context...)
	return nil
}

// Get returns the stored context bytes and whether any exist.
func (s *MemoryContextStore) Get(account common.Address) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	context, ok := s.contexts[account]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, context...), true, nil
}

// Delete removes the stored context bytes, if any.
func (s *MemoryContextStore) Delete(account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, account)
	return nil
}
