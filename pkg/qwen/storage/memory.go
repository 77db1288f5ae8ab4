package storage

import (
	"fmt"
	"sync"

	"github.com/Riceneeder/fapiao/pkg/qwen/types"
)

// MemoryStore implements in-memory credential storage.
// Credentials are lost when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	token *types.Token
	email string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of the token in memory.
func (m *MemoryStore) Save(token *types.Token, email string) error {
	if token == nil {
		return fmt.Errorf("token is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tokenCopy := *token
	m.token = &tokenCopy
	m.email = email
	return nil
}

// Load returns a copy of the stored token, or (nil, "", nil) when absent.
func (m *MemoryStore) Load() (*types.Token, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return nil, "", nil
	}

	tokenCopy := *m.token
	return &tokenCopy, m.email, nil
}

// UpdateEmail rewrites the stored entry with a new email value.
func (m *MemoryStore) UpdateEmail(token *types.Token, email string) error {
	return m.Save(token, email)
}

// Delete clears the stored token.
func (m *MemoryStore) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil
	m.email = ""
	return nil
}
