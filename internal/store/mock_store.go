// ABOUTME: Mock CredentialStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory CredentialStore implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	credentials map[string]*Credential // keyed by username

	// Err, when set, is returned by every operation.
	Err error
}

// Ensure MockStore implements CredentialStore.
var _ CredentialStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		credentials: make(map[string]*Credential),
	}
}

// GetCredential retrieves a credential by username.
func (m *MockStore) GetCredential(ctx context.Context, username string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.credentials[username]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy
	result := *c
	result.PasswordHash = append([]byte(nil), c.PasswordHash...)
	return &result, nil
}

// CreateCredential stores a credential if the username is free.
func (m *MockStore) CreateCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	if _, exists := m.credentials[cred.Username]; exists {
		return ErrUsernameExists
	}

	// Make a copy to avoid external modification
	c := *cred
	c.PasswordHash = append([]byte(nil), cred.PasswordHash...)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.credentials[c.Username] = &c
	return nil
}

// CountCredentials returns the number of stored credentials.
func (m *MockStore) CountCredentials(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return 0, m.Err
	}
	return len(m.credentials), nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
