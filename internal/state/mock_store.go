package state

import (
	"slices"
	"sort"
	"sync"

	"github.com/TheMichaelB/stowage/internal/models"
)

// MockStore provides a mock implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	states map[string]*models.BrowseState

	// Error injection
	SaveErr error
}

// NewMockStore creates a mock state store.
func NewMockStore() *MockStore {
	return &MockStore{
		states: make(map[string]*models.BrowseState),
	}
}

// Load returns a copy of the stored state.
func (m *MockStore) Load(userID string) (*models.BrowseState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[userID]; ok {
		c := *st
		c.Recent = slices.Clone(st.Recent)
		return &c, nil
	}
	return nil, ErrStateNotFound
}

// Save stores a copy of st.
func (m *MockStore) Save(st *models.BrowseState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *st
	c.Recent = slices.Clone(st.Recent)
	m.states[st.UserID] = &c
	return nil
}

// Reset removes state for a user.
func (m *MockStore) Reset(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// List returns all user IDs.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Migrate copies every state into target.
func (m *MockStore) Migrate(target Store) error {
	ids, _ := m.List()
	for _, id := range ids {
		st, _ := m.Load(id)
		if err := target.Save(st); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources.
func (m *MockStore) Close() error {
	return nil
}
