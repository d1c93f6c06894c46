package storage

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// MockStore is an in-memory Store for testing. It honours the conflict
// strategy like LocalStore.
type MockStore struct {
	mu       sync.RWMutex
	files    map[string][]byte
	strategy ConflictStrategy

	// Error injection
	SaveErr error
}

// NewMockStore creates a mock store.
func NewMockStore(strategy ConflictStrategy) *MockStore {
	return &MockStore{
		files:    make(map[string][]byte),
		strategy: strategy,
	}
}

// Save stores the content of r.
func (m *MockStore) Save(name string, r io.Reader) (string, error) {
	if m.SaveErr != nil {
		return "", m.SaveErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[name]; ok {
		switch m.strategy {
		case ConflictError:
			return "", fmt.Errorf("%w: %s", ErrFileExists, name)
		case ConflictSkip:
			return "", nil
		case ConflictRename:
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s (%d)", name, n)
				if _, ok := m.files[candidate]; !ok {
					name = candidate
					break
				}
			}
		}
	}

	m.files[name] = data
	return name, nil
}

// Read retrieves file contents.
func (m *MockStore) Read(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Exists checks if a file exists.
func (m *MockStore) Exists(name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok, nil
}

// Stat returns file information.
func (m *MockStore) Stat(name string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[name]
	if !ok {
		return FileInfo{}, fmt.Errorf("stat file: %s not found", name)
	}
	return FileInfo{Path: name, Size: int64(len(data)), Mode: 0644, ModTime: time.Now()}, nil
}

// Delete removes a file.
func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

// Root returns a fixed pseudo directory.
func (m *MockStore) Root() string {
	return "mock://"
}

// Files returns the names of stored files.
func (m *MockStore) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	return names
}
