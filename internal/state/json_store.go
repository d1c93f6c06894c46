package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

// JSONStore keeps one checksummed JSON file per user.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON-based state store.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_state_store"),
	}, nil
}

// Load reads state from the user's JSON file, falling back to the backup
// when the file is corrupt.
func (s *JSONStore) Load(userID string) (*models.BrowseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.statePath(userID)

	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"path":    path,
	}).Debug("Loading state")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	st, err := decode(data)
	if err != nil {
		s.logger.WithError(err).Warn("State file unreadable, trying backup")
		if backup, berr := s.loadBackup(userID); berr == nil {
			s.logger.Warn("Loaded state from backup due to corruption")
			return backup, nil
		}
		return nil, ErrStateCorrupt
	}
	return st, nil
}

// Save writes state atomically, keeping the previous file as a backup.
func (s *JSONStore) Save(st *models.BrowseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(st.UserID)

	s.logger.WithFields(map[string]interface{}{
		"user_id": st.UserID,
		"path":    st.Path,
	}).Debug("Saving state")

	data, err := encode(st)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Reset removes state for a user.
func (s *JSONStore) Reset(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("user_id", userID).Info("Resetting state")

	path := s.statePath(userID)
	_ = os.Remove(path)
	_ = os.Remove(path + ".backup")
	return nil
}

// List returns all user IDs with state.
func (s *JSONStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); filepath.Ext(name) == ".json" {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// Migrate transfers all states to another store.
func (s *JSONStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) statePath(userID string) string {
	return filepath.Join(s.baseDir, userID+".json")
}

func (s *JSONStore) loadBackup(userID string) (*models.BrowseState, error) {
	data, err := os.ReadFile(s.statePath(userID) + ".backup")
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func checksum(st *models.BrowseState, version int, savedAt time.Time) (string, error) {
	data, err := json.Marshal(envelope{BrowseState: st, SchemaVersion: version, SavedAt: savedAt})
	if err != nil {
		return "", fmt.Errorf("marshal state for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func encode(st *models.BrowseState) ([]byte, error) {
	env := envelope{
		BrowseState:   st,
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       time.Now().UTC(),
	}

	sum, err := checksum(st, env.SchemaVersion, env.SavedAt)
	if err != nil {
		return nil, err
	}
	env.Checksum = sum

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*models.BrowseState, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.BrowseState == nil || env.UserID == "" {
		return nil, fmt.Errorf("state has no user")
	}

	if env.Checksum != "" {
		sum, err := checksum(env.BrowseState, env.SchemaVersion, env.SavedAt)
		if err != nil {
			return nil, err
		}
		if sum != env.Checksum {
			return nil, fmt.Errorf("checksum mismatch")
		}
	}
	return env.BrowseState, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// migrate copies every readable state of src into target.
func migrate(src, target Store, logger *events.Logger) error {
	ids, err := src.List()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	logger.WithField("count", len(ids)).Info("Migrating states")

	for _, id := range ids {
		st, err := src.Load(id)
		if err != nil {
			logger.WithError(err).WithField("user_id", id).Error("Failed to load state")
			continue
		}
		if err := target.Save(st); err != nil {
			return fmt.Errorf("save user %s: %w", id, err)
		}
	}
	return nil
}
