// Package state persists the browse position of each user between CLI runs.
package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

// Store manages browse state persistence.
type Store interface {
	// Load retrieves the browse state of a user.
	Load(userID string) (*models.BrowseState, error)

	// Save persists the browse state of state.UserID.
	Save(state *models.BrowseState) error

	// Reset removes all state for a user.
	Reset(userID string) error

	// List returns all known user IDs.
	List() ([]string, error)

	// Migrate copies every state into target.
	Migrate(target Store) error

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateCorrupt  = errors.New("state file is corrupt")
)

// envelope extends the model with store metadata.
type envelope struct {
	*models.BrowseState

	SchemaVersion int       `json:"schema_version"`
	SavedAt       time.Time `json:"saved_at"`
	Checksum      string    `json:"checksum,omitempty"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Open returns the store selected by cfg.StateBackend.
func Open(cfg *config.StorageConfig, logger *events.Logger) (Store, error) {
	switch cfg.StateBackend {
	case "sqlite":
		return NewSQLiteStore(filepath.Join(cfg.StateDir, "state.db"), logger)
	case "json", "":
		return NewJSONStore(cfg.StateDir, logger)
	}
	return nil, fmt.Errorf("%w: unknown state backend %q", models.ErrInvalidConfig, cfg.StateBackend)
}

// LoadOrNew returns the stored state of userID, or a fresh one at the root.
func LoadOrNew(s Store, userID string) (*models.BrowseState, error) {
	st, err := s.Load(userID)
	if errors.Is(err, ErrStateNotFound) {
		return models.NewBrowseState(userID), nil
	}
	return st, err
}
