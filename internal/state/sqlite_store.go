package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

// SQLiteStore implements SQLite-based state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS browse_states (
        user_id TEXT PRIMARY KEY,
        path TEXT NOT NULL DEFAULT '',
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS recent_paths (
        user_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        path TEXT NOT NULL,
        PRIMARY KEY (user_id, position),
        FOREIGN KEY (user_id) REFERENCES browse_states(user_id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load retrieves state from database.
func (s *SQLiteStore) Load(userID string) (*models.BrowseState, error) {
	s.logger.WithField("user_id", userID).Debug("Loading state from SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := models.NewBrowseState(userID)
	err = tx.QueryRow(`
        SELECT path, updated_at
        FROM browse_states
        WHERE user_id = ?
    `, userID).Scan(&st.Path, &st.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	rows, err := tx.Query(`
        SELECT path
        FROM recent_paths
        WHERE user_id = ?
        ORDER BY position
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query recent paths: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan recent path: %w", err)
		}
		st.Recent = append(st.Recent, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent paths: %w", err)
	}

	return st, nil
}

// Save persists state to database.
func (s *SQLiteStore) Save(st *models.BrowseState) error {
	s.logger.WithFields(map[string]interface{}{
		"user_id": st.UserID,
		"path":    st.Path,
	}).Debug("Saving state to SQLite")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
        INSERT INTO browse_states (user_id, path, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            path = excluded.path,
            updated_at = excluded.updated_at
    `, st.UserID, st.Path, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM recent_paths WHERE user_id = ?", st.UserID); err != nil {
		return fmt.Errorf("delete old recent paths: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO recent_paths (user_id, position, path)
        VALUES (?, ?, ?)
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, path := range st.Recent {
		if _, err := stmt.Exec(st.UserID, i, path); err != nil {
			return fmt.Errorf("insert recent path %s: %w", path, err)
		}
	}

	return tx.Commit()
}

// Reset removes state for a user.
func (s *SQLiteStore) Reset(userID string) error {
	s.logger.WithField("user_id", userID).Info("Resetting state in SQLite")

	if _, err := s.db.Exec("DELETE FROM browse_states WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// List returns all user IDs.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT user_id FROM browse_states ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Migrate transfers all states to another store.
func (s *SQLiteStore) Migrate(target Store) error {
	return migrate(s, target, s.logger)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
