package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/TheMichaelB/stowage/internal/events"
)

// maxRenameAttempts bounds the "name (n).ext" search.
const maxRenameAttempts = 1000

// LocalStore writes files under a base directory.
type LocalStore struct {
	baseDir          string
	conflictStrategy ConflictStrategy
	logger           *events.Logger

	// Security settings
	maxPathLength int
	maxFileSize   int64
}

// NewLocalStore creates a local file store.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	// Resolve absolute path
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir:          absPath,
		conflictStrategy: ConflictRename,
		logger:           logger.WithField("component", "local_store"),
		maxPathLength:    260, // Windows compatibility
		maxFileSize:      100 * 1024 * 1024,
	}, nil
}

// SetConflictStrategy sets the conflict resolution strategy.
func (s *LocalStore) SetConflictStrategy(strategy ConflictStrategy) {
	s.conflictStrategy = strategy
}

// SetMaxFileSize sets the maximum file size limit.
func (s *LocalStore) SetMaxFileSize(size int64) {
	s.maxFileSize = size
}

// Root returns the base directory.
func (s *LocalStore) Root() string {
	return s.baseDir
}

// Save streams r into name through a temp file and an atomic rename.
func (s *LocalStore) Save(name string, r io.Reader) (string, error) {
	safePath, err := s.sanitizePath(name)
	if err != nil {
		return "", fmt.Errorf("sanitize path: %w", err)
	}

	if _, err := os.Stat(safePath); err == nil {
		switch s.conflictStrategy {
		case ConflictError:
			return "", fmt.Errorf("%w: %s", ErrFileExists, name)
		case ConflictSkip:
			s.logger.WithField("path", name).Info("File exists, skipping")
			return "", nil
		case ConflictRename:
			safePath, err = s.conflictPath(safePath)
			if err != nil {
				return "", err
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())
	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		tempFile.Close()
		if !success {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: r, N: s.maxFileSize + 1}

	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", fmt.Errorf("write stream: %w", err)
	}
	if limited.N <= 0 {
		return "", fmt.Errorf("file too large: exceeds %d bytes", s.maxFileSize)
	}

	if err := tempFile.Sync(); err != nil {
		return "", fmt.Errorf("sync file: %w", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, safePath); err != nil {
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	success = true

	s.logger.WithFields(map[string]interface{}{
		"path": safePath,
		"size": written,
		"hash": hex.EncodeToString(hasher.Sum(nil)),
	}).Debug("File saved")

	return safePath, nil
}

// Read retrieves file contents.
func (s *LocalStore) Read(name string) ([]byte, error) {
	safePath, err := s.sanitizePath(name)
	if err != nil {
		return nil, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err == nil && stat.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not allowed: %s", name)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", name)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(name string) (bool, error) {
	safePath, err := s.sanitizePath(name)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Stat returns file information.
func (s *LocalStore) Stat(name string) (FileInfo, error) {
	safePath, err := s.sanitizePath(name)
	if err != nil {
		return FileInfo{}, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	return FileInfo{
		Path:    name,
		Size:    stat.Size(),
		Mode:    stat.Mode(),
		ModTime: stat.ModTime(),
		IsDir:   stat.IsDir(),
	}, nil
}

// Delete removes a file. A missing file is not an error.
func (s *LocalStore) Delete(name string) error {
	safePath, err := s.sanitizePath(name)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	if err := os.Remove(safePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// sanitizePath validates name and joins it to the base directory.
func (s *LocalStore) sanitizePath(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid path: contains '..'")
		}
	}
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))

	fullPath := filepath.Join(s.baseDir, cleaned)
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	if err := validatePlatformPath(cleaned); err != nil {
		return "", err
	}
	return fullPath, nil
}

var reservedNames = []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
	"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3",
	"LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

// validatePlatformPath rejects names Windows cannot create. Object keys may
// legally contain ':', '?' and '*'.
func validatePlatformPath(path string) error {
	if runtime.GOOS != "windows" {
		return nil
	}

	for _, part := range strings.Split(path, string(filepath.Separator)) {
		base := strings.ToUpper(strings.TrimSuffix(part, filepath.Ext(part)))
		for _, reserved := range reservedNames {
			if base == reserved {
				return fmt.Errorf("invalid path: contains reserved name '%s'", part)
			}
		}
		if i := strings.IndexAny(part, `<>:"|?*`); i >= 0 {
			return fmt.Errorf("invalid path: contains character '%c'", part[i])
		}
	}
	return nil
}

// conflictPath finds the first free "name (n).ext" next to path.
func (s *LocalStore) conflictPath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; n <= maxRenameAttempts; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s", base)
}
