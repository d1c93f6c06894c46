// Package storage writes downloaded objects to the local file system.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// ErrFileExists is returned by Save under ConflictError.
var ErrFileExists = errors.New("file already exists")

// Store is the local side of a download.
type Store interface {
	// Save writes the content of r to name, resolving an existing file
	// with the conflict strategy. It returns the path written, or "" when
	// the file was skipped.
	Save(name string, r io.Reader) (string, error)

	// Read retrieves file contents.
	Read(name string) ([]byte, error)

	// Exists checks if a file exists.
	Exists(name string) (bool, error)

	// Stat returns file information.
	Stat(name string) (FileInfo, error)

	// Delete removes a file.
	Delete(name string) error

	// Root is the directory files are written under.
	Root() string
}

// FileInfo contains file metadata.
type FileInfo struct {
	Path    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// ConflictStrategy defines how to handle file conflicts.
type ConflictStrategy int

const (
	// ConflictOverwrite replaces existing files.
	ConflictOverwrite ConflictStrategy = iota

	// ConflictRename writes "name (1).ext", "name (2).ext", ...
	ConflictRename

	// ConflictError returns ErrFileExists.
	ConflictError

	// ConflictSkip keeps the existing file.
	ConflictSkip
)

func (c ConflictStrategy) String() string {
	switch c {
	case ConflictOverwrite:
		return "overwrite"
	case ConflictRename:
		return "rename"
	case ConflictError:
		return "error"
	case ConflictSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseConflictStrategy maps the config value to a strategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch strings.ToLower(s) {
	case "overwrite":
		return ConflictOverwrite, nil
	case "rename", "":
		return ConflictRename, nil
	case "error":
		return ConflictError, nil
	case "skip":
		return ConflictSkip, nil
	}
	return ConflictRename, fmt.Errorf("unknown conflict strategy %q", s)
}
