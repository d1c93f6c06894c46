// Package navigation owns the listing of the current directory. A path
// change cancels the listing in flight, and a result that arrives for a
// path that is no longer current is dropped.
package navigation

import (
	"context"
	"errors"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
)

// ErrSuperseded is returned by Navigate when another navigation started
// before the listing finished.
var ErrSuperseded = errors.New("navigation superseded")

// Status of the current listing.
type Status int

const (
	Idle Status = iota
	Loading
	Errored
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Errored:
		return "errored"
	default:
		return "idle"
	}
}

// State is a snapshot of the current directory.
type State struct {
	Path    string               `json:"path"`
	Status  Status               `json:"-"`
	Files   []models.FileEntry   `json:"files"`
	Folders []models.FolderEntry `json:"folders"`
	Err     error                `json:"-"`
}

// Listing returns the files and folders of s.
func (s State) Listing() models.Listing {
	return models.Listing{Files: s.Files, Folders: s.Folders}
}

// Lister lists one directory. gateway.View implements it.
type Lister interface {
	ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error)
	ListFolders(ctx context.Context, dir string) ([]models.FolderEntry, error)
}

// Navigator holds the navigation state of one session.
type Navigator struct {
	lister Lister
	logger *events.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
}

// New creates a navigator at the root.
func New(lister Lister, logger *events.Logger) *Navigator {
	return &Navigator{
		lister: lister,
		logger: logger.WithField("component", "navigator"),
	}
}

// Navigate makes raw the current directory and lists it. Files and folders
// are fetched concurrently. If another navigation starts meanwhile the
// result is discarded and ErrSuperseded returned.
func (n *Navigator) Navigate(ctx context.Context, raw string) (State, error) {
	dir := paths.Normalize(raw)

	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
	}
	n.generation++
	gen := n.generation
	listCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.state = State{Path: dir, Status: Loading}
	n.mu.Unlock()
	defer cancel()

	var (
		files   []models.FileEntry
		folders []models.FolderEntry
	)
	g, gctx := errgroup.WithContext(listCtx)
	g.Go(func() error {
		var err error
		files, err = n.lister.ListFiles(gctx, dir)
		return err
	})
	g.Go(func() error {
		var err error
		folders, err = n.lister.ListFolders(gctx, dir)
		return err
	})
	err := g.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.generation != gen {
		n.logger.WithField("path", dir).Debug("Discarding stale listing")
		return State{}, ErrSuperseded
	}
	n.cancel = nil

	if err != nil {
		n.logger.WithError(err).WithField("path", dir).Error("Listing failed")
		n.state = State{
			Path:    dir,
			Status:  Errored,
			Files:   []models.FileEntry{},
			Folders: []models.FolderEntry{},
			Err:     err,
		}
		return n.snapshot(), err
	}

	if files == nil {
		files = []models.FileEntry{}
	}
	if folders == nil {
		folders = []models.FolderEntry{}
	}
	n.state = State{Path: dir, Status: Idle, Files: files, Folders: folders}

	n.logger.WithFields(map[string]interface{}{
		"path":    dir,
		"files":   len(files),
		"folders": len(folders),
	}).Debug("Listed directory")

	return n.snapshot(), nil
}

// Open navigates into the folder name of the current directory.
func (n *Navigator) Open(ctx context.Context, name string) (State, error) {
	return n.Navigate(ctx, n.Path()+name)
}

// Up navigates to the parent of the current directory.
func (n *Navigator) Up(ctx context.Context) (State, error) {
	return n.Navigate(ctx, paths.Up(n.Path()))
}

// Refresh lists the current directory again.
func (n *Navigator) Refresh(ctx context.Context) (State, error) {
	return n.Navigate(ctx, n.Path())
}

// Path returns the current directory.
func (n *Navigator) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Path
}

// Apply runs fn over the listing of path if path is still the current,
// loaded directory. It reports whether fn was applied.
func (n *Navigator) Apply(path string, fn func(models.Listing) models.Listing) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Path != path || n.state.Status != Idle {
		return false
	}

	l := fn(n.state.Listing())
	n.state.Files = l.Files
	n.state.Folders = l.Folders
	return true
}

// Snapshot returns a copy of the current state.
func (n *Navigator) Snapshot() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshot()
}

func (n *Navigator) snapshot() State {
	s := n.state
	s.Files = slices.Clone(n.state.Files)
	s.Folders = slices.Clone(n.state.Folders)
	return s
}

// Reset cancels any listing and returns to an empty root. It is called on
// sign-out.
func (n *Navigator) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.generation++
	n.state = State{}
}
