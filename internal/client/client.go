// Package client wires configuration, transport, gateways and services into
// the API used by the CLI.
package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/search"
	"github.com/TheMichaelB/stowage/internal/services/auth"
	"github.com/TheMichaelB/stowage/internal/services/files"
	"github.com/TheMichaelB/stowage/internal/state"
	"github.com/TheMichaelB/stowage/internal/storage"
	"github.com/TheMichaelB/stowage/internal/transport"
)

// Client provides the high-level API for stowage operations.
type Client struct {
	Auth    *auth.Service
	Gateway gateway.Gateway
	State   state.Store

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport

	mu          sync.Mutex
	files       *files.Service
	unsubscribe func()
}

// New creates a client for cfg.
func New(ctx context.Context, cfg *config.Config, logger *events.Logger) (*Client, error) {
	transportClient := transport.NewTransport(&cfg.API, logger)

	gw, err := newGateway(ctx, cfg, transportClient, logger)
	if err != nil {
		return nil, err
	}

	stateStore, err := state.Open(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	c := &Client{
		Auth:      auth.NewService(transportClient, tokenFile(cfg), logger),
		Gateway:   gw,
		State:     stateStore,
		config:    cfg,
		logger:    logger.WithField("component", "client"),
		transport: transportClient,
	}

	// Signing out drops the listing of the previous user.
	c.unsubscribe = c.Auth.Subscribe(func(event auth.Event, _ *models.Session) {
		if event != auth.SignedOut {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.files != nil {
			c.files.Reset()
			c.files = nil
		}
	})

	return c, nil
}

func newGateway(ctx context.Context, cfg *config.Config, t transport.Transport, logger *events.Logger) (gateway.Gateway, error) {
	switch cfg.Storage.Backend {
	case "rest", "":
		return gateway.NewREST(t, logger), nil
	case "s3":
		s3gw, err := gateway.NewS3(ctx, cfg.S3, cfg.Storage.MaxFileSize, logger)
		if err != nil {
			return nil, fmt.Errorf("create s3 gateway: %w", err)
		}
		return s3gw, nil
	case "memory":
		return gateway.NewMemory(cfg.API.BaseURL), nil
	}
	return nil, fmt.Errorf("%w: unknown storage backend %q", models.ErrInvalidConfig, cfg.Storage.Backend)
}

// tokenFile resolves the configured token path, expanding "~/".
func tokenFile(cfg *config.Config) string {
	path := cfg.Auth.TokenFile
	if path == "" {
		path = filepath.Join(cfg.Storage.StateDir, "auth", "token.json")
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}

// Config returns the client configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Files returns the file service of the signed-in user. The user's id is
// the bucket.
func (c *Client) Files(ctx context.Context) (*files.Service, error) {
	session, err := c.Auth.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.files != nil && c.files.Bucket() == session.UserID() {
		return c.files, nil
	}

	store, err := c.DownloadStore(c.config.Storage.DownloadDir)
	if err != nil {
		return nil, err
	}

	c.files = files.NewService(c.Gateway, session.UserID(), store, files.Options{
		MaxConcurrent: c.config.Upload.MaxConcurrent,
		SignedURLTTL:  c.config.Storage.SignedURLTTL,
		PublicBucket:  c.config.Storage.PublicBuckets,
	}, c.logger)
	return c.files, nil
}

// DownloadStore opens a local store under dir with the configured conflict
// strategy.
func (c *Client) DownloadStore(dir string) (storage.Store, error) {
	strategy, err := storage.ParseConflictStrategy(c.config.Storage.ConflictStrategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	store, err := storage.NewLocalStore(dir, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open download directory: %w", err)
	}
	store.SetConflictStrategy(strategy)
	store.SetMaxFileSize(c.config.Storage.MaxFileSize)
	return store, nil
}

// Search returns the search service for the signed-in user. The REST
// backend uses the search RPC; other backends search the bucket directly.
func (c *Client) Search(ctx context.Context) (*search.Service, error) {
	session, err := c.Auth.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	var backend search.Backend
	if c.config.Storage.Backend == "rest" || c.config.Storage.Backend == "" {
		backend = search.NewRPC(c.transport)
	} else {
		backend, err = search.NewGatewayBackend(c.Gateway, session.UserID())
		if err != nil {
			return nil, err
		}
	}

	svc := search.NewService(backend, c.config.Search.Limit, c.logger)
	svc.Authenticated = func() bool {
		_, err := c.Auth.Session()
		return err == nil
	}
	return svc, nil
}

// Resume navigates svc to the directory persisted for its user.
func (c *Client) Resume(ctx context.Context, svc *files.Service) error {
	st, err := state.LoadOrNew(c.State, svc.Bucket())
	if err != nil {
		c.logger.WithError(err).Warn("Failed to load browse state")
		st = models.NewBrowseState(svc.Bucket())
	}

	if _, err := svc.Navigate(ctx, st.Path); err != nil {
		if !models.IsNotFound(err) {
			return err
		}
		// The directory vanished; start over at the root.
		_, err = svc.Navigate(ctx, "")
		return err
	}
	return nil
}

// Remember persists the current directory of svc.
func (c *Client) Remember(svc *files.Service) error {
	st, err := state.LoadOrNew(c.State, svc.Bucket())
	if err != nil {
		st = models.NewBrowseState(svc.Bucket())
	}
	st.Visit(svc.State().Path)
	return c.State.Save(st)
}

// Close releases resources.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	var firstErr error
	if err := c.State.Close(); err != nil {
		firstErr = err
	}
	if err := c.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
