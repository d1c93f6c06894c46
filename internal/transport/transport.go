package transport

import (
	"context"
	"io"
	"net/url"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
)

// Transport is the HTTP surface shared by the REST gateway, the auth service
// and the search RPC.
type Transport interface {
	// Do sends req and decodes a JSON response into out (which may be nil).
	// A JSON null body leaves out untouched.
	Do(ctx context.Context, req *Request, out interface{}) error

	// Stream sends req and returns the raw response body.
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)

	// Authentication
	SetToken(token string)
	GetToken() string

	// BaseURL is the backend root, used to derive public object URLs.
	BaseURL() string

	// Lifecycle
	Close() error
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// JSON is encoded as the request body when set. Otherwise Body is sent
	// verbatim with ContentType.
	JSON        interface{}
	Body        io.Reader
	ContentType string

	Header map[string]string

	// Idempotent requests are retried on transient failures. Everything
	// else is sent exactly once.
	Idempotent bool
}

// Key identifies a request by method and path, e.g. "POST /auth/v1/logout".
func (r *Request) Key() string {
	return r.Method + " " + r.Path
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger) Transport {
	return NewHTTPClient(cfg, logger)
}
