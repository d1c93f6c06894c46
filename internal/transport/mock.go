package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by Request.Key()
	Responses  map[string]interface{}
	StreamData map[string][]byte

	// Handler, when set, answers every request not found in Responses.
	Handler func(req *Request) (interface{}, error)

	// Error injection
	Err    error
	Errors map[string]error

	// Request tracking
	Requests []RecordedRequest

	// State
	token   string
	baseURL string
	closed  bool
}

// RecordedRequest is a request as seen by the mock. Body holds the raw
// bytes of a non-JSON body.
type RecordedRequest struct {
	Method string
	Path   string
	JSON   interface{}
	Body   []byte
	Header map[string]string
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses:  make(map[string]interface{}),
		StreamData: make(map[string][]byte),
		Errors:     make(map[string]error),
		Requests:   []RecordedRequest{},
		baseURL:    "http://mock.local",
	}
}

// AddResponse configures the response for "METHOD path".
func (m *MockTransport) AddResponse(key string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[key] = response
}

// AddError makes "METHOD path" fail with err.
func (m *MockTransport) AddError(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[key] = err
}

// Do mocks a JSON request.
func (m *MockTransport) Do(ctx context.Context, req *Request, out interface{}) error {
	resp, err := m.answer(req)
	if err != nil {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}

	// Round-trip through JSON so out is filled as the real client would.
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal mock response: %w", err)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, out)
}

// Stream mocks a raw download.
func (m *MockTransport) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	resp, err := m.answer(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	data, ok := m.StreamData[req.Key()]
	m.mu.Unlock()
	if ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	if b, ok := resp.([]byte); ok {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return nil, fmt.Errorf("no mock stream for %s", req.Key())
}

func (m *MockTransport) answer(req *Request) (interface{}, error) {
	m.mu.Lock()

	recorded := RecordedRequest{
		Method: req.Method,
		Path:   req.Path,
		JSON:   req.JSON,
		Header: req.Header,
	}
	if req.Body != nil {
		recorded.Body, _ = io.ReadAll(req.Body)
		req.Body = bytes.NewReader(recorded.Body)
	}
	m.Requests = append(m.Requests, recorded)

	if m.Err != nil {
		defer m.mu.Unlock()
		return nil, m.Err
	}
	if err, ok := m.Errors[req.Key()]; ok {
		defer m.mu.Unlock()
		return nil, err
	}
	if resp, ok := m.Responses[req.Key()]; ok {
		defer m.mu.Unlock()
		return resp, nil
	}
	if _, ok := m.StreamData[req.Key()]; ok {
		defer m.mu.Unlock()
		return nil, nil
	}

	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return nil, fmt.Errorf("no mock response for %s", req.Key())
}

// RequestsFor returns the tracked requests matching key.
func (m *MockTransport) RequestsFor(key string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []RecordedRequest
	for _, r := range m.Requests {
		if r.Method+" "+r.Path == key {
			out = append(out, r)
		}
	}
	return out
}

// SetToken mocks token setting.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the mock token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// BaseURL returns the mock base URL.
func (m *MockTransport) BaseURL() string {
	return m.baseURL
}

// Close marks the mock as closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
