package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/transport"
)

func newClient(t *testing.T, baseURL string, retries int) *transport.HTTPClient {
	t.Helper()
	cfg := &config.APIConfig{
		BaseURL:    baseURL,
		AnonKey:    "anon-key",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		UserAgent:  "test",
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	return transport.NewHTTPClient(cfg, logger)
}

func TestHTTPClientRetriesIdempotentRequests(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"name": "a.png"}]`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)
	client.SetRetryDelay(time.Millisecond)

	var out []models.StorageEntry
	err := client.Do(context.Background(), &transport.Request{
		Method:     http.MethodPost,
		Path:       "/storage/v1/object/list/bucket",
		JSON:       map[string]string{"prefix": ""},
		Idempotent: true,
	}, &out)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a.png", out[0].Name)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHTTPClientDoesNotRetryMutations(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"statusCode": "503", "error": "unavailable", "message": "try later"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)
	client.SetRetryDelay(time.Millisecond)

	err := client.Do(context.Background(), &transport.Request{
		Method: http.MethodPost,
		Path:   "/storage/v1/object/bucket/a.png",
		Body:   strings.NewReader("data"),
	}, nil)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "try later", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestHTTPClientHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test", r.Header.Get("User-Agent"))
		assert.Equal(t, "false", r.Header.Get("x-upsert"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-Id"))
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		assert.Equal(t, "grant_type=password", r.URL.RawQuery)

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "png-bytes", string(body))

		_, _ = w.Write([]byte(`{"Key": "bucket/a.png"}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	client.SetToken("user-token")
	assert.Equal(t, "user-token", client.GetToken())

	ctx := events.WithRequestID(context.Background(), "req-1")

	var out models.UploadResult
	err := client.Do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        "/upload",
		Query:       url.Values{"grant_type": {"password"}},
		Body:        strings.NewReader("png-bytes"),
		ContentType: "image/png",
		Header:      map[string]string{"x-upsert": "false"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "bucket/a.png", out.Key)
}

func TestHTTPClientAnonKeyFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	err := client.Do(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/"}, nil)
	assert.NoError(t, err)
}

func TestHTTPClientNullBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)

	var out []models.StorageEntry
	err := client.Do(context.Background(), &transport.Request{Method: http.MethodPost, Path: "/list"}, &out)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestHTTPClientErrorBodies(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
		wantStatus  int
	}{
		{
			name:        "storage error in body",
			status:      http.StatusBadRequest,
			body:        `{"statusCode": "404", "error": "not_found", "message": "Bucket not found"}`,
			wantCode:    "not_found",
			wantMessage: "Bucket not found",
			wantStatus:  404,
		},
		{
			name:        "auth error",
			status:      http.StatusBadRequest,
			body:        `{"error": "invalid_grant", "error_description": "Invalid login credentials"}`,
			wantCode:    "invalid_grant",
			wantMessage: "Invalid login credentials",
			wantStatus:  400,
		},
		{
			name:        "plain text",
			status:      http.StatusConflict,
			body:        "duplicate",
			wantCode:    "Conflict",
			wantMessage: "duplicate",
			wantStatus:  409,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newClient(t, server.URL, 0)
			err := client.Do(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/x"}, nil)

			var apiErr *models.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantStatus, transport.EffectiveStatus(apiErr))
		})
	}
}

func TestHTTPClientNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newClient(t, baseURL, 0)
	err := client.Do(context.Background(), &transport.Request{Method: http.MethodGet, Path: "/x"}, nil)

	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "GET /x", te.Op)
}

func TestHTTPClientStream(t *testing.T) {
	testData := []byte("object bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/authenticated/bucket/docs/a.txt", r.URL.Path)
		_, _ = w.Write(testData)
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	body, err := client.Stream(context.Background(), &transport.Request{
		Method: http.MethodGet,
		Path:   "/storage/v1/object/authenticated/bucket/docs/a.txt",
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, testData, data)
}

func TestTransportInterface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Successfully moved"})
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	tr := transport.NewTransport(&config.APIConfig{
		BaseURL: server.URL + "/",
		Timeout: 5 * time.Second,
	}, logger)
	defer tr.Close()

	assert.Equal(t, server.URL, tr.BaseURL())

	var out struct {
		Message string `json:"message"`
	}
	require.NoError(t, tr.Do(context.Background(), &transport.Request{Method: http.MethodPost, Path: "/move"}, &out))
	assert.Equal(t, "Successfully moved", out.Message)
}

func TestMockTransport(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddResponse("POST /list", []map[string]interface{}{{"name": "a.png"}})
	mock.AddError("POST /fail", errors.New("boom"))
	mock.StreamData["GET /blob"] = []byte("blob")

	var out []models.StorageEntry
	require.NoError(t, mock.Do(context.Background(), &transport.Request{Method: "POST", Path: "/list"}, &out))
	assert.Equal(t, "a.png", out[0].Name)

	err := mock.Do(context.Background(), &transport.Request{Method: "POST", Path: "/fail"}, nil)
	assert.EqualError(t, err, "boom")

	body, err := mock.Stream(context.Background(), &transport.Request{Method: "GET", Path: "/blob"})
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, "blob", string(data))

	err = mock.Do(context.Background(), &transport.Request{Method: "GET", Path: "/unknown"}, nil)
	assert.Error(t, err)

	assert.Len(t, mock.RequestsFor("POST /list"), 1)
	assert.Len(t, mock.Requests, 4)

	mock.Handler = func(req *transport.Request) (interface{}, error) {
		return map[string]string{"path": req.Path}, nil
	}
	var echoed map[string]string
	require.NoError(t, mock.Do(context.Background(), &transport.Request{Method: "GET", Path: "/dynamic"}, &echoed))
	assert.Equal(t, "/dynamic", echoed["path"])

	require.NoError(t, mock.Close())
	assert.True(t, mock.IsClosed())
}
