package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/transport"
)

func newREST(t *testing.T) (*gateway.REST, *transport.MockTransport) {
	t.Helper()
	var buf bytes.Buffer
	mock := transport.NewMockTransport()
	return gateway.NewREST(mock, events.NewTestLogger(events.DebugLevel, "json", &buf)), mock
}

func TestRESTList(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddResponse("POST /storage/v1/object/list/user-1", []map[string]interface{}{
		{"name": "Work", "metadata": nil},
		{"name": "a.png", "metadata": map[string]interface{}{"size": 12, "mimetype": "image/png"}},
	})

	entries, err := gw.List(context.Background(), "user-1", "Images/", gateway.ListOptions{SortBy: gateway.FileSort})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].Metadata)
	assert.Equal(t, int64(12), entries[1].Metadata.Size)

	req := mock.RequestsFor("POST /storage/v1/object/list/user-1")
	require.Len(t, req, 1)
	body, err := json.Marshal(req[0].JSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prefix": "Images/", "limit": 100, "sortBy": {"column": "updated_at", "order": "desc"}}`, string(body))
}

func TestRESTListNullIsEmpty(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddResponse("POST /storage/v1/object/list/user-1", nil)

	entries, err := gw.List(context.Background(), "user-1", "", gateway.ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestRESTUpload(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddResponse("POST /storage/v1/object/user-1/docs/a.txt", map[string]string{"Key": "user-1/docs/a.txt"})

	result, err := gw.Upload(context.Background(), "user-1", "docs/a.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "user-1/docs/a.txt", result.Key)

	reqs := mock.RequestsFor("POST /storage/v1/object/user-1/docs/a.txt")
	require.Len(t, reqs, 1)
	assert.Equal(t, "false", reqs[0].Header["x-upsert"])
	assert.Equal(t, []byte("hello"), reqs[0].Body)
}

func TestRESTUploadInvalidKeyNeverReachesBackend(t *testing.T) {
	gw, mock := newREST(t)

	_, err := gw.Upload(context.Background(), "user-1", "docs/a#b.txt", strings.NewReader("x"), "")
	var ik *models.InvalidKeyError
	require.ErrorAs(t, err, &ik)
	assert.Empty(t, mock.Requests)
}

func TestRESTErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		apiErr *models.APIError
		check  func(t *testing.T, err error)
	}{
		{
			name:   "duplicate in body with status 400",
			apiErr: &models.APIError{StatusCode: 400, Status: "409", Code: "Duplicate", Message: "The resource already exists"},
			check: func(t *testing.T, err error) {
				var ce *models.ConflictError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "a.png", ce.Path)
			},
		},
		{
			name:   "bucket not found",
			apiErr: &models.APIError{StatusCode: 400, Status: "404", Code: "Not found", Message: "Bucket not found"},
			check: func(t *testing.T, err error) {
				var nf *models.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "bucket", nf.Resource)
			},
		},
		{
			name:   "server error",
			apiErr: &models.APIError{StatusCode: 500, Code: "internal", Message: "boom"},
			check: func(t *testing.T, err error) {
				var te *models.TransportError
				require.ErrorAs(t, err, &te)
				var apiErr *models.APIError
				assert.ErrorAs(t, err, &apiErr)
			},
		},
		{
			name: "network error",
			check: func(t *testing.T, err error) {
				var te *models.TransportError
				require.ErrorAs(t, err, &te)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, mock := newREST(t)
			if tt.apiErr != nil {
				mock.AddError("POST /storage/v1/object/user-1/a.png", tt.apiErr)
			} else {
				mock.AddError("POST /storage/v1/object/user-1/a.png", errors.New("connection refused"))
			}

			_, err := gw.Upload(context.Background(), "user-1", "a.png", strings.NewReader("x"), "image/png")
			tt.check(t, err)
		})
	}
}

func TestRESTMove(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddResponse("POST /storage/v1/object/move", map[string]string{"message": "Successfully moved"})

	msg, err := gw.Move(context.Background(), "user-1", "docs/report.pdf", "docs/summary.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Successfully moved", msg)

	reqs := mock.RequestsFor("POST /storage/v1/object/move")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]string{
		"bucketId":       "user-1",
		"sourceKey":      "docs/report.pdf",
		"destinationKey": "docs/summary.pdf",
	}, reqs[0].JSON)
}

func TestRESTMoveNotFound(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddError("POST /storage/v1/object/move", &models.APIError{StatusCode: 400, Status: "404", Message: "Object not found"})

	_, err := gw.Move(context.Background(), "user-1", "missing.pdf", "other.pdf")
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "object", nf.Resource)
	assert.Equal(t, "missing.pdf", nf.Path)
}

func TestRESTDelete(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddResponse("DELETE /storage/v1/object/user-1", []map[string]string{{"name": "x.png"}})

	deleted, err := gw.Delete(context.Background(), "user-1", []string{"x.png", "y.png"})
	require.NoError(t, err)
	assert.Equal(t, []models.DeletedObject{{Name: "x.png"}}, deleted)

	reqs := mock.RequestsFor("DELETE /storage/v1/object/user-1")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string][]string{"prefixes": {"x.png", "y.png"}}, reqs[0].JSON)
}

func TestRESTSignedURL(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddResponse("POST /storage/v1/object/sign/user-1/docs/a.pdf", map[string]string{
		"signedURL": "/object/sign/user-1/docs/a.pdf?token=abc",
	})
	mock.AddResponse("POST /storage/v1/object/sign/user-1", []map[string]string{
		{"path": "a.pdf", "signedURL": "/object/sign/user-1/a.pdf?token=1"},
		{"path": "b.pdf", "error": "Either the object does not exist or you do not have access to it"},
	})

	u, err := gw.SignedURL(context.Background(), "user-1", "docs/a.pdf", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://mock.local/storage/v1/object/sign/user-1/docs/a.pdf?token=abc", u)

	reqs := mock.RequestsFor("POST /storage/v1/object/sign/user-1/docs/a.pdf")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]int64{"expiresIn": 3600}, reqs[0].JSON)

	urls, err := gw.SignedURLs(context.Background(), "user-1", []string{"a.pdf", "b.pdf"}, time.Minute)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "http://mock.local/storage/v1/object/sign/user-1/a.pdf?token=1", urls[0].URL)
	assert.NotEmpty(t, urls[1].Error)
}

func TestRESTBuckets(t *testing.T) {
	gw, mock := newREST(t)
	mock.AddError("GET /storage/v1/bucket/user-1", &models.APIError{StatusCode: 400, Status: "404", Code: "Bucket not found", Message: "Bucket not found"})
	mock.AddResponse("POST /storage/v1/bucket", map[string]string{"name": "user-1"})

	_, err := gw.GetBucket(context.Background(), "user-1")
	assert.True(t, models.IsNotFound(err))

	b, err := gw.CreateBucket(context.Background(), "user-1", true)
	require.NoError(t, err)
	assert.Equal(t, "user-1", b.ID)
	assert.True(t, b.Public)

	reqs := mock.RequestsFor("POST /storage/v1/bucket")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]interface{}{"id": "user-1", "name": "user-1", "public": true}, reqs[0].JSON)
}

func TestRESTPublicURL(t *testing.T) {
	gw, _ := newREST(t)
	assert.Equal(t, "http://mock.local/storage/v1/object/public/user-1/Images/a.png", gw.PublicURL("user-1", "Images/a.png"))
}

// TestRESTOverHTTP runs the gateway against a real HTTP server to check path
// escaping and the download stream.
func TestRESTOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/storage/v1/object/authenticated/user-1/My Docs/a b.txt":
			_, _ = w.Write([]byte("file body"))
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/list/user-1":
			_, _ = w.Write([]byte("null"))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"statusCode": "404", "error": "not_found", "message": "Object not found"}`))
		}
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	tr := transport.NewHTTPClient(&config.APIConfig{BaseURL: server.URL, Timeout: 5 * time.Second}, logger)
	gw := gateway.NewREST(tr, logger)
	ctx := context.Background()

	body, err := gw.Download(ctx, "user-1", "My Docs/a b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "file body", string(data))

	entries, err := gw.List(ctx, "user-1", "", gateway.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = gw.Download(ctx, "user-1", "missing.txt")
	assert.True(t, models.IsNotFound(err))
}
