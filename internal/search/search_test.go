package search_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/search"
	"github.com/TheMichaelB/stowage/internal/transport"
)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func TestReduce(t *testing.T) {
	results := []models.SearchResult{{Name: "a.png", Path: "a.png", Type: "FILE"}}

	s := search.Reduce(search.State{}, search.ShowResults{Keyword: "a", Results: results})
	assert.Equal(t, search.State{Show: true, Keyword: "a", Results: results}, s)

	s = search.Reduce(s, search.ShowNoResults{Keyword: "zz"})
	assert.True(t, s.Show)
	assert.Equal(t, "zz", s.Keyword)
	assert.Empty(t, s.Results)

	s = search.Reduce(s, search.Close{})
	assert.False(t, s.Show)
	assert.Empty(t, s.Keyword)
	assert.Empty(t, s.Results)
}

func TestRPCQuery(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddResponse("POST /rest/v1/rpc/search", []map[string]interface{}{
		{"name": "Holiday", "path": "Holiday/", "type": "FOLDER"},
		{"name": "beach.png", "path": "Holiday/beach.png", "type": "FILE", "metadata": map[string]interface{}{"mimetype": "image/png"}},
	})

	svc := search.NewService(search.NewRPC(mock), 0, testLogger())
	action, err := svc.Query(context.Background(), " holi ")
	require.NoError(t, err)

	show, ok := action.(search.ShowResults)
	require.True(t, ok)
	assert.Equal(t, "holi", show.Keyword)
	require.Len(t, show.Results, 2)

	reqs := mock.RequestsFor("POST /rest/v1/rpc/search")
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]interface{}{"keyword": "holi", "limit_by": 5}, reqs[0].JSON)
}

func TestQueryNullResult(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddResponse("POST /rest/v1/rpc/search", nil)

	svc := search.NewService(search.NewRPC(mock), 3, testLogger())
	action, err := svc.Query(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, search.ShowNoResults{Keyword: "nothing"}, action)
}

func TestQueryCloses(t *testing.T) {
	mock := transport.NewMockTransport()
	svc := search.NewService(search.NewRPC(mock), 3, testLogger())

	action, err := svc.Query(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, search.Close{}, action)

	svc.Authenticated = func() bool { return false }
	action, err = svc.Query(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, search.Close{}, action)

	assert.Empty(t, mock.Requests)
}

func TestQueryError(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddError("POST /rest/v1/rpc/search", errors.New("offline"))

	svc := search.NewService(search.NewRPC(mock), 3, testLogger())
	_, err := svc.Query(context.Background(), "x")

	var te *models.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestGatewayBackend(t *testing.T) {
	mem := gateway.NewMemory("http://localhost")
	ctx := context.Background()
	_, err := mem.CreateBucket(ctx, "user-1", false)
	require.NoError(t, err)
	_, err = mem.Upload(ctx, "user-1", "docs/Report.pdf", strings.NewReader("x"), "application/pdf")
	require.NoError(t, err)

	backend, err := search.NewGatewayBackend(mem, "user-1")
	require.NoError(t, err)

	action, err := search.NewService(backend, 5, testLogger()).Query(ctx, "report")
	require.NoError(t, err)
	show, ok := action.(search.ShowResults)
	require.True(t, ok)
	assert.Equal(t, "docs/Report.pdf", show.Results[0].Path)

	_, err = search.NewGatewayBackend(gateway.NewREST(transport.NewMockTransport(), testLogger()), "user-1")
	assert.ErrorIs(t, err, models.ErrSearchUnsupported)
}

func TestTarget(t *testing.T) {
	publicURL := func(path string) string { return "public/" + path }

	dir, preview := search.Target(models.SearchResult{Type: "FOLDER", Path: "Holiday/2023"}, publicURL)
	assert.Equal(t, "Holiday/2023/", dir)
	assert.Empty(t, preview)

	// A dotted last segment is still a folder.
	dir, _ = search.Target(models.SearchResult{Type: "FOLDER", Path: "Docs/v1.2"}, publicURL)
	assert.Equal(t, "Docs/v1.2/", dir)
	dir, _ = search.Target(models.SearchResult{Type: "FOLDER", Path: "Docs/v1.2/"}, publicURL)
	assert.Equal(t, "Docs/v1.2/", dir)

	dir, preview = search.Target(models.SearchResult{
		Type:     "FILE",
		Path:     "Holiday/beach.png",
		Metadata: models.Metadata{MimeType: "image/png"},
	}, publicURL)
	assert.Equal(t, "Holiday/", dir)
	assert.Equal(t, "public/Holiday/beach.png", preview)

	dir, preview = search.Target(models.SearchResult{
		Type:     "FILE",
		Path:     "notes/README",
		Metadata: models.Metadata{MimeType: "text/plain"},
	}, publicURL)
	assert.Equal(t, "notes/", dir)
	assert.Empty(t, preview)

	dir, _ = search.Target(models.SearchResult{Type: "FILE", Path: "top.txt"}, nil)
	assert.Equal(t, "", dir)
}
