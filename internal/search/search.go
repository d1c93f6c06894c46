package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/TheMichaelB/stowage/internal/classify"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/transport"
)

// DefaultLimit is the number of results requested when none is configured.
const DefaultLimit = 5

// Backend finds objects by keyword.
type Backend interface {
	Search(ctx context.Context, keyword string, limit int) ([]models.SearchResult, error)
}

// RPC calls the search database function of the backend.
type RPC struct {
	transport transport.Transport
}

// NewRPC creates an RPC backend.
func NewRPC(t transport.Transport) *RPC {
	return &RPC{transport: t}
}

// Search calls POST /rest/v1/rpc/search. The function scopes results to the
// bucket of the authenticated user.
func (r *RPC) Search(ctx context.Context, keyword string, limit int) ([]models.SearchResult, error) {
	var results []models.SearchResult
	err := r.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/rest/v1/rpc/search",
		JSON: map[string]interface{}{
			"keyword":  keyword,
			"limit_by": limit,
		},
		Idempotent: true,
	}, &results)
	if err != nil {
		return nil, &models.TransportError{Op: "search", Err: err}
	}
	return results, nil
}

// bucketSearch adapts a gateway that can search on its own.
type bucketSearch struct {
	searcher gateway.Searcher
	bucket   string
}

// NewGatewayBackend searches bucket through gw. It fails with
// ErrSearchUnsupported when gw cannot search.
func NewGatewayBackend(gw gateway.Gateway, bucket string) (Backend, error) {
	s, ok := gw.(gateway.Searcher)
	if !ok {
		return nil, models.ErrSearchUnsupported
	}
	return &bucketSearch{searcher: s, bucket: bucket}, nil
}

func (b *bucketSearch) Search(ctx context.Context, keyword string, limit int) ([]models.SearchResult, error) {
	return b.searcher.Search(ctx, b.bucket, keyword, limit)
}

// Service turns keywords into reducer actions.
type Service struct {
	backend Backend
	limit   int
	logger  *events.Logger

	// Authenticated reports whether a session exists. A nil func means
	// always.
	Authenticated func() bool
}

// NewService creates a search service.
func NewService(backend Backend, limit int, logger *events.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		backend: backend,
		limit:   limit,
		logger:  logger.WithField("service", "search"),
	}
}

// Query searches for keyword. An empty keyword or a missing session closes
// the result list; no hits show the empty-result message.
func (s *Service) Query(ctx context.Context, keyword string) (Action, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return Close{}, nil
	}
	if s.Authenticated != nil && !s.Authenticated() {
		return Close{}, nil
	}

	results, err := s.backend.Search(ctx, keyword, s.limit)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"keyword": keyword,
		"results": len(results),
	}).Debug("Search completed")

	if len(results) == 0 {
		return ShowNoResults{Keyword: keyword}, nil
	}
	return ShowResults{Keyword: keyword, Results: results}, nil
}

// Target returns the directory to navigate to for a result and, for image
// files, the URL to preview. publicURL may be nil.
func Target(r models.SearchResult, publicURL func(path string) string) (dir, preview string) {
	if r.IsFolder() {
		return paths.Normalize(strings.TrimSuffix(r.Path, "/") + "/"), ""
	}

	dir = paths.Parent(r.Path)
	if publicURL != nil && classify.IsImage(models.FileEntry{Metadata: r.Metadata}) {
		preview = publicURL(r.Path)
	}
	return dir, preview
}
