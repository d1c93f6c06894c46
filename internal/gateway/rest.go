package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/transport"
)

const (
	storagePrefix    = "/storage/v1"
	defaultListLimit = 100
)

// REST is the storage REST API gateway.
type REST struct {
	transport transport.Transport
	logger    *events.Logger
}

// NewREST creates a REST gateway over t.
func NewREST(t transport.Transport, logger *events.Logger) *REST {
	return &REST{
		transport: t,
		logger:    logger.WithField("component", "rest_gateway"),
	}
}

type listRequest struct {
	Prefix string `json:"prefix"`
	ListOptions
}

// List lists prefix in bucket.
func (r *REST) List(ctx context.Context, bucket, prefix string, opts ListOptions) ([]models.StorageEntry, error) {
	if opts.Limit == 0 {
		opts.Limit = defaultListLimit
	}

	var entries []models.StorageEntry
	err := r.transport.Do(ctx, &transport.Request{
		Method:     http.MethodPost,
		Path:       storagePrefix + "/object/list/" + bucket,
		JSON:       listRequest{Prefix: prefix, ListOptions: opts},
		Idempotent: true,
	}, &entries)
	if err != nil {
		return nil, classifyError("list", "bucket", bucket, err)
	}

	if entries == nil {
		entries = []models.StorageEntry{}
	}

	r.logger.WithFields(map[string]interface{}{
		"bucket": bucket,
		"prefix": prefix,
		"count":  len(entries),
	}).Debug("Listed prefix")

	return entries, nil
}

// Upload creates the object at path. The backend is asked not to upsert.
func (r *REST) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) (models.UploadResult, error) {
	if !paths.ValidKey(path) {
		return models.UploadResult{}, &models.InvalidKeyError{Key: path}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var result models.UploadResult
	err := r.transport.Do(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        objectPath(bucket, path),
		Body:        body,
		ContentType: contentType,
		Header: map[string]string{
			"x-upsert":      "false",
			"cache-control": "max-age=3600",
		},
	}, &result)
	if err != nil {
		return models.UploadResult{}, classifyError("upload", "bucket", bucket, err, path)
	}

	if result.Key == "" {
		result.Key = objectKey(bucket, path)
	}
	return result, nil
}

// Move renames one object key.
func (r *REST) Move(ctx context.Context, bucket, from, to string) (string, error) {
	if !paths.ValidKey(to) {
		return "", &models.InvalidKeyError{Key: to}
	}

	var resp struct {
		Message string `json:"message"`
	}
	err := r.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   storagePrefix + "/object/move",
		JSON: map[string]string{
			"bucketId":       bucket,
			"sourceKey":      from,
			"destinationKey": to,
		},
	}, &resp)
	if err != nil {
		return "", classifyError("move", "object", from, err, to)
	}

	r.logger.WithFields(map[string]interface{}{
		"from": from,
		"to":   to,
	}).Debug("Moved object")

	return resp.Message, nil
}

// Delete removes paths and returns what the backend confirmed.
func (r *REST) Delete(ctx context.Context, bucket string, keys []string) ([]models.DeletedObject, error) {
	var deleted []models.DeletedObject
	err := r.transport.Do(ctx, &transport.Request{
		Method: http.MethodDelete,
		Path:   storagePrefix + "/object/" + bucket,
		JSON:   map[string][]string{"prefixes": keys},
	}, &deleted)
	if err != nil {
		return nil, classifyError("delete", "bucket", bucket, err)
	}

	if deleted == nil {
		deleted = []models.DeletedObject{}
	}
	return deleted, nil
}

// SignedURL creates a time-limited URL for path.
func (r *REST) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	var resp struct {
		SignedURL string `json:"signedURL"`
	}
	err := r.transport.Do(ctx, &transport.Request{
		Method:     http.MethodPost,
		Path:       storagePrefix + "/object/sign/" + bucket + "/" + escapeKey(path),
		JSON:       map[string]int64{"expiresIn": ttlSeconds(ttl)},
		Idempotent: true,
	}, &resp)
	if err != nil {
		return "", classifyError("sign", "object", path, err)
	}
	return r.absolute(resp.SignedURL), nil
}

// SignedURLs signs several paths in one request.
func (r *REST) SignedURLs(ctx context.Context, bucket string, keys []string, ttl time.Duration) ([]models.SignedURL, error) {
	var urls []models.SignedURL
	err := r.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   storagePrefix + "/object/sign/" + bucket,
		JSON: map[string]interface{}{
			"expiresIn": ttlSeconds(ttl),
			"paths":     keys,
		},
		Idempotent: true,
	}, &urls)
	if err != nil {
		return nil, classifyError("sign", "bucket", bucket, err)
	}

	for i := range urls {
		if urls[i].URL != "" {
			urls[i].URL = r.absolute(urls[i].URL)
		}
	}
	return urls, nil
}

// Download streams the object content. The caller closes the reader.
func (r *REST) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	body, err := r.transport.Stream(ctx, &transport.Request{
		Method:     http.MethodGet,
		Path:       storagePrefix + "/object/authenticated/" + bucket + "/" + escapeKey(path),
		Idempotent: true,
	})
	if err != nil {
		return nil, classifyError("download", "object", path, err)
	}
	return body, nil
}

// PublicURL renders the public object URL.
func (r *REST) PublicURL(bucket, path string) string {
	return publicURL(r.transport.BaseURL(), bucket, path)
}

// GetBucket looks up bucket id.
func (r *REST) GetBucket(ctx context.Context, id string) (models.Bucket, error) {
	var bucket models.Bucket
	err := r.transport.Do(ctx, &transport.Request{
		Method:     http.MethodGet,
		Path:       storagePrefix + "/bucket/" + id,
		Idempotent: true,
	}, &bucket)
	if err != nil {
		return models.Bucket{}, classifyError("get bucket", "bucket", id, err)
	}
	return bucket, nil
}

// CreateBucket provisions bucket id.
func (r *REST) CreateBucket(ctx context.Context, id string, public bool) (models.Bucket, error) {
	if id == "" || !paths.ValidKey(id) {
		return models.Bucket{}, &models.InvalidKeyError{Key: id}
	}

	var resp struct {
		Name string `json:"name"`
	}
	err := r.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   storagePrefix + "/bucket",
		JSON: map[string]interface{}{
			"id":     id,
			"name":   id,
			"public": public,
		},
	}, &resp)
	if err != nil {
		return models.Bucket{}, classifyError("create bucket", "bucket", id, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"bucket": id,
		"public": public,
	}).Info("Created bucket")

	now := time.Now()
	return models.Bucket{ID: id, Name: id, Owner: id, Public: public, CreatedAt: now, UpdatedAt: now}, nil
}

// absolute turns the relative "/object/sign/..." URLs of the storage API
// into full URLs.
func (r *REST) absolute(u string) string {
	if strings.HasPrefix(u, "/") {
		return r.transport.BaseURL() + storagePrefix + u
	}
	return u
}

func objectPath(bucket, path string) string {
	return storagePrefix + "/object/" + bucket + "/" + escapeKey(path)
}

// escapeKey escapes each segment of an object key for use in a URL path.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return int64(ttl / time.Second)
}

// classifyError maps a backend failure onto the error taxonomy. resource and
// name describe what a not-found refers to; conflictPath, when given, is the
// key a conflict refers to.
func classifyError(op, resource, name string, err error, conflictPath ...string) error {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		var te *models.TransportError
		if errors.As(err, &te) {
			return err
		}
		return &models.TransportError{Op: op, Err: err}
	}

	target := name
	if len(conflictPath) > 0 {
		target = conflictPath[0]
	}

	status := transport.EffectiveStatus(apiErr)
	text := strings.ToLower(apiErr.Code + " " + apiErr.Message)

	switch {
	case status == http.StatusNotFound || strings.Contains(text, "not found"):
		return &models.NotFoundError{Resource: resource, Path: name, Err: apiErr}
	case status == http.StatusConflict || strings.Contains(text, "duplicate") || strings.Contains(text, "already exists"):
		return &models.ConflictError{Path: target, Err: apiErr}
	}
	return &models.TransportError{Op: fmt.Sprintf("%s %s", op, target), Err: apiErr}
}
