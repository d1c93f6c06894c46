package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
)

// Memory is an in-memory object store. It backs offline mode and tests.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	buckets map[string]*memoryBucket
	now     func() time.Time
}

type memoryBucket struct {
	info    models.Bucket
	objects map[string]*memoryObject
}

type memoryObject struct {
	data      []byte
	mimeType  string
	createdAt time.Time
	updatedAt time.Time
}

// MemoryOption configures a Memory gateway.
type MemoryOption func(*Memory)

// WithClock replaces time.Now for object timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty store. baseURL is only used to render URLs.
func NewMemory(baseURL string, opts ...MemoryOption) *Memory {
	m := &Memory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) bucket(id string) (*memoryBucket, error) {
	b, ok := m.buckets[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "bucket", Path: id}
	}
	return b, nil
}

// List returns the direct children of prefix. Deeper keys collapse into a
// folder entry without metadata.
func (m *Memory) List(ctx context.Context, bucket, prefix string, opts ListOptions) ([]models.StorageEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	entries := []models.StorageEntry{}
	seen := make(map[string]bool)
	for key, obj := range b.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]

		if i := strings.Index(rest, "/"); i >= 0 {
			name := rest[:i]
			if seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, models.StorageEntry{Name: name})
			continue
		}

		entries = append(entries, obj.entry(bucket, rest))
	}

	if opts.Search != "" {
		entries = filterByName(entries, opts.Search)
	}

	sortEntries(entries, opts.SortBy)
	return page(entries, opts), nil
}

func (o *memoryObject) entry(bucket, name string) models.StorageEntry {
	return models.StorageEntry{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(bucket+"/"+name)).String(),
		Name:     name,
		BucketID: bucket,
		OwnerID:  bucket,
		Metadata: &models.Metadata{
			Size:     int64(len(o.data)),
			MimeType: o.mimeType,
		},
		CreatedAt:      o.createdAt,
		UpdatedAt:      o.updatedAt,
		LastAccessedAt: o.updatedAt,
	}
}

// Upload stores body at path. Existing objects are never replaced.
func (m *Memory) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) (models.UploadResult, error) {
	if !paths.ValidKey(path) {
		return models.UploadResult{}, &models.InvalidKeyError{Key: path}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("read upload body: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return models.UploadResult{}, err
	}
	if _, exists := b.objects[path]; exists {
		return models.UploadResult{}, &models.ConflictError{Path: path}
	}

	now := m.now()
	b.objects[path] = &memoryObject{
		data:      data,
		mimeType:  contentType,
		createdAt: now,
		updatedAt: now,
	}

	return models.UploadResult{Key: objectKey(bucket, path)}, nil
}

// Move renames one object key.
func (m *Memory) Move(ctx context.Context, bucket, from, to string) (string, error) {
	if !paths.ValidKey(to) {
		return "", &models.InvalidKeyError{Key: to}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return "", err
	}
	obj, ok := b.objects[from]
	if !ok {
		return "", &models.NotFoundError{Resource: "object", Path: from}
	}
	if _, exists := b.objects[to]; exists {
		return "", &models.ConflictError{Path: to}
	}

	delete(b.objects, from)
	obj.updatedAt = m.now()
	b.objects[to] = obj

	return "Successfully moved", nil
}

// Delete removes the given keys and reports those that existed.
func (m *Memory) Delete(ctx context.Context, bucket string, keys []string) ([]models.DeletedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	deleted := []models.DeletedObject{}
	for _, key := range keys {
		if _, ok := b.objects[key]; !ok {
			continue
		}
		delete(b.objects, key)
		deleted = append(deleted, models.DeletedObject{Name: key})
	}
	return deleted, nil
}

// SignedURL returns a URL carrying a random token and the expiry time.
func (m *Memory) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return "", err
	}
	if _, ok := b.objects[path]; !ok {
		return "", &models.NotFoundError{Resource: "object", Path: path}
	}
	return m.sign(bucket, path, ttl), nil
}

// SignedURLs signs several paths. Missing objects are reported per entry.
func (m *Memory) SignedURLs(ctx context.Context, bucket string, keys []string, ttl time.Duration) ([]models.SignedURL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	out := make([]models.SignedURL, 0, len(keys))
	for _, key := range keys {
		if _, ok := b.objects[key]; !ok {
			out = append(out, models.SignedURL{Path: key, Error: "Either the object does not exist or you do not have access to it"})
			continue
		}
		out = append(out, models.SignedURL{Path: key, URL: m.sign(bucket, key, ttl)})
	}
	return out, nil
}

func (m *Memory) sign(bucket, path string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	q := url.Values{
		"token":   {uuid.NewString()},
		"expires": {fmt.Sprintf("%d", m.now().Add(ttl).Unix())},
	}
	return fmt.Sprintf("%s/storage/v1/object/sign/%s/%s?%s", m.baseURL, bucket, path, q.Encode())
}

// Download returns a copy of the object content.
func (m *Memory) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	obj, ok := b.objects[path]
	if !ok {
		return nil, &models.NotFoundError{Resource: "object", Path: path}
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), obj.data...))), nil
}

// PublicURL renders the public object URL.
func (m *Memory) PublicURL(bucket, path string) string {
	return publicURL(m.baseURL, bucket, path)
}

// GetBucket looks up a bucket.
func (m *Memory) GetBucket(ctx context.Context, id string) (models.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(id)
	if err != nil {
		return models.Bucket{}, err
	}
	return b.info, nil
}

// CreateBucket provisions a bucket.
func (m *Memory) CreateBucket(ctx context.Context, id string, public bool) (models.Bucket, error) {
	if id == "" || !paths.ValidKey(id) {
		return models.Bucket{}, &models.InvalidKeyError{Key: id}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.buckets[id]; exists {
		return models.Bucket{}, &models.ConflictError{Path: id}
	}

	now := m.now()
	info := models.Bucket{
		ID:        id,
		Name:      id,
		Owner:     id,
		Public:    public,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.buckets[id] = &memoryBucket{info: info, objects: make(map[string]*memoryObject)}
	return info, nil
}

// Search finds files and folders anywhere in bucket whose name contains
// keyword, ignoring case.
func (m *Memory) Search(ctx context.Context, bucket, keyword string, limit int) ([]models.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}

	return searchKeys(keys, keyword, limit, func(key string) models.SearchResult {
		obj := b.objects[key]
		e := obj.entry(bucket, key)
		return models.SearchResult{
			ID:             e.ID,
			BucketID:       bucket,
			OwnerID:        bucket,
			Metadata:       *e.Metadata,
			CreatedAt:      obj.createdAt,
			UpdatedAt:      obj.updatedAt,
			LastAccessedAt: obj.updatedAt,
		}
	}), nil
}

// searchKeys matches keyword against every file name and every folder
// segment of keys. fileResult fills the backend specific fields of a file
// hit; Name, Path and Type are set here.
func searchKeys(keys []string, keyword string, limit int, fileResult func(key string) models.SearchResult) []models.SearchResult {
	fold := cases.Fold()
	needle := fold.String(keyword)

	sort.Strings(keys)

	var results []models.SearchResult
	seenFolders := make(map[string]bool)
	for _, key := range keys {
		segments := strings.Split(key, "/")

		for i, segment := range segments[:len(segments)-1] {
			folder := strings.Join(segments[:i+1], "/")
			if seenFolders[folder] || !strings.Contains(fold.String(segment), needle) {
				continue
			}
			seenFolders[folder] = true
			results = append(results, models.SearchResult{
				Name: segment,
				Path: folder + "/",
				Type: models.KindFolder.String(),
			})
		}

		name := segments[len(segments)-1]
		if name == models.PlaceholderName || !strings.Contains(fold.String(name), needle) {
			continue
		}
		r := fileResult(key)
		r.Name = name
		r.Path = key
		r.Type = models.KindFile.String()
		results = append(results, r)
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// filterByName keeps entries whose name contains term, ignoring case.
func filterByName(entries []models.StorageEntry, term string) []models.StorageEntry {
	fold := cases.Fold()
	needle := fold.String(term)

	out := entries[:0]
	for _, e := range entries {
		if strings.Contains(fold.String(e.Name), needle) {
			out = append(out, e)
		}
	}
	return out
}
