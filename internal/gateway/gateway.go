// Package gateway talks to the remote object store. Every call names the
// bucket explicitly; the bucket of a user is the user id.
package gateway

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/stowage/internal/classify"
	"github.com/TheMichaelB/stowage/internal/models"
)

// DefaultSignedURLTTL is used when a caller passes a zero ttl.
const DefaultSignedURLTTL = time.Hour

// Sort orders accepted by SortBy.Order.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// SortBy selects the listing order. Column is one of name, updated_at,
// created_at or last_accessed_at.
type SortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// ListOptions tune a prefix listing.
type ListOptions struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	SortBy SortBy `json:"sortBy"`
	Search string `json:"search,omitempty"`
}

// Default listing orders.
var (
	FileSort   = SortBy{Column: "updated_at", Order: OrderDesc}
	FolderSort = SortBy{Column: "name", Order: OrderDesc}
)

// Gateway is the object store contract.
type Gateway interface {
	// List returns the direct children of prefix. A missing or null result
	// is an empty slice.
	List(ctx context.Context, bucket, prefix string, opts ListOptions) ([]models.StorageEntry, error)

	// Upload never overwrites. The returned key is "<bucket>/<path>".
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) (models.UploadResult, error)

	// Move renames a single object key.
	Move(ctx context.Context, bucket, from, to string) (string, error)

	// Delete returns the objects actually removed. Missing keys are absent
	// from the result, not errors.
	Delete(ctx context.Context, bucket string, paths []string) ([]models.DeletedObject, error)

	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	SignedURLs(ctx context.Context, bucket string, paths []string, ttl time.Duration) ([]models.SignedURL, error)
	Download(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	PublicURL(bucket, path string) string

	GetBucket(ctx context.Context, id string) (models.Bucket, error)
	CreateBucket(ctx context.Context, id string, public bool) (models.Bucket, error)
}

// Searcher is implemented by gateways that can search a bucket themselves.
type Searcher interface {
	Search(ctx context.Context, bucket, keyword string, limit int) ([]models.SearchResult, error)
}

// Files resolves the file variant of a raw listing of prefix. Folders and
// the placeholder object are dropped. publicURL may be nil.
func Files(entries []models.StorageEntry, prefix string, publicURL func(path string) string) []models.FileEntry {
	files := make([]models.FileEntry, 0, len(entries))
	for _, e := range entries {
		if !classify.IsFile(e) {
			continue
		}

		f := models.FileEntry{
			Name:           e.Name,
			Path:           prefix + e.Name,
			BucketID:       e.BucketID,
			OwnerID:        e.OwnerID,
			Metadata:       *e.Metadata,
			CreatedAt:      e.CreatedAt,
			UpdatedAt:      e.UpdatedAt,
			LastAccessedAt: e.LastAccessedAt,
		}
		if publicURL != nil {
			f.SignedURL = publicURL(f.Path)
		}
		files = append(files, f)
	}
	return files
}

// Folders resolves the folder variant of a raw listing of prefix.
func Folders(entries []models.StorageEntry, prefix string) []models.FolderEntry {
	folders := make([]models.FolderEntry, 0, len(entries))
	for _, e := range entries {
		if !classify.IsFolder(e) {
			continue
		}
		folders = append(folders, models.FolderEntry{
			Name: e.Name,
			Path: prefix + e.Name,
		})
	}
	return folders
}

// View binds a gateway to one bucket for directory listings.
type View struct {
	Gateway Gateway
	Bucket  string
}

// NewView creates a view over bucket.
func NewView(gw Gateway, bucket string) *View {
	return &View{Gateway: gw, Bucket: bucket}
}

// ListFiles lists the files of dir, newest first. Each file carries its
// public URL as SignedURL.
func (v *View) ListFiles(ctx context.Context, dir string) ([]models.FileEntry, error) {
	entries, err := v.Gateway.List(ctx, v.Bucket, dir, ListOptions{SortBy: FileSort})
	if err != nil {
		return nil, err
	}
	return Files(entries, dir, func(path string) string {
		return v.Gateway.PublicURL(v.Bucket, path)
	}), nil
}

// ListFolders lists the folders of dir by name, descending.
func (v *View) ListFolders(ctx context.Context, dir string) ([]models.FolderEntry, error) {
	entries, err := v.Gateway.List(ctx, v.Bucket, dir, ListOptions{SortBy: FolderSort})
	if err != nil {
		return nil, err
	}
	return Folders(entries, dir), nil
}

// sortEntries orders entries in place for backends that do not sort
// themselves. Name breaks ties.
func sortEntries(entries []models.StorageEntry, by SortBy) {
	if by.Column == "" {
		by.Column = "name"
	}
	desc := strings.EqualFold(by.Order, OrderDesc)

	less := func(a, b models.StorageEntry) bool {
		switch by.Column {
		case "updated_at":
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		case "created_at":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case "last_accessed_at":
			if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
				return a.LastAccessedAt.Before(b.LastAccessedAt)
			}
		}
		return a.Name < b.Name
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
}

// page applies offset and limit to a sorted listing.
func page(entries []models.StorageEntry, opts ListOptions) []models.StorageEntry {
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return []models.StorageEntry{}
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries
}

// objectKey is the key format returned by Upload.
func objectKey(bucket, path string) string {
	return bucket + "/" + path
}

// publicURL renders <base>/storage/v1/object/public/<bucket>/<path>.
func publicURL(base, bucket, path string) string {
	return strings.TrimSuffix(base, "/") + "/storage/v1/object/public/" + bucket + "/" + path
}
