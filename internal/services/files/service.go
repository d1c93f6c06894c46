// Package files binds the storage gateway, the navigator and the local
// download store into the operations of the file browser.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/stowage/internal/classify"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/navigation"
	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/reconcile"
	"github.com/TheMichaelB/stowage/internal/storage"
)

// Options tune a Service.
type Options struct {
	MaxConcurrent int
	SignedURLTTL  time.Duration
	PublicBucket  bool
}

// UploadItem is one file handed to Upload.
type UploadItem struct {
	Name        string
	Body        io.Reader
	Size        int64
	ContentType string
}

// Service runs file operations for one user.
type Service struct {
	gateway gateway.Gateway
	view    *gateway.View
	nav     *navigation.Navigator
	store   storage.Store
	bucket  string
	opts    Options
	logger  *events.Logger
	now     func() time.Time
}

// NewService creates a file service for bucket. store receives downloads.
func NewService(gw gateway.Gateway, bucket string, store storage.Store, opts Options, logger *events.Logger) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = gateway.DefaultSignedURLTTL
	}

	logger = logger.WithFields(map[string]interface{}{
		"service": "files",
		"bucket":  bucket,
	})
	view := gateway.NewView(gw, bucket)

	return &Service{
		gateway: gw,
		view:    view,
		nav:     navigation.New(view, logger),
		store:   store,
		bucket:  bucket,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Bucket returns the bucket the service works in.
func (s *Service) Bucket() string {
	return s.bucket
}

// State returns the current directory listing.
func (s *Service) State() navigation.State {
	return s.nav.Snapshot()
}

// Navigate makes raw the current directory.
func (s *Service) Navigate(ctx context.Context, raw string) (navigation.State, error) {
	return s.nav.Navigate(ctx, raw)
}

// Up navigates to the parent directory.
func (s *Service) Up(ctx context.Context) (navigation.State, error) {
	return s.nav.Up(ctx)
}

// Refresh lists the current directory again.
func (s *Service) Refresh(ctx context.Context) (navigation.State, error) {
	return s.nav.Refresh(ctx)
}

// Open navigates into a folder, or returns the preview URL of a file.
func (s *Service) Open(ctx context.Context, e models.Entry) (string, error) {
	switch entry := e.(type) {
	case models.FolderEntry:
		_, err := s.nav.Open(ctx, entry.Name)
		return "", err
	case models.FileEntry:
		if entry.SignedURL != "" {
			return entry.SignedURL, nil
		}
		return s.gateway.PublicURL(s.bucket, entry.Path), nil
	}
	return "", fmt.Errorf("unknown entry type %T", e)
}

// Find returns the entry of the current listing called name.
func (s *Service) Find(name string) (models.Entry, bool) {
	st := s.nav.Snapshot()
	name = strings.TrimSuffix(name, "/")
	for _, f := range st.Folders {
		if f.Name == name || f.Path == name {
			return f, true
		}
	}
	for _, f := range st.Files {
		if f.Name == name || f.Path == name {
			return f, true
		}
	}
	return nil, false
}

// Upload stores items in the current directory. Uploads run concurrently
// and independently: a failed item never cancels its siblings. The listing
// gains an entry for every confirmed upload.
func (s *Service) Upload(ctx context.Context, items []UploadItem) (reconcile.UploadReport, error) {
	dir := s.nav.Path()

	s.logger.WithFields(map[string]interface{}{
		"dir":   dir,
		"count": len(items),
	}).Info("Uploading files")

	results := make([]*models.UploadResult, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrent)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			// Names are single segments; nested keys would not match
			// their confirmation.
			if item.Name == "" || strings.Contains(item.Name, "/") {
				errs[i] = &models.InvalidKeyError{Key: item.Name}
				return nil
			}
			key := paths.Join(dir, item.Name)
			if !paths.ValidKey(key) {
				errs[i] = &models.InvalidKeyError{Key: key}
				return nil
			}

			res, err := s.gateway.Upload(ctx, s.bucket, key, item.Body, item.ContentType)
			if err != nil {
				errs[i] = fmt.Errorf("upload %s: %w", item.Name, err)
				s.logger.WithError(err).WithField("key", key).Warn("Upload failed")
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	submitted := make([]reconcile.Submission, len(items))
	confirmed := make([]models.UploadResult, 0, len(items))
	for i, item := range items {
		submitted[i] = reconcile.Submission{
			Name:     item.Name,
			Size:     item.Size,
			MimeType: item.ContentType,
		}
		if results[i] != nil {
			confirmed = append(confirmed, *results[i])
		}
	}

	uc := reconcile.UploadContext{
		BucketID: s.bucket,
		OwnerID:  s.bucket,
		Now:      s.now().UTC(),
	}
	if s.opts.PublicBucket {
		uc.PublicURL = func(p string) string { return s.gateway.PublicURL(s.bucket, p) }
	}

	var report reconcile.UploadReport
	applied := s.nav.Apply(dir, func(l models.Listing) models.Listing {
		var out models.Listing
		out, report = reconcile.ApplyUpload(l, dir, submitted, confirmed, uc)
		return out
	})
	if !applied {
		_, report = reconcile.ApplyUpload(models.Listing{}, dir, submitted, confirmed, uc)
	}

	s.logger.WithFields(map[string]interface{}{
		"confirmed": report.Confirmed,
		"requested": report.Requested,
	}).Info(report.Message)

	err := errors.Join(errs...)
	if perr := report.Err(); perr != nil {
		err = errors.Join(perr, err)
	}
	return report, err
}

// Rename gives a file a new name in its directory, keeping its extension.
func (s *Service) Rename(ctx context.Context, e models.Entry, newName string) (models.Entry, error) {
	if e.Kind() == models.KindFolder {
		return nil, fmt.Errorf("rename %s: %w", e.EntryPath(), models.ErrFolderUnsupported)
	}
	file := e.(models.FileEntry)

	name, target := classify.RenameTarget(e, newName)
	if !paths.ValidKey(target) {
		return nil, &models.InvalidKeyError{Key: target}
	}

	s.logger.WithFields(map[string]interface{}{
		"from": file.Path,
		"to":   target,
	}).Info("Renaming file")

	if _, err := s.gateway.Move(ctx, s.bucket, file.Path, target); err != nil {
		return nil, fmt.Errorf("rename %s: %w", file.Path, err)
	}

	s.nav.Apply(classify.ParentDir(e), func(l models.Listing) models.Listing {
		return reconcile.ApplyRename(l, file.Path, name, target)
	})

	file.Name = name
	file.Path = target
	return file, nil
}

// Delete removes files. Folders are rejected before anything is sent.
func (s *Service) Delete(ctx context.Context, entries []models.Entry) (reconcile.DeleteReport, error) {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Kind() == models.KindFolder {
			return reconcile.DeleteReport{}, fmt.Errorf("delete %s: %w", e.EntryPath(), models.ErrFolderUnsupported)
		}
		keys = append(keys, e.EntryPath())
	}
	if len(keys) == 0 {
		return reconcile.DeleteReport{}, nil
	}

	s.logger.WithField("count", len(keys)).Info("Deleting files")

	deleted, err := s.gateway.Delete(ctx, s.bucket, keys)
	if err != nil {
		return reconcile.DeleteReport{}, fmt.Errorf("delete: %w", err)
	}

	var report reconcile.DeleteReport
	dir := s.nav.Path()
	applied := s.nav.Apply(dir, func(l models.Listing) models.Listing {
		var out models.Listing
		out, report = reconcile.ApplyDelete(l, keys, deleted)
		return out
	})
	if !applied {
		_, report = reconcile.ApplyDelete(models.Listing{}, keys, deleted)
	}

	return report, report.Err()
}

// Share returns a signed URL for key valid for ttl, or the configured
// default when ttl is zero.
func (s *Service) Share(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.opts.SignedURLTTL
	}

	u, err := s.gateway.SignedURL(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("share %s: %w", key, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"key": key,
		"ttl": ttl.String(),
	}).Debug("Signed URL created")
	return u, nil
}

// Download copies the object at key into dst, or into the service's store
// when dst is nil. It returns the local path written, "" when the store
// skipped an existing file.
func (s *Service) Download(ctx context.Context, key string, dst storage.Store) (string, error) {
	if strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("download %s: %w", key, models.ErrFolderUnsupported)
	}
	if dst == nil {
		dst = s.store
	}

	body, err := s.gateway.Download(ctx, s.bucket, key)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	defer body.Close()

	local, err := dst.Save(path.Base(key), body)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", key, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"path": local,
	}).Info("Downloaded file")
	return local, nil
}

// EnsureBucket creates the user's bucket when it is missing. It reports
// whether the bucket was created.
func (s *Service) EnsureBucket(ctx context.Context) (bool, error) {
	if _, err := s.gateway.GetBucket(ctx, s.bucket); err == nil {
		return false, nil
	} else if !models.IsNotFound(err) {
		return false, fmt.Errorf("get bucket: %w", err)
	}

	if !paths.ValidKey(s.bucket) {
		return false, &models.InvalidKeyError{Key: s.bucket}
	}

	s.logger.WithField("public", s.opts.PublicBucket).Info("Creating bucket")

	if _, err := s.gateway.CreateBucket(ctx, s.bucket, s.opts.PublicBucket); err != nil {
		if models.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("create bucket: %w", err)
	}
	return true, nil
}

// Reset drops the navigation state. It is called on sign-out.
func (s *Service) Reset() {
	s.nav.Reset()
}
