package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
)

// S3 stores each user bucket as one S3 bucket. It works against AWS, MinIO
// and LocalStack.
type S3 struct {
	client   *s3.Client
	presign  *s3.PresignClient
	cfg      config.S3Config
	logger   *events.Logger
	maxBytes int64
}

// NewS3 creates an S3 gateway from cfg. Static credentials are used when
// both keys are set, the default AWS chain otherwise.
func NewS3(ctx context.Context, cfg config.S3Config, maxFileSize int64, logger *events.Logger) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3FromClient(client, cfg, maxFileSize, logger), nil
}

// NewS3FromClient wraps an existing client.
func NewS3FromClient(client *s3.Client, cfg config.S3Config, maxFileSize int64, logger *events.Logger) *S3 {
	return &S3{
		client:   client,
		presign:  s3.NewPresignClient(client),
		cfg:      cfg,
		logger:   logger.WithField("component", "s3_gateway"),
		maxBytes: maxFileSize,
	}
}

// bucketName maps a user bucket id onto an S3 bucket name.
func (g *S3) bucketName(id string) string {
	return strings.ToLower(g.cfg.BucketPrefix + id)
}

// List returns the direct children of prefix. Common prefixes become folder
// entries without metadata.
func (g *S3) List(ctx context.Context, bucket, prefix string, opts ListOptions) ([]models.StorageEntry, error) {
	p := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(g.bucketName(bucket)),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	entries := []models.StorageEntry{}
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("list", "bucket", bucket, err)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, models.StorageEntry{Name: name})
			}
		}

		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			modified := aws.ToTime(obj.LastModified)
			entries = append(entries, models.StorageEntry{
				ID:       strings.Trim(aws.ToString(obj.ETag), `"`),
				Name:     name,
				BucketID: bucket,
				OwnerID:  bucket,
				Metadata: &models.Metadata{
					Size: aws.ToInt64(obj.Size),
				},
				CreatedAt:      modified,
				UpdatedAt:      modified,
				LastAccessedAt: modified,
			})
		}
	}

	if opts.Search != "" {
		entries = filterByName(entries, opts.Search)
	}
	sortEntries(entries, opts.SortBy)
	return page(entries, opts), nil
}

// Upload writes a new object. An existing key is a conflict.
func (g *S3) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) (models.UploadResult, error) {
	if !paths.ValidKey(path) {
		return models.UploadResult{}, &models.InvalidKeyError{Key: path}
	}

	exists, err := g.exists(ctx, bucket, path)
	if err != nil {
		return models.UploadResult{}, err
	}
	if exists {
		return models.UploadResult{}, &models.ConflictError{Path: path}
	}

	// The SDK needs a seekable body to sign the payload.
	if g.maxBytes > 0 {
		body = io.LimitReader(body, g.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("read upload body: %w", err)
	}
	if g.maxBytes > 0 && int64(len(data)) > g.maxBytes {
		return models.UploadResult{}, fmt.Errorf("upload %s: exceeds max file size of %d bytes", path, g.maxBytes)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(g.bucketName(bucket)),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := g.client.PutObject(ctx, input); err != nil {
		return models.UploadResult{}, mapS3Error("upload", "bucket", bucket, err, path)
	}

	return models.UploadResult{Key: objectKey(bucket, path)}, nil
}

// Move copies from to to and removes the source.
func (g *S3) Move(ctx context.Context, bucket, from, to string) (string, error) {
	if !paths.ValidKey(to) {
		return "", &models.InvalidKeyError{Key: to}
	}

	exists, err := g.exists(ctx, bucket, from)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &models.NotFoundError{Resource: "object", Path: from}
	}

	name := g.bucketName(bucket)
	_, err = g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(name),
		CopySource: aws.String(name + "/" + escapeKey(from)),
		Key:        aws.String(to),
	})
	if err != nil {
		return "", mapS3Error("move", "object", from, err, to)
	}

	if _, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(name),
		Key:    aws.String(from),
	}); err != nil {
		return "", mapS3Error("move", "object", from, err)
	}

	return "Successfully moved", nil
}

// Delete removes keys. S3 confirms deletes of missing keys, so keys are
// checked first and only existing ones are reported.
func (g *S3) Delete(ctx context.Context, bucket string, keys []string) ([]models.DeletedObject, error) {
	var present []types.ObjectIdentifier
	for _, key := range keys {
		exists, err := g.exists(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		if exists {
			present = append(present, types.ObjectIdentifier{Key: aws.String(key)})
		}
	}

	deleted := []models.DeletedObject{}
	if len(present) == 0 {
		return deleted, nil
	}

	out, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(g.bucketName(bucket)),
		Delete: &types.Delete{Objects: present},
	})
	if err != nil {
		return nil, mapS3Error("delete", "bucket", bucket, err)
	}

	for _, d := range out.Deleted {
		deleted = append(deleted, models.DeletedObject{Name: aws.ToString(d.Key)})
	}
	for _, e := range out.Errors {
		g.logger.WithFields(map[string]interface{}{
			"key":  aws.ToString(e.Key),
			"code": aws.ToString(e.Code),
		}).Warn("Object not deleted")
	}
	return deleted, nil
}

// SignedURL presigns a GET for path.
func (g *S3) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	exists, err := g.exists(ctx, bucket, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", &models.NotFoundError{Resource: "object", Path: path}
	}
	return g.sign(ctx, bucket, path, ttl)
}

func (g *S3) sign(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucketName(bucket)),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapS3Error("sign", "object", path, err)
	}
	return req.URL, nil
}

// SignedURLs presigns each path. Missing objects are reported per entry.
func (g *S3) SignedURLs(ctx context.Context, bucket string, keys []string, ttl time.Duration) ([]models.SignedURL, error) {
	out := make([]models.SignedURL, 0, len(keys))
	for _, key := range keys {
		u, err := g.SignedURL(ctx, bucket, key, ttl)
		switch {
		case models.IsNotFound(err):
			out = append(out, models.SignedURL{Path: key, Error: err.Error()})
		case err != nil:
			return nil, err
		default:
			out = append(out, models.SignedURL{Path: key, URL: u})
		}
	}
	return out, nil
}

// Download streams the object content.
func (g *S3) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucketName(bucket)),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, mapS3Error("download", "object", path, err)
	}
	return out.Body, nil
}

// PublicURL renders a path-style URL on the configured endpoint, or the
// virtual-hosted AWS URL when no endpoint is set.
func (g *S3) PublicURL(bucket, path string) string {
	if g.cfg.Endpoint != "" {
		return strings.TrimSuffix(g.cfg.Endpoint, "/") + "/" + g.bucketName(bucket) + "/" + escapeKey(path)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", g.bucketName(bucket), g.cfg.Region, escapeKey(path))
}

// GetBucket checks that the bucket exists.
func (g *S3) GetBucket(ctx context.Context, id string) (models.Bucket, error) {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(g.bucketName(id)),
	})
	if err != nil {
		return models.Bucket{}, mapS3Error("get bucket", "bucket", id, err)
	}
	return models.Bucket{ID: id, Name: g.bucketName(id), Owner: id}, nil
}

// CreateBucket creates the S3 bucket for id. Public access is not managed
// here; S3 buckets are private unless a policy says otherwise.
func (g *S3) CreateBucket(ctx context.Context, id string, public bool) (models.Bucket, error) {
	if id == "" || !paths.ValidKey(id) {
		return models.Bucket{}, &models.InvalidKeyError{Key: id}
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(g.bucketName(id))}
	if g.cfg.Region != "" && g.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(g.cfg.Region),
		}
	}

	if _, err := g.client.CreateBucket(ctx, input); err != nil {
		return models.Bucket{}, mapS3Error("create bucket", "bucket", id, err)
	}

	if public {
		g.logger.WithField("bucket", id).Warn("Public access must be granted by a bucket policy")
	}

	now := time.Now()
	return models.Bucket{ID: id, Name: g.bucketName(id), Owner: id, Public: public, CreatedAt: now, UpdatedAt: now}, nil
}

// Search lists the whole bucket and matches names case-insensitively.
func (g *S3) Search(ctx context.Context, bucket, keyword string, limit int) ([]models.SearchResult, error) {
	p := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucketName(bucket)),
	})

	objects := make(map[string]types.Object)
	var keys []string
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error("search", "bucket", bucket, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			objects[key] = obj
			keys = append(keys, key)
		}
	}

	return searchKeys(keys, keyword, limit, func(key string) models.SearchResult {
		obj := objects[key]
		modified := aws.ToTime(obj.LastModified)
		return models.SearchResult{
			ID:             strings.Trim(aws.ToString(obj.ETag), `"`),
			BucketID:       bucket,
			OwnerID:        bucket,
			Metadata:       models.Metadata{Size: aws.ToInt64(obj.Size)},
			CreatedAt:      modified,
			UpdatedAt:      modified,
			LastAccessedAt: modified,
		}
	}), nil
}

func (g *S3) exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucketName(bucket)),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	mapped := mapS3Error("head", "object", key, err)
	var nf *models.NotFoundError
	if errors.As(mapped, &nf) && nf.Resource == "object" {
		return false, nil
	}
	return false, mapped
}

// mapS3Error maps SDK errors onto the error taxonomy.
func mapS3Error(op, resource, name string, err error, conflictPath ...string) error {
	target := name
	if len(conflictPath) > 0 {
		target = conflictPath[0]
	}

	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
		owned        *types.BucketAlreadyOwnedByYou
		taken        *types.BucketAlreadyExists
	)
	switch {
	case errors.As(err, &noSuchBucket):
		return &models.NotFoundError{Resource: "bucket", Path: name, Err: err}
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return &models.NotFoundError{Resource: resource, Path: name, Err: err}
	case errors.As(err, &owned), errors.As(err, &taken):
		return &models.ConflictError{Path: target, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return &models.NotFoundError{Resource: "bucket", Path: name, Err: err}
		case "NotFound", "NoSuchKey":
			return &models.NotFoundError{Resource: resource, Path: name, Err: err}
		case "PreconditionFailed", "ConditionalRequestConflict":
			return &models.ConflictError{Path: target, Err: err}
		}
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return &models.NotFoundError{Resource: resource, Path: name, Err: err}
	}

	return &models.TransportError{Op: fmt.Sprintf("%s %s", op, target), Err: err}
}
