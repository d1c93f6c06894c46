package testutil

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
)

// MockGateway mocks gateway.Gateway with testify expectations.
type MockGateway struct {
	mock.Mock
}

var _ gateway.Gateway = (*MockGateway)(nil)

// NewMockGateway creates a mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) List(ctx context.Context, bucket, prefix string, opts gateway.ListOptions) ([]models.StorageEntry, error) {
	args := m.Called(ctx, bucket, prefix, opts)
	if entries := args.Get(0); entries != nil {
		return entries.([]models.StorageEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) (models.UploadResult, error) {
	args := m.Called(ctx, bucket, path, body, contentType)
	return args.Get(0).(models.UploadResult), args.Error(1)
}

func (m *MockGateway) Move(ctx context.Context, bucket, from, to string) (string, error) {
	args := m.Called(ctx, bucket, from, to)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) Delete(ctx context.Context, bucket string, paths []string) ([]models.DeletedObject, error) {
	args := m.Called(ctx, bucket, paths)
	if deleted := args.Get(0); deleted != nil {
		return deleted.([]models.DeletedObject), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, bucket, path, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) SignedURLs(ctx context.Context, bucket string, paths []string, ttl time.Duration) ([]models.SignedURL, error) {
	args := m.Called(ctx, bucket, paths, ttl)
	if urls := args.Get(0); urls != nil {
		return urls.([]models.SignedURL), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Download(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, path)
	if body := args.Get(0); body != nil {
		return body.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) PublicURL(bucket, path string) string {
	return "http://mock.local/storage/v1/object/public/" + bucket + "/" + path
}

func (m *MockGateway) GetBucket(ctx context.Context, id string) (models.Bucket, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Bucket), args.Error(1)
}

func (m *MockGateway) CreateBucket(ctx context.Context, id string, public bool) (models.Bucket, error) {
	args := m.Called(ctx, id, public)
	return args.Get(0).(models.Bucket), args.Error(1)
}
