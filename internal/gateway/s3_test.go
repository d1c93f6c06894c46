package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

func newTestS3(t *testing.T, endpoint string) *S3 {
	t.Helper()
	cfg := config.S3Config{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		UsePathStyle: true,
		BucketPrefix: "stowage-",
	}
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", ""),
	})

	var buf bytes.Buffer
	return NewS3FromClient(client, cfg, 1024, events.NewTestLogger(events.DebugLevel, "json", &buf))
}

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		resource string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "no such key",
			err:      &types.NoSuchKey{},
			resource: "object",
			check: func(t *testing.T, err error) {
				var nf *models.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "object", nf.Resource)
			},
		},
		{
			name:     "no such bucket",
			err:      &types.NoSuchBucket{},
			resource: "object",
			check: func(t *testing.T, err error) {
				var nf *models.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "bucket", nf.Resource)
			},
		},
		{
			name:     "bucket owned",
			err:      &types.BucketAlreadyOwnedByYou{},
			resource: "bucket",
			check: func(t *testing.T, err error) {
				assert.True(t, models.IsConflict(err))
			},
		},
		{
			name:     "precondition failed",
			err:      &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"},
			resource: "bucket",
			check: func(t *testing.T, err error) {
				var ce *models.ConflictError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "a.png", ce.Path)
			},
		},
		{
			name:     "other",
			err:      errors.New("dial tcp: connection refused"),
			resource: "bucket",
			check: func(t *testing.T, err error) {
				var te *models.TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, "upload a.png", te.Op)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, mapS3Error("upload", tt.resource, "user-1", tt.err, "a.png"))
		})
	}
}

func TestS3PublicURL(t *testing.T) {
	g := newTestS3(t, "http://localhost:9000/")
	assert.Equal(t, "http://localhost:9000/stowage-user-1/My%20Docs/a.png", g.PublicURL("User-1", "My Docs/a.png"))

	g.cfg.Endpoint = ""
	assert.Equal(t, "https://stowage-user-1.s3.us-east-1.amazonaws.com/a.png", g.PublicURL("user-1", "a.png"))
}

// fakeS3 answers the handful of requests the gateway issues during setup
// and upload.
func fakeS3(t *testing.T, existing map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		switch r.Method {
		case http.MethodHead:
			if existing[key] {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func TestS3BucketSetup(t *testing.T) {
	server := fakeS3(t, map[string]bool{})
	defer server.Close()

	g := newTestS3(t, server.URL)
	ctx := context.Background()

	_, err := g.GetBucket(ctx, "user-1")
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bucket", nf.Resource)

	b, err := g.CreateBucket(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, "stowage-user-1", b.Name)
}

func TestS3UploadConflict(t *testing.T) {
	server := fakeS3(t, map[string]bool{"stowage-user-1/a.png": true})
	defer server.Close()

	g := newTestS3(t, server.URL)
	ctx := context.Background()

	_, err := g.Upload(ctx, "user-1", "a.png", strings.NewReader("x"), "image/png")
	assert.True(t, models.IsConflict(err))

	result, err := g.Upload(ctx, "user-1", "b.png", strings.NewReader("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "user-1/b.png", result.Key)

	_, err = g.Upload(ctx, "user-1", "c.png", strings.NewReader(strings.Repeat("x", 2048)), "image/png")
	assert.ErrorContains(t, err, "exceeds max file size")

	_, err = g.Upload(ctx, "user-1", "bad|key", strings.NewReader("x"), "")
	var ik *models.InvalidKeyError
	assert.ErrorAs(t, err, &ik)
}
