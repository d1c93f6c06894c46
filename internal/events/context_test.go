package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/stowage/internal/events"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := &events.Logger{}

	ctx = events.WithLogger(ctx, logger)
	retrieved := events.FromContext(ctx)

	assert.Equal(t, logger, retrieved)
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", events.GetRequestID(ctx))

	events.FromContext(ctx).Info("tagged")
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestWithNewRequestID(t *testing.T) {
	ctx := events.WithNewRequestID(context.Background())

	_, err := uuid.Parse(events.GetRequestID(ctx))
	assert.NoError(t, err)
}

func TestWithUserID(t *testing.T) {
	ctx := events.WithUserID(context.Background(), "user-456")

	assert.Equal(t, "user-456", events.GetUserID(ctx))
	assert.NotNil(t, events.FromContext(ctx))
}

func TestContextIDsEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetRequestID(ctx))
	assert.Empty(t, events.GetUserID(ctx))
}

func TestSetDefault(t *testing.T) {
	customLogger := &events.Logger{}
	events.SetDefault(customLogger)

	retrieved := events.FromContext(context.Background())

	assert.Equal(t, customLogger, retrieved)
}
