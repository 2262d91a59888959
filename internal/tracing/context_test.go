package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionKey(ctx, "telegram:42")
	ctx = WithChannel(ctx, "telegram")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, "telegram:42", tc.SessionKey)
	assert.Equal(t, "telegram", tc.Channel)
}

func TestEmptyContext(t *testing.T) {
	tc := FromContext(context.Background())
	assert.Empty(t, tc.TraceID)
	assert.Empty(t, tc.RunID)
	assert.Empty(t, tc.SessionKey)
	assert.Empty(t, tc.Channel)
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "cli:direct")
	assert.NotEmpty(t, GetRunID(ctx))
	assert.Equal(t, "cli:direct", GetSessionKey(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = WithSessionKey(ctx, "web:main")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, "trace-abc")
	assert.Contains(t, out, "web:main")
}
