package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOpenTelemetryInstallsProvider(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("patina-test"))

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "expected the SDK tracer provider to be installed globally")

	// Repeat init keeps the first provider.
	first := otel.GetTracerProvider()
	require.NoError(t, InitOpenTelemetry("patina-test-again"))
	assert.Same(t, first, otel.GetTracerProvider())
}

func TestStartSpanRecordsWithProvider(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("patina-test"))

	ctx, span := StartSpan(context.Background(), "test-tracer", "test-span")
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestShutdownOpenTelemetry(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("patina-test"))
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
}
