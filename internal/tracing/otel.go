package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs a process-wide tracer provider for the
// given service. Repeat calls are no-ops; the first provider wins.
func InitOpenTelemetry(serviceName string) error {
	providerMu.Lock()
	defer providerMu.Unlock()
	if provider != nil {
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// ShutdownOpenTelemetry flushes and shuts down the installed provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer and mirrors its trace ID
// into the request-context fields when none is set yet.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
