package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the agent run ID
	RunIDKey ContextKey = "run_id"
	// SessionKeyKey is the context key for session key
	SessionKeyKey ContextKey = "session_key"
	// ChannelKey is the context key for the originating channel
	ChannelKey ContextKey = "channel"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	RunID      string
	SessionKey string
	Channel    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithChannel adds the originating channel name to the context
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	if sessionKey, ok := ctx.Value(SessionKeyKey).(string); ok {
		return sessionKey
	}
	return ""
}

// GetChannel retrieves the channel name from the context
func GetChannel(ctx context.Context) string {
	if channel, ok := ctx.Value(ChannelKey).(string); ok {
		return channel
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		RunID:      GetRunID(ctx),
		SessionKey: GetSessionKey(ctx),
		Channel:    GetChannel(ctx),
	}
}

// NewRequestContext creates a new context for an inbound message with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext creates a new context for a single agent run
func NewRunContext(ctx context.Context, sessionKey string) context.Context {
	ctx = WithRunID(ctx, NewRunID())
	return WithSessionKey(ctx, sessionKey)
}

// LoggerFromContext enriches a zerolog logger with tracing fields from the context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RunID != "" {
		baseLogger = baseLogger.With().Str("run_id", tc.RunID).Logger()
	}
	if tc.SessionKey != "" {
		baseLogger = baseLogger.With().Str("session_key", tc.SessionKey).Logger()
	}
	if tc.Channel != "" {
		baseLogger = baseLogger.With().Str("channel", tc.Channel).Logger()
	}

	return baseLogger
}
