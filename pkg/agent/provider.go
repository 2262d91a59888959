package agent

import (
	"context"
	"fmt"
)

// StreamHandler receives text fragments as the model produces them.
type StreamHandler func(delta string)

// Provider is a model backend.
type Provider interface {
	// Name returns the provider identifier (anthropic, openai).
	Name() string
	// Complete makes a blocking model call.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream makes a model call delivering text deltas to fn as they
	// arrive. The returned response carries the full accumulated
	// result.
	Stream(ctx context.Context, req Request, fn StreamHandler) (*Response, error)
}

// NewProvider builds a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
}
