package tools

import (
	"context"
	"time"
)

// Tool is a capability the agent can invoke. Execute returns the
// payload fed back to the model; an error result is also fed back, as
// text, rather than aborting the run.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (string, error)
}

// Definition is the provider-facing description of a tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema"`
}

// Result is the outcome of a single tool invocation. Failed results
// carry the error text in Output so the model can react to it.
type Result struct {
	Tool     string
	Output   string
	Failed   bool
	Duration time.Duration
}
