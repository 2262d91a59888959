package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/jaredwolff/patina/internal/observability"
)

// DefaultTimeout bounds a tool execution when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Registry holds the tools available to the agent and executes them
// with parameter validation and a per-call timeout.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema

	timeout time.Duration
	logger  zerolog.Logger
}

// NewRegistry creates a tool registry.
func NewRegistry(timeout time.Duration, logger zerolog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: timeout,
		logger:  logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool, compiling its parameter schema.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for tool %s: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = schema
	r.logger.Debug().Str("tool", name).Msg("tool registered")
	return nil
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing definitions for all tools,
// sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool by name. Unknown tools, invalid parameters,
// execution errors, and timeouts all produce a failed Result whose
// Output describes the problem; the caller never sees a Go error for
// these cases.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return r.finish(Result{
			Tool:   name,
			Output: fmt.Sprintf("Error: unknown tool %q", name),
			Failed: true,
		}, start)
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	validation, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return r.finish(Result{
			Tool:   name,
			Output: fmt.Sprintf("Error: failed to validate parameters for %s: %v", name, err),
			Failed: true,
		}, start)
	}
	if !validation.Valid() {
		msg := fmt.Sprintf("Error: invalid parameters for %s:", name)
		for _, e := range validation.Errors() {
			msg += fmt.Sprintf(" %s;", e.String())
		}
		return r.finish(Result{Tool: name, Output: msg, Failed: true}, start)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := tool.Execute(execCtx, params)
		done <- outcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return r.finish(Result{
				Tool:   name,
				Output: fmt.Sprintf("Error: %v", out.err),
				Failed: true,
			}, start)
		}
		return r.finish(Result{Tool: name, Output: out.output}, start)
	case <-execCtx.Done():
		// The goroutine is left to finish on its own; its result is
		// discarded via the buffered channel.
		if ctx.Err() != nil {
			return r.finish(Result{
				Tool:   name,
				Output: fmt.Sprintf("Error: %s cancelled", name),
				Failed: true,
			}, start)
		}
		return r.finish(Result{
			Tool:   name,
			Output: fmt.Sprintf("Error: %s timed out after %s", name, r.timeout),
			Failed: true,
		}, start)
	}
}

func (r *Registry) finish(res Result, start time.Time) Result {
	res.Duration = time.Since(start)
	observability.RecordToolExecution(res.Tool, res.Duration, !res.Failed)

	evt := r.logger.Debug()
	if res.Failed {
		evt = r.logger.Warn()
	}
	evt.Str("tool", res.Tool).
		Dur("duration", res.Duration).
		Bool("failed", res.Failed).
		Msg("tool executed")

	return res
}
