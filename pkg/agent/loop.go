package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/internal/tracing"
	"github.com/jaredwolff/patina/pkg/session"
	"github.com/jaredwolff/patina/pkg/tools"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeFinal means the model produced a final text reply.
	OutcomeFinal Outcome = "final"
	// OutcomeMaxIterations means the iteration cap was reached.
	OutcomeMaxIterations Outcome = "max_iterations"
	// OutcomeCancelled means the run was cancelled mid-flight.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeError means a model call failed permanently.
	OutcomeError Outcome = "error"
)

// maxConsecutiveFailures trips the tool circuit breaker.
const maxConsecutiveFailures = 3

// maxCallAttempts bounds retries of a single model call.
const maxCallAttempts = 3

// reflectionPrompt nudges the model after each tool round.
const reflectionPrompt = "Reflect on the results and decide next steps."

// maxIterationsReply is the user-visible message for an exhausted run.
const maxIterationsReply = "I've been working on this but reached the maximum number of iterations. Here's what I've done so far."

// UsageRecorder receives per-call token accounting.
type UsageRecorder interface {
	RecordModelCall(sessionKey, provider, model string, usage Usage)
}

// Config holds agent loop settings.
type Config struct {
	Model          string
	MaxIterations  int
	MemoryWindow   int
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration
}

// Loop drives the iterate-call-execute cycle for one session at a
// time. It owns no routing state; the router guarantees at most one
// concurrent run per session.
type Loop struct {
	provider Provider
	registry *tools.Registry
	store    *session.Store
	builder  *ContextBuilder
	usage    UsageRecorder
	cfg      Config
	logger   zerolog.Logger
}

// NewLoop creates an agent loop.
func NewLoop(cfg Config, provider Provider, registry *tools.Registry, store *session.Store, builder *ContextBuilder, usage UsageRecorder, logger zerolog.Logger) (*Loop, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}

	return &Loop{
		provider: provider,
		registry: registry,
		store:    store,
		builder:  builder,
		usage:    usage,
		cfg:      cfg,
		logger:   logger.With().Str("component", "agent").Logger(),
	}, nil
}

// Input is one inbound user message for a session.
type Input struct {
	SessionKey string
	Content    string
	Persona    string
	// Stream, when set, receives text deltas of the final reply.
	Stream StreamHandler
}

// Result is the outcome of one run. Content is the single user-visible
// message the caller delivers.
type Result struct {
	Outcome   Outcome
	Content   string
	ToolsUsed []string
	Usage     Usage
	// NeedsConsolidation signals the transcript outgrew the context
	// window and memory consolidation should run.
	NeedsConsolidation bool
}

// Process runs the agent loop for one user message. The user turn is
// persisted before the first model call so a crash never loses input.
// Cancellation via ctx yields OutcomeCancelled without persisting a
// partial reply.
func (l *Loop) Process(ctx context.Context, in Input) (*Result, error) {
	ctx = tracing.NewRunContext(ctx, in.SessionKey)
	ctx, span := tracing.StartSpan(ctx, "agent", "agent.process")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)
	start := time.Now()

	// The user turn must survive even a cancellation racing the run
	// start, so persistence runs on a detached context.
	storeCtx := context.WithoutCancel(ctx)

	sess, err := l.store.Load(storeCtx, in.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	persona := in.Persona
	if persona == "" {
		persona = sess.Meta.Persona
	}

	// Durability before the first model call
	if err := l.store.AppendTurn(storeCtx, in.SessionKey, session.NewTurn("user", in.Content)); err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}

	systemPrompt, err := l.builder.BuildSystemPrompt(persona)
	if err != nil {
		return nil, fmt.Errorf("failed to build system prompt: %w", err)
	}

	messages := l.builder.BuildMessages(sess.Window(l.cfg.MemoryWindow), in.Content)

	res := l.run(ctx, logger, in, systemPrompt, messages)
	res.NeedsConsolidation = l.cfg.MemoryWindow > 0 && len(sess.Turns)+2 > l.cfg.MemoryWindow

	// Cancelled runs persist nothing beyond the user turn
	if res.Outcome != OutcomeCancelled {
		turn := session.NewTurn("assistant", res.Content)
		turn.ToolsUsed = res.ToolsUsed
		if err := l.store.AppendTurn(storeCtx, in.SessionKey, turn); err != nil {
			logger.Error().Err(err).Msg("failed to persist assistant turn")
		}
	}

	observability.RecordAgentRun(l.provider.Name(), string(res.Outcome), time.Since(start))
	logger.Info().
		Str("outcome", string(res.Outcome)).
		Int("tools_used", len(res.ToolsUsed)).
		Dur("duration", time.Since(start)).
		Msg("agent run finished")

	return res, nil
}

// run executes the bounded iteration cycle.
func (l *Loop) run(ctx context.Context, logger zerolog.Logger, in Input, systemPrompt string, messages []Message) *Result {
	res := &Result{}
	toolDefs := l.registry.Definitions()
	consecutiveFailures := 0
	lastToolError := ""

	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.Content = "Request cancelled."
			return res
		}

		response, err := l.call(ctx, Request{
			Model:        l.cfg.Model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        toolDefs,
			Temperature:  l.cfg.Temperature,
			MaxTokens:    l.cfg.MaxTokens,
		}, in.Stream)
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome = OutcomeCancelled
				res.Content = "Request cancelled."
				return res
			}
			logger.Error().Err(err).Int("iteration", iteration).Msg("model call failed")
			res.Outcome = OutcomeError
			res.Content = fmt.Sprintf("I ran into an error processing your request: %v", err)
			return res
		}

		res.Usage.Add(response.Usage)
		if l.usage != nil {
			l.usage.RecordModelCall(in.SessionKey, l.provider.Name(), l.cfg.Model, response.Usage)
		}

		if len(response.ToolCalls) == 0 {
			content := response.Content
			if content == "" {
				content = "I've completed processing but have no response to give."
			}
			res.Outcome = OutcomeFinal
			res.Content = content
			return res
		}

		logger.Debug().
			Int("iteration", iteration).
			Int("tool_calls", len(response.ToolCalls)).
			Msg("executing tool calls")

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		results := l.executeToolCalls(ctx, response.ToolCalls)

		iterationSucceeded := false
		for i, result := range results {
			res.ToolsUsed = append(res.ToolsUsed, response.ToolCalls[i].Name)
			if result.Failed {
				lastToolError = result.Output
			} else {
				iterationSucceeded = true
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    result.Output,
				ToolCallID: response.ToolCalls[i].ID,
			})
		}

		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.Content = "Request cancelled."
			return res
		}

		// Circuit breaker: a model stuck on malformed tool calls gets
		// cut off instead of burning the whole iteration budget.
		if iterationSucceeded {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveFailures {
				logger.Warn().
					Int("consecutive_failures", consecutiveFailures).
					Msg("tool circuit breaker tripped")
				res.Outcome = OutcomeFinal
				res.Content = fmt.Sprintf(
					"I'm having trouble using a tool correctly and had to stop retrying. Last error: %s. Could you try rephrasing your request?",
					lastToolError)
				return res
			}
		}

		messages = append(messages, Message{Role: "user", Content: reflectionPrompt})
	}

	logger.Warn().Int("max_iterations", l.cfg.MaxIterations).Msg("iteration budget exhausted")
	res.Outcome = OutcomeMaxIterations
	res.Content = maxIterationsReply
	return res
}

// call invokes the provider with a per-call timeout, retrying
// transient failures with exponential backoff.
func (l *Loop) call(ctx context.Context, req Request, stream StreamHandler) (*Response, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt < maxCallAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
		callStart := time.Now()

		var response *Response
		var err error
		if stream != nil {
			response, err = l.provider.Stream(callCtx, req, stream)
		} else {
			response, err = l.provider.Complete(callCtx, req)
		}
		cancel()

		if err == nil {
			observability.RecordModelCall(l.provider.Name(), time.Since(callStart), response.Usage.InputTokens, response.Usage.OutputTokens)
			return response, nil
		}

		lastErr = err
		if ctx.Err() != nil || !IsRetryableError(err) {
			return nil, err
		}

		l.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("retrying model call")
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w", maxCallAttempts, lastErr)
}

// executeToolCalls runs an iteration's tool calls concurrently,
// preserving result order.
func (l *Loop) executeToolCalls(ctx context.Context, calls []ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = l.registry.Execute(ctx, call.Name, call.Parameters)
		}(i, call)
	}
	wg.Wait()

	return results
}
