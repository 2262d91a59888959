// Package router consumes the inbound side of the bus and drives the
// agent loop, guaranteeing at most one in-flight run per session key.
package router

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/internal/tracing"
	"github.com/jaredwolff/patina/pkg/agent"
	"github.com/jaredwolff/patina/pkg/bus"
	"github.com/jaredwolff/patina/pkg/session"
)

// maxHistoryMessages caps a history response.
const maxHistoryMessages = 100

// Consolidator runs memory consolidation after a transcript outgrows
// the context window.
type Consolidator interface {
	Consolidate(ctx context.Context, key string, archiveAll bool) error
}

// entry tracks one session's run state. All fields are guarded by
// Router.mu.
type entry struct {
	running bool
	cancel  context.CancelFunc
	// queued holds at most one message waiting for the current run.
	queued *bus.InboundMessage
}

// Router dispatches inbound envelopes.
type Router struct {
	bus          *bus.Bus
	store        *session.Store
	loop         *agent.Loop
	consolidator Consolidator

	mu       sync.Mutex
	sessions map[string]*entry
	active   int

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a router. The consolidator may be nil.
func New(b *bus.Bus, store *session.Store, loop *agent.Loop, consolidator Consolidator, logger zerolog.Logger) *Router {
	return &Router{
		bus:          b,
		store:        store,
		loop:         loop,
		consolidator: consolidator,
		sessions:     make(map[string]*entry),
		logger:       logger.With().Str("component", "router").Logger(),
	}
}

// Run consumes the inbound queue until ctx is done, then waits for
// in-flight runs to finish.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info().Msg("router started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("router stopping")
			r.wg.Wait()
			return
		case msg := <-r.bus.Inbound():
			r.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one envelope by kind.
func (r *Router) dispatch(ctx context.Context, msg bus.InboundMessage) {
	msgCtx := tracing.NewRequestContext(ctx)
	msgCtx = tracing.WithChannel(msgCtx, msg.Channel)

	switch msg.Kind {
	case bus.KindMessage:
		r.handleMessage(msgCtx, msg)
	case bus.KindCancel:
		r.handleCancel(msg)
	case bus.KindHistory:
		r.handleHistory(msgCtx, msg)
	case bus.KindCreateSession:
		r.handleCreate(msgCtx, msg)
	case bus.KindDeleteSession:
		r.handleDelete(msgCtx, msg)
	default:
		r.logger.Warn().Str("kind", string(msg.Kind)).Msg("unknown envelope kind")
	}
}

const helpReply = "Hi! I'm Patina.\n\nSend me a message and I'll respond.\n\nCommands:\n/new - Start a new conversation\n/help - Show this help"

// handleMessage starts a run, queues one message behind a running
// session, and rejects further sends with a busy notice. Slash
// commands are handled here, ahead of the per-session run machinery.
func (r *Router) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	switch strings.TrimSpace(msg.Content) {
	case "/new":
		r.wg.Add(1)
		go r.resetSession(ctx, msg)
		return
	case "/help", "/start":
		r.bus.Broadcast(bus.NewOutbound(msg.Channel, msg.ChatID, helpReply))
		return
	}

	r.mu.Lock()
	ent, ok := r.sessions[key]
	if !ok {
		ent = &entry{}
		r.sessions[key] = ent
	}

	if ent.running {
		if ent.queued == nil {
			queued := msg
			ent.queued = &queued
			r.mu.Unlock()
			r.logger.Debug().Str("session_key", key).Msg("message queued behind running turn")
			return
		}
		r.mu.Unlock()

		observability.RecordRouterBusy()
		r.logger.Debug().Str("session_key", key).Msg("session busy, rejecting message")
		notice := bus.NewOutbound(msg.Channel, msg.ChatID, "Still working on your previous message, please wait.")
		notice.Event = bus.EventBusy
		r.bus.Broadcast(notice)
		return
	}

	r.start(ctx, ent, msg)
	r.mu.Unlock()
}

// start launches a run for msg. Caller holds r.mu.
func (r *Router) start(ctx context.Context, ent *entry, msg bus.InboundMessage) {
	runCtx, cancel := context.WithCancel(ctx)
	ent.running = true
	ent.cancel = cancel
	r.active++
	observability.SetActiveRuns(r.active)

	r.wg.Add(1)
	go r.runTurn(runCtx, msg)
}

// runTurn executes one agent run and delivers its single outbound
// reply, then promotes any queued message.
func (r *Router) runTurn(ctx context.Context, msg bus.InboundMessage) {
	defer r.wg.Done()
	key := msg.SessionKey()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	res, err := r.loop.Process(ctx, agent.Input{
		SessionKey: key,
		Content:    msg.Content,
		Persona:    msg.Persona,
		Stream:     r.streamHandler(msg),
	})

	out := bus.NewOutbound(msg.Channel, msg.ChatID, "")
	switch {
	case err != nil:
		logger.Error().Err(err).Str("session_key", key).Msg("agent run failed")
		out.Content = "Something went wrong processing your message."
		out.Event = bus.EventError
	case res.Outcome == agent.OutcomeCancelled:
		out.Content = res.Content
		out.Event = bus.EventCancelled
	case res.Outcome == agent.OutcomeError:
		out.Content = res.Content
		out.Event = bus.EventError
	default:
		out.Content = res.Content
	}
	r.bus.Broadcast(out)

	if err == nil && res.NeedsConsolidation && r.consolidator != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.consolidator.Consolidate(context.WithoutCancel(ctx), key, false); err != nil {
				logger.Warn().Err(err).Str("session_key", key).Msg("consolidation failed")
			}
		}()
	}

	r.finish(ctx, key)
}

// streamHandler forwards model deltas for channels that render them.
func (r *Router) streamHandler(msg bus.InboundMessage) agent.StreamHandler {
	if msg.Channel != "web" {
		return nil
	}
	return func(delta string) {
		out := bus.NewOutbound(msg.Channel, msg.ChatID, delta)
		out.Event = bus.EventDelta
		r.bus.Broadcast(out)
	}
}

// finish releases the session slot and starts the queued message, if
// any.
func (r *Router) finish(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.sessions[key]
	if !ok {
		return
	}

	if ent.cancel != nil {
		ent.cancel()
		ent.cancel = nil
	}
	ent.running = false
	r.active--
	observability.SetActiveRuns(r.active)

	if ent.queued != nil {
		next := *ent.queued
		ent.queued = nil
		// Detach from the finished run's context
		r.start(context.WithoutCancel(ctx), ent, next)
	}
}

// resetSession archives the transcript into long-term memory and
// starts the session over.
func (r *Router) resetSession(ctx context.Context, msg bus.InboundMessage) {
	defer r.wg.Done()
	key := msg.SessionKey()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sess, err := r.store.Load(ctx, key)
	if err != nil {
		logger.Error().Err(err).Str("session_key", key).Msg("failed to load session for reset")
		out := bus.NewOutbound(msg.Channel, msg.ChatID, "I couldn't load your session state. Try checking session file permissions.")
		out.Event = bus.EventError
		r.bus.Broadcast(out)
		return
	}

	if len(sess.Turns) > 0 && r.consolidator != nil {
		if err := r.consolidator.Consolidate(ctx, key, true); err != nil {
			logger.Warn().Err(err).Str("session_key", key).Msg("archive consolidation failed")
		}
	}

	if err := r.store.Delete(ctx, key); err != nil {
		logger.Error().Err(err).Str("session_key", key).Msg("failed to clear session")
		out := bus.NewOutbound(msg.Channel, msg.ChatID, "Failed to start a new session.")
		out.Event = bus.EventError
		r.bus.Broadcast(out)
		return
	}

	r.bus.Broadcast(bus.NewOutbound(msg.Channel, msg.ChatID,
		"New session started. Previous conversation has been saved to memory."))
}

// handleCancel cancels a session's in-flight run and drops its queued
// message.
func (r *Router) handleCancel(msg bus.InboundMessage) {
	key := msg.SessionKey()

	r.mu.Lock()
	ent, ok := r.sessions[key]
	if !ok || !ent.running {
		r.mu.Unlock()
		r.logger.Debug().Str("session_key", key).Msg("cancel with no run in flight")
		return
	}
	hadQueued := ent.queued != nil
	ent.queued = nil
	cancel := ent.cancel
	r.mu.Unlock()

	if hadQueued {
		r.bus.Broadcast(bus.NewOutbound(msg.Channel, msg.ChatID,
			"Your queued message was discarded."))
	}
	if cancel != nil {
		r.logger.Info().Str("session_key", key).Msg("cancelling run")
		cancel()
	}
}

// handleHistory answers with the recent transcript.
func (r *Router) handleHistory(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	sess, err := r.store.Load(ctx, key)
	if err != nil {
		r.logger.Error().Err(err).Str("session_key", key).Msg("failed to load history")
		out := bus.NewOutbound(msg.Channel, msg.ChatID, "Failed to load history.")
		out.Event = bus.EventError
		r.bus.Broadcast(out)
		return
	}

	window := sess.Window(maxHistoryMessages)
	entries := make([]bus.HistoryEntry, 0, len(window))
	for _, turn := range window {
		entries = append(entries, bus.HistoryEntry{
			Role:      turn.Role,
			Content:   turn.Content,
			Timestamp: turn.Timestamp,
		})
	}

	out := bus.NewOutbound(msg.Channel, msg.ChatID, "")
	out.Event = bus.EventHistory
	out.History = entries
	r.bus.Broadcast(out)
}

// handleCreate provisions session metadata, optionally with a persona.
func (r *Router) handleCreate(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	err := r.store.UpdateMeta(ctx, key, func(m *session.Metadata) {
		if msg.Persona != "" {
			m.Persona = msg.Persona
		}
	})
	if err != nil {
		r.logger.Error().Err(err).Str("session_key", key).Msg("failed to create session")
		out := bus.NewOutbound(msg.Channel, msg.ChatID, "Failed to create session.")
		out.Event = bus.EventError
		r.bus.Broadcast(out)
		return
	}

	out := bus.NewOutbound(msg.Channel, msg.ChatID, "")
	out.Event = bus.EventSessionCreated
	r.bus.Broadcast(out)
}

// handleDelete cancels any run and removes the session file.
func (r *Router) handleDelete(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	r.handleCancel(bus.InboundMessage{Kind: bus.KindCancel, Channel: msg.Channel, ChatID: msg.ChatID})

	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.Error().Err(err).Str("session_key", key).Msg("failed to delete session")
		out := bus.NewOutbound(msg.Channel, msg.ChatID, "Failed to delete session.")
		out.Event = bus.EventError
		r.bus.Broadcast(out)
		return
	}

	out := bus.NewOutbound(msg.Channel, msg.ChatID, "")
	out.Event = bus.EventSessionDeleted
	r.bus.Broadcast(out)
}
