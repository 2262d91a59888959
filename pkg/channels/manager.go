package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/pkg/bus"
)

// Manager owns the registered channel adapters and routes outbound bus
// traffic to them by channel name.
type Manager struct {
	bus    *bus.Bus
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates a channel manager.
func NewManager(b *bus.Bus, logger zerolog.Logger) (*Manager, error) {
	if b == nil {
		return nil, fmt.Errorf("bus is required")
	}
	return &Manager{
		bus:      b,
		channels: make(map[string]Channel),
		logger:   logger.With().Str("component", "channels").Logger(),
	}, nil
}

// Register adds a channel adapter.
func (m *Manager) Register(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is required")
	}
	name := strings.TrimSpace(ch.Name())
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	return nil
}

// Names returns sorted registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up a channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered adapter. The first failure stops
// already-started adapters and is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	var started []Channel
	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		if err := ch.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.Stop(ctx)
			}
			return fmt.Errorf("failed to start channel %s: %w", name, err)
		}
		m.logger.Info().Str("channel", name).Msg("channel started")
		started = append(started, ch)
	}
	return nil
}

// StopAll stops every registered adapter, logging failures.
func (m *Manager) StopAll(ctx context.Context) {
	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		if err := ch.Stop(ctx); err != nil {
			m.logger.Warn().Err(err).Str("channel", name).Msg("failed to stop channel")
		}
	}
}

// Run consumes outbound bus traffic and delivers each message to its
// channel adapter until ctx is done. Messages for unregistered
// channels (like the web gateway, which keeps its own subscription)
// are skipped.
func (m *Manager) Run(ctx context.Context) error {
	outbound, unsubscribe, err := m.bus.Subscribe("channels")
	if err != nil {
		return fmt.Errorf("failed to subscribe channel manager: %w", err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-outbound:
			if !ok {
				return nil
			}
			m.deliver(ctx, msg)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	// Streaming deltas are only rendered by the web gateway.
	if msg.Event == bus.EventDelta {
		return
	}

	ch, ok := m.Get(msg.Channel)
	if !ok {
		return
	}

	if err := ch.Send(ctx, msg); err != nil {
		m.logger.Error().Err(err).
			Str("channel", msg.Channel).
			Str("chat_id", msg.ChatID).
			Msg("failed to deliver outbound message")
		return
	}
	observability.RecordChannelMessage(msg.Channel, "outbound")
}
