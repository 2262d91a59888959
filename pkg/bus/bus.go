package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
)

// ErrBusFull is returned by TryPublish when the inbound queue is at capacity.
var ErrBusFull = fmt.Errorf("inbound queue full")

// ErrBusClosed is returned when publishing to a closed bus.
var ErrBusClosed = fmt.Errorf("bus closed")

// subscriber holds one outbound fan-out target.
type subscriber struct {
	name string
	ch   chan OutboundMessage
}

// Bus connects channels to the router. Inbound messages share a single
// bounded queue consumed by the router; outbound messages fan out to all
// subscribers, each with its own bounded buffer.
type Bus struct {
	inbound chan InboundMessage

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	subscriberBuffer int
	logger           zerolog.Logger
}

// Config holds bus sizing.
type Config struct {
	InboundBuffer    int
	SubscriberBuffer int
}

// New creates a message bus.
func New(cfg Config, logger zerolog.Logger) (*Bus, error) {
	if cfg.InboundBuffer <= 0 {
		return nil, fmt.Errorf("inbound buffer must be positive, got %d", cfg.InboundBuffer)
	}
	if cfg.SubscriberBuffer <= 0 {
		return nil, fmt.Errorf("subscriber buffer must be positive, got %d", cfg.SubscriberBuffer)
	}

	return &Bus{
		inbound:          make(chan InboundMessage, cfg.InboundBuffer),
		subs:             make(map[string]*subscriber),
		subscriberBuffer: cfg.SubscriberBuffer,
		logger:           logger.With().Str("component", "bus").Logger(),
	}, nil
}

// Publish enqueues an inbound envelope, blocking until there is room or
// the context is done.
func (b *Bus) Publish(ctx context.Context, msg InboundMessage) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case b.inbound <- msg:
		observability.RecordBusPublish(string(msg.Kind))
		observability.SetBusInboundDepth(len(b.inbound))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues an inbound envelope without blocking. Callers use
// the ErrBusFull result to surface backpressure to the sender.
func (b *Bus) TryPublish(msg InboundMessage) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case b.inbound <- msg:
		observability.RecordBusPublish(string(msg.Kind))
		observability.SetBusInboundDepth(len(b.inbound))
		return nil
	default:
		return ErrBusFull
	}
}

// Inbound returns the consumer side of the inbound queue. The router is
// the single consumer.
func (b *Bus) Inbound() <-chan InboundMessage {
	return b.inbound
}

// Subscribe registers an outbound subscriber under a unique name. The
// returned cancel function removes the subscription and closes its
// channel.
func (b *Bus) Subscribe(name string) (<-chan OutboundMessage, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrBusClosed
	}
	if _, exists := b.subs[name]; exists {
		return nil, nil, fmt.Errorf("subscriber %q already registered", name)
	}

	sub := &subscriber{
		name: name,
		ch:   make(chan OutboundMessage, b.subscriberBuffer),
	}
	b.subs[name] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[name]; ok {
			delete(b.subs, name)
			close(s.ch)
		}
	}

	b.logger.Debug().Str("subscriber", name).Msg("subscriber registered")
	return sub.ch, cancel, nil
}

// Broadcast delivers an outbound envelope to every subscriber. A slow
// subscriber loses its oldest buffered message rather than stalling the
// rest.
func (b *Bus) Broadcast(msg OutboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			select {
			case <-sub.ch:
				observability.RecordBusDrop(sub.name)
				b.logger.Warn().
					Str("subscriber", sub.name).
					Str("session_key", msg.SessionKey()).
					Msg("subscriber buffer full, dropping oldest message")
			default:
			}
			select {
			case sub.ch <- msg:
			default:
				observability.RecordBusDrop(sub.name)
			}
		}
	}
}

// Close shuts down the bus. Subsequent publishes fail and all
// subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	// The inbound channel is left open so concurrent publishers never
	// hit a closed channel; they observe the closed flag instead.
	for name, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, name)
	}

	b.logger.Debug().Msg("bus closed")
}
