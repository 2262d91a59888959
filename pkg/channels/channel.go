// Package channels defines the chat-surface abstraction and the
// manager that fans outbound traffic to the right adapter.
package channels

import (
	"context"

	"github.com/jaredwolff/patina/pkg/bus"
)

// Channel is one chat surface (telegram, slack, ...). Adapters publish
// inbound envelopes onto the bus themselves; the manager hands them
// outbound replies addressed to their channel name.
type Channel interface {
	Name() string
	// Start begins consuming the surface's transport. It must not
	// block; ctx cancellation stops the adapter.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Send delivers one outbound message to the surface.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}
