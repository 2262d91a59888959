package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connected WebSocket client. Writes are serialized
// through the mutex since gorilla connections allow one writer.
type Client struct {
	ID          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes one JSON frame to the client.
func (c *Client) Send(msg ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ClientRegistry tracks connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers a client.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

// Remove deregisters a client.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// All returns a snapshot of connected clients.
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends a frame to every client, optionally excluding one
// connection. Write failures are left for the read loop to clean up.
func (r *ClientRegistry) Broadcast(msg ServerMessage, excludeID string) {
	for _, client := range r.All() {
		if client.ID == excludeID {
			continue
		}
		_ = client.Send(msg)
	}
}
