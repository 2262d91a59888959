// Package gateway serves the web channel: a WebSocket endpoint for
// browser chat clients plus a small session/health API.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/observability"
	"github.com/jaredwolff/patina/pkg/bus"
	"github.com/jaredwolff/patina/pkg/session"
)

// channelName is the bus channel this server fronts.
const channelName = "web"

// Config holds gateway settings.
type Config struct {
	Addr string
	// Password, when set, is required as a query parameter on /ws.
	Password string
	Bus      *bus.Bus
	Store    *session.Store
	Logger   zerolog.Logger
}

// Server is the web channel gateway.
type Server struct {
	addr     string
	password string
	bus      *bus.Bus
	store    *session.Store
	clients  *ClientRegistry
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	server      *http.Server
	unsubscribe func()
	pumpDone    chan struct{}

	shutdownMu     sync.RWMutex
	isShuttingDown bool
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	return &Server{
		addr:     cfg.Addr,
		password: cfg.Password,
		bus:      cfg.Bus,
		store:    cfg.Store,
		clients:  NewClientRegistry(),
		logger:   cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins serving and pumping outbound bus traffic to clients.
func (s *Server) Start() error {
	outbound, unsubscribe, err := s.bus.Subscribe("gateway")
	if err != nil {
		return fmt.Errorf("failed to subscribe gateway: %w", err)
	}
	s.unsubscribe = unsubscribe
	s.pumpDone = make(chan struct{})
	go s.pump(outbound)

	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.logger.Info().Str("addr", s.addr).Msg("gateway listening")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("gateway server error")
		}
	}()

	return nil
}

// Stop drains clients and shuts the server down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("stopping gateway")

	if s.unsubscribe != nil {
		s.unsubscribe()
		<-s.pumpDone
	}

	for _, client := range s.clients.All() {
		client.Close()
	}

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}
	return nil
}

// pump forwards web-channel bus traffic to every connected client.
// Browser clients filter frames by chatId themselves.
func (s *Server) pump(outbound <-chan bus.OutboundMessage) {
	defer close(s.pumpDone)

	for msg := range outbound {
		if msg.Channel != channelName {
			continue
		}
		frame, ok := s.frameFor(msg)
		if !ok {
			continue
		}
		s.clients.Broadcast(frame, "")
	}
}

// frameFor translates a bus envelope into a client frame.
func (s *Server) frameFor(msg bus.OutboundMessage) (ServerMessage, bool) {
	frame := ServerMessage{
		ChatID:    msg.ChatID,
		Content:   msg.Content,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	switch msg.Event {
	case bus.EventNone, bus.EventCancelled:
		frame.Type = TypeMessage
	case bus.EventDelta:
		frame.Type = TypeTextDelta
		frame.Timestamp = ""
	case bus.EventBusy:
		frame.Type = TypeBusy
	case bus.EventError:
		frame.Type = TypeError
	case bus.EventHistory:
		frame.Type = TypeHistory
		frame.Content = ""
		frame.Messages = make([]HistoryMessage, 0, len(msg.History))
		for _, entry := range msg.History {
			frame.Messages = append(frame.Messages, HistoryMessage{
				Role:      entry.Role,
				Content:   entry.Content,
				Timestamp: entry.Timestamp.Format(time.RFC3339),
			})
		}
	case bus.EventSessionCreated:
		frame.Type = TypeSessionCreated
	case bus.EventSessionDeleted:
		frame.Type = TypeSessionDeleted
	default:
		return ServerMessage{}, false
	}

	return frame, true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	authorized := s.password == "" || r.URL.Query().Get("password") == s.password

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	if !authorized {
		_ = conn.WriteJSON(ServerMessage{Type: TypeError, Content: "Authentication failed"})
		conn.Close()
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{ID: clientID, ConnectedAt: time.Now(), conn: conn}
	s.clients.Add(client)
	s.logger.Info().Str("client_id", clientID).Str("ip", r.RemoteAddr).Msg("client connected")

	_ = client.Send(ServerMessage{Type: TypeConnected})

	go s.readLoop(client)
}

func (s *Server) readLoop(client *Client) {
	defer func() {
		client.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("client_id", client.ID).Msg("client disconnected")
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("websocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.handleClientMessage(client, msg)
	}
}

func (s *Server) handleClientMessage(client *Client, msg ClientMessage) {
	if msg.ChatID == "" {
		return
	}

	switch msg.Type {
	case TypeMessage:
		if strings.TrimSpace(msg.Content) == "" {
			return
		}

		// Other browser tabs see the user's message and a thinking
		// indicator while the run is in flight.
		now := time.Now().Format(time.RFC3339)
		s.clients.Broadcast(ServerMessage{
			Type: TypeUserMessage, Content: msg.Content, ChatID: msg.ChatID, Timestamp: now,
		}, client.ID)
		s.clients.Broadcast(ServerMessage{Type: TypeThinking, ChatID: msg.ChatID}, client.ID)

		observability.RecordChannelMessage(channelName, "inbound")

		inbound := bus.NewMessage(channelName, senderID(msg.ChatID), msg.ChatID, msg.Content)
		inbound.Persona = msg.Persona
		s.publish(client, inbound)

	case TypeGetHistory:
		envelope := bus.NewMessage(channelName, senderID(msg.ChatID), msg.ChatID, "")
		envelope.Kind = bus.KindHistory
		s.publish(client, envelope)

	case TypeCancel:
		envelope := bus.NewMessage(channelName, senderID(msg.ChatID), msg.ChatID, "")
		envelope.Kind = bus.KindCancel
		s.publish(client, envelope)

	case TypeCreateSession:
		envelope := bus.NewMessage(channelName, senderID(msg.ChatID), msg.ChatID, "")
		envelope.Kind = bus.KindCreateSession
		envelope.Persona = msg.Persona
		s.publish(client, envelope)

	case TypeDeleteSession:
		envelope := bus.NewMessage(channelName, senderID(msg.ChatID), msg.ChatID, "")
		envelope.Kind = bus.KindDeleteSession
		s.publish(client, envelope)
	}
}

func (s *Server) publish(client *Client, msg bus.InboundMessage) {
	if err := s.bus.TryPublish(msg); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("failed to publish inbound message")
		_ = client.Send(ServerMessage{
			Type: TypeError, ChatID: msg.ChatID, Content: "Server is overloaded, try again shortly.",
		})
	}
}

// senderID derives a short stable sender tag from a chat ID.
func senderID(chatID string) string {
	if len(chatID) > 8 {
		chatID = chatID[:8]
	}
	return "web:" + chatID
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessions := make([]SessionInfo, 0)
	for _, info := range infos {
		id, ok := strings.CutPrefix(info.Key, channelName+":")
		if !ok {
			continue
		}
		sessions = append(sessions, SessionInfo{
			ID:        id,
			Persona:   info.Persona,
			CreatedAt: info.CreatedAt,
			UpdatedAt: info.UpdatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	key := channelName + ":" + id
	if !s.store.Exists(key) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.store.Delete(r.Context(), key); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"deleted":true}`))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
