// Package websocket pushes preview status to connected browsers and accepts
// editor input from them.
//
// A single hub goroutine owns registration and broadcasting. Each client gets
// a read pump, which decodes incoming messages and hands them to the
// configured MessageHandler, and a write pump, which drains the client's send
// buffer and pings the browser periodically.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/mermaidlive/internal/logging"
)

const (
	// Reads block on the hub context only; a browser that stops answering
	// pings is detached by the write pump.
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second

	sendBufferSize = 64

	// Per-client limit on incoming messages.
	messageLimit  = 100
	messageWindow = time.Second

	// maxMessageSize bounds a single incoming frame (1 MiB of diagram text).
	maxMessageSize = 1 << 20
)

// HubConfig wires a Hub to the rest of the server.
type HubConfig struct {
	// OriginValidator is required; browsers always send an Origin header.
	OriginValidator OriginValidator
	// OnMessage handles decoded client messages. Nil ignores them.
	OnMessage MessageHandler
	// OnConnect runs after a client is registered, typically to send it the
	// current status.
	OnConnect func(client *Client)
	Logger    logging.Logger
}

// Hub manages WebSocket connections and broadcasts status updates.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	onMessage       MessageHandler
	onConnect       func(client *Client)
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
	hubDone      chan struct{}
}

// NewHub creates a hub and starts its management goroutine.
func NewHub(config HubConfig) (*Hub, error) {
	if config.OriginValidator == nil {
		return nil, errors.New("websocket hub requires an origin validator")
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: config.OriginValidator,
		onMessage:       config.OnMessage,
		onConnect:       config.OnConnect,
		logger:          logger.WithComponent("websocket"),
		ctx:             ctx,
		cancel:          cancel,
		hubDone:         make(chan struct{}),
	}

	go hub.runHub()
	return hub, nil
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && !h.originValidator.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "WebSocket connection rejected",
			"origin", origin, "remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins are validated above.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{
		ID:           uuid.NewString(),
		RemoteAddr:   r.RemoteAddr,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		lastActivity: time.Now(),
		rateLimiter:  NewSlidingWindowRateLimiter(messageLimit, messageWindow),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
		h.logger.Warn(r.Context(), nil, "WebSocket registration channel full, rejecting client")
		_ = conn.Close(websocket.StatusTryAgainLater, "Server busy")
		return
	}

	go h.handleClient(client)
}

func (h *Hub) runHub() {
	defer close(h.hubDone)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case conn := <-h.unregister:
			h.unregisterClient(conn)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	if h.isShutdown.Load() {
		client.close()
		_ = client.conn.Close(websocket.StatusGoingAway, "Server shutdown")
		return
	}

	h.clientsMutex.Lock()
	h.clients[client.conn] = client
	total := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Info(h.ctx, "WebSocket client connected", "client_id", client.ID, "clients", total)

	if h.onConnect != nil {
		h.onConnect(client)
	}
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	client, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		client.close()
		// Close waits for the peer handshake.
		go func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		h.logger.Info(h.ctx, "WebSocket client disconnected", "client_id", client.ID, "clients", total)
	}
}

func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(message) {
			// Buffer full: the client is not keeping up.
			h.detach(client.conn)
		}
	}
}

func (h *Hub) detach(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	default:
		go func() {
			select {
			case h.unregister <- conn:
			case <-h.ctx.Done():
			}
		}()
	}
}

func (h *Hub) handleClient(client *Client) {
	defer h.detach(client.conn)

	go h.writeToClient(client)
	h.readFromClient(client)
}

func (h *Hub) readFromClient(client *Client) {
	for {
		msgType, data, err := client.conn.Read(h.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "WebSocket read ended", "client_id", client.ID, "error", err.Error())
			}
			return
		}

		client.touch()

		if !client.rateLimiter.Allow() {
			h.logger.Warn(h.ctx, nil, "WebSocket message rate limit exceeded", "client_id", client.ID)
			_ = client.conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return
		}

		if msgType != websocket.MessageText {
			client.Send(UpdateMessage{Type: TypeError, Error: "binary messages are not supported"})
			continue
		}

		h.processClientMessage(client, data)
	}
}

func (h *Hub) processClientMessage(client *Client, data []byte) {
	var message ClientMessage
	if err := json.Unmarshal(data, &message); err != nil {
		client.Send(UpdateMessage{Type: TypeError, Error: fmt.Sprintf("malformed message: %v", err)})
		return
	}
	if h.onMessage == nil {
		return
	}
	if err := h.onMessage(client, message); err != nil {
		client.Send(UpdateMessage{Type: TypeError, Error: err.Error()})
	}
}

func (h *Hub) writeToClient(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "WebSocket write failed", "client_id", client.ID, "error", err.Error())
				h.detach(client.conn)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				h.detach(client.conn)
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// BroadcastMessage sends a message to all connected clients.
func (h *Hub) BroadcastMessage(message UpdateMessage) {
	if h.isShutdown.Load() {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal broadcast message")
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast channel full, dropping message", "type", message.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// IsShutdown reports whether Shutdown has been called.
func (h *Hub) IsShutdown() bool {
	return h.isShutdown.Load()
}

// Shutdown closes every client connection and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()

		h.clientsMutex.Lock()
		clients := h.clients
		h.clients = make(map[*websocket.Conn]*Client)
		h.clientsMutex.Unlock()

		for conn, client := range clients {
			client.close()
			_ = conn.Close(websocket.StatusGoingAway, "Server shutdown")
		}
	})

	select {
	case <-h.hubDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
