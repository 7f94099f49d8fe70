// Package stream broadcasts incident lifecycle events to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onchainlabs1/sentinel/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Event is one lifecycle message pushed to clients.
type Event struct {
	Kind     string          `json:"kind"`
	Incident models.Incident `json:"incident"`
	At       time.Time       `json:"at"`
}

// Lifecycle event kinds.
const (
	EventCreated      = "created"
	EventEscalated    = "escalated"
	EventStep         = "step"
	EventReclassified = "reclassified"
	EventResolved     = "resolved"
	EventDocumented   = "documented"
	EventFailed       = "failed"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to connected clients. Slow clients are dropped rather
// than allowed to block the broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// Broadcast pushes an event to every connected client.
func (h *Hub) Broadcast(kind string, inc models.Incident) {
	payload, err := json.Marshal(Event{Kind: kind, Incident: inc, At: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("marshal stream event", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			// Buffer full: drop the client instead of blocking.
			h.drop(c)
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", slog.Int("clients", h.ClientCount()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// Shutdown closes all client connections.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) writeLoop(c *client) {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func (h *Hub) readLoop(c *client) {
	// Clients never send application data; the read loop exists to detect
	// disconnects promptly.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}
