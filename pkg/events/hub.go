// Package events streams gamma state changes to WebSocket clients.
package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types sent to clients
const (
	TypeStateInit    = "state_init"
	TypeGammaApplied = "gamma_applied"
	TypePaused       = "paused"
	TypeResumed      = "resumed"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultSendBuf = 16
)

// envelope is the wire format of every message: {type, ts, data}
type envelope struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data,omitempty"`
}

// SnapshotFunc returns the state sent as state_init when a client connects
type SnapshotFunc func() any

// Hub fans events out to connected clients. A client whose send queue is
// full is disconnected rather than slowing the others down.
type Hub struct {
	logger   *slog.Logger
	snapshot SnapshotFunc
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	closeOnce  sync.Once
}

// NewHub creates a hub; snapshot may be nil
func NewHub(snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Broadcast sends an event to every client. It never blocks.
func (h *Hub) Broadcast(eventType string, data any) {
	msg, err := encode(eventType, data)
	if err != nil {
		h.logger.Warn("Failed to encode event", "type", eventType, "error", err)
		return
	}

	var slow []*client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.remove(c, "slow_client")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client; later connections are refused
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.closed = true
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, "shutdown")
	}
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:       conn,
		send:       make(chan []byte, defaultSendBuf),
		remoteAddr: r.RemoteAddr,
	}

	// Queue the snapshot before registering so it is always the first message
	if h.snapshot != nil {
		if msg, err := encode(TypeStateInit, h.snapshot()); err == nil {
			c.send <- msg
		}
	}

	h.mu.Lock()
	if h.closed {
		// Close ran after the check above; flush and hang up
		h.mu.Unlock()
		c.closeOnce.Do(func() {
			close(c.send)
		})
		go h.writePump(c)
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Event client connected", "remote_addr", c.remoteAddr, "clients", n)

	// Pumps outlive the request; the hub and connection errors end them
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
	})
	if ok {
		h.logger.Info("Event client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// writePump drains the send queue and keeps the connection alive with pings
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logDisconnect(c, "write", err)
				h.remove(c, "write_error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logDisconnect(c, "ping", err)
				h.remove(c, "ping_error")
				return
			}
		}
	}
}

// readPump discards client messages; its only job is noticing disconnects
func (h *Hub) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logDisconnect(c, "read", err)
			h.remove(c, "closed")
			return
		}
	}
}

func (h *Hub) logDisconnect(c *client, op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		h.logger.Debug("Event client closed", "remote_addr", c.remoteAddr, "op", op, "code", ce.Code)
		return
	}
	h.logger.Debug("Event client error", "remote_addr", c.remoteAddr, "op", op, "error", err)
}

func encode(eventType string, data any) ([]byte, error) {
	return json.Marshal(envelope{
		Type: eventType,
		Ts:   time.Now().UTC(),
		Data: data,
	})
}
