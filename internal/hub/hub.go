// ABOUTME: Per-user WebSocket delivery registry for the portal's live feed.
// ABOUTME: Each client owns a buffered send queue and write loop; slow clients are dropped.

package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pingPeriod is how often the write loop pings an idle client.
	pingPeriod = 30 * time.Second
	// sendBuffer is the per-client outbound queue depth.
	sendBuffer = 128
)

var errClientClosed = errors.New("client closed")

// Client is one registered WebSocket subscriber. All frame writes go
// through its send queue; the write loop is the only goroutine touching
// the connection's write side.
type Client struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	done   chan struct{}
	logger *slog.Logger
}

func newClient(userID string, ws *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send enqueues a frame for delivery. If the client's buffer is full the
// connection is closed rather than blocking the publisher.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("client send buffer full, dropping connection", "client", c.ID, "user", c.UserID)
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("send buffer exceeded")
	}
}

// Close terminates the connection and stops the write loop. Safe to call
// more than once.
func (c *Client) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.ws.Close()
	})
}

// Done is closed when the client shuts down, whichever side initiated it.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.writeFrame(payload); err != nil {
				c.logger.Debug("write failed", "client", c.ID, "error", err)
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				c.logger.Debug("ping failed", "client", c.ID, "error", err)
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Client) writeFrame(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Hub indexes clients by user ID and fans events out to every connection
// a user has open.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Client
	closed bool
	logger *slog.Logger
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		byUser: make(map[string]map[string]*Client),
		logger: logger.With("component", "hub"),
	}
}

// Register wraps an upgraded connection in a Client, starts its write
// loop, and indexes it under the user. Returns nil if the hub has been
// shut down.
func (h *Hub) Register(userID string, ws *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	c := newClient(userID, ws, h.logger)
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[string]*Client)
	}
	h.byUser[userID][c.ID] = c

	go c.writeLoop()

	h.logger.Debug("client registered", "client", c.ID, "user", userID, "connections", len(h.byUser[userID]))
	return c
}

// Unregister removes the client from the index and closes it.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	if mm := h.byUser[c.UserID]; mm != nil {
		delete(mm, c.ID)
		if len(mm) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	h.mu.Unlock()

	c.Close(websocket.CloseNormalClosure, "unregistered")
	h.logger.Debug("client unregistered", "client", c.ID, "user", c.UserID)
}

// Publish sends a frame to every connection the user has open and
// returns how many accepted it. Clients whose buffers are full close
// themselves; delivery to the rest is unaffected.
func (h *Hub) Publish(userID string, payload []byte) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if err := c.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Connections reports how many connections the user currently has.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// CloseAll shuts down every client and rejects future registrations.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for _, mm := range h.byUser {
		for _, c := range mm {
			all = append(all, c)
		}
	}
	h.byUser = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, c := range all {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("hub closed", "clients", len(all))
}
