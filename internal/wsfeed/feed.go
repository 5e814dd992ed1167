// ABOUTME: WebSocket feed adapter dialing the portal's /ws endpoint.
// ABOUTME: Owns the join handshake, keepalive, and reconnect-with-rejoin loop.

package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/inbox/internal/live"
)

// Frame types exchanged with the portal.
const (
	frameJoin   = "join"
	frameJoined = "joined"
	frameEvent  = "event"
	frameError  = "error"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 25 * time.Second
	handshakeTimeout = 10 * time.Second

	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

var (
	// ErrFeedClosed is returned by Join after Disconnect.
	ErrFeedClosed = errors.New("feed closed")
	// ErrAlreadyJoined is returned by Join when a channel is already held.
	ErrAlreadyJoined = errors.New("feed already joined a channel")
)

// frame is the portal's WebSocket envelope. Clients send join frames;
// the portal replies joined (or error) and then streams event frames.
type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Feed implements live.Feed over a WebSocket connection to the portal.
// It joins one channel, dispatches event frames to registered handlers,
// and transparently reconnects (and rejoins) after connection loss.
type Feed struct {
	endpoint string
	logger   *slog.Logger

	hmu      sync.Mutex
	handlers map[string]live.HandlerFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	channel string
	joined  bool

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a feed for the given WebSocket URL (ws:// or wss://),
// authenticating with the session token as a query parameter.
func New(rawURL, token string, logger *slog.Logger) (*Feed, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url must be ws:// or wss://, got %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		endpoint: u.String(),
		logger:   logger.With("component", "wsfeed"),
		handlers: make(map[string]live.HandlerFunc),
		closed:   make(chan struct{}),
	}, nil
}

// On registers the handler for an event type, replacing any previous one.
func (f *Feed) On(eventType string, h live.HandlerFunc) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.handlers[eventType] = h
}

// Off removes the handler for an event type. Off is synchronous with
// dispatch: once it returns, the handler will not run again. Handlers
// must therefore not call back into the feed.
func (f *Feed) Off(eventType string) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	delete(f.handlers, eventType)
}

// Join dials the portal, performs the join handshake for the channel,
// and starts the read loop. A feed joins one channel for its lifetime.
func (f *Feed) Join(ctx context.Context, channel string) error {
	select {
	case <-f.closed:
		return ErrFeedClosed
	default:
	}

	f.mu.Lock()
	if f.joined {
		f.mu.Unlock()
		return ErrAlreadyJoined
	}
	f.joined = true
	f.mu.Unlock()

	conn, err := f.dialAndJoin(ctx, channel)
	if err != nil {
		f.mu.Lock()
		f.joined = false
		f.mu.Unlock()
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.channel = channel
	f.mu.Unlock()

	f.logger.Info("joined channel", "channel", channel)

	f.wg.Add(1)
	go f.readLoop(conn)
	return nil
}

// Disconnect closes the connection and stops all feed goroutines.
// Idempotent.
func (f *Feed) Disconnect() error {
	f.closeOnce.Do(func() {
		close(f.closed)

		f.mu.Lock()
		if f.conn != nil {
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			f.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
				time.Now().Add(writeWait))
			f.conn.Close()
		}
		f.mu.Unlock()

		f.wg.Wait()
		f.logger.Debug("feed disconnected")
	})
	return nil
}

// dialAndJoin establishes one connection and completes the join
// handshake on it.
func (f *Feed) dialAndJoin(ctx context.Context, channel string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dialing feed: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame{Type: frameJoin, Channel: channel}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending join: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading join ack: %w", err)
	}
	switch ack.Type {
	case frameJoined:
	case frameError:
		conn.Close()
		return nil, fmt.Errorf("join rejected: %s", ack.Error)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", ack.Type)
	}

	// Keepalive: both pings from the portal and pongs to our own pings
	// extend the read deadline.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	return conn, nil
}

// readLoop consumes frames from the current connection, reconnecting on
// failure until the feed is closed.
func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.wg.Done()

	for {
		pingStop := make(chan struct{})
		f.wg.Add(1)
		go f.pingLoop(conn, pingStop)

		err := f.consume(conn)
		close(pingStop)
		conn.Close()

		if f.isClosed() {
			return
		}
		f.logger.Warn("feed connection lost", "error", err)

		next, err := f.reconnect()
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conn = next
		f.mu.Unlock()
		conn = next
	}
}

// consume reads frames until the connection fails.
func (f *Feed) consume(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var fr frame
		if err := json.Unmarshal(payload, &fr); err != nil {
			f.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if fr.Type == frameEvent {
			f.dispatch(fr.Event, fr.Data)
		}
	}
}

// dispatch runs the handler registered for the event type. It holds the
// handler lock for the duration of the call, which is what makes Off
// synchronous.
func (f *Feed) dispatch(eventType string, data []byte) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	if h, ok := f.handlers[eventType]; ok {
		h(data)
	}
}

// pingLoop keeps the connection alive until it is torn down.
func (f *Feed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer f.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-f.closed:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && err != websocket.ErrCloseSent {
				return
			}
		}
	}
}

// reconnect dials until a connection joins the previous channel again,
// backing off between attempts. Returns ErrFeedClosed if the feed is
// closed while waiting.
func (f *Feed) reconnect() (*websocket.Conn, error) {
	f.mu.Lock()
	channel := f.channel
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-f.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; ; attempt++ {
		select {
		case <-f.closed:
			return nil, ErrFeedClosed
		case <-time.After(backoffDelay(attempt)):
		}

		conn, err := f.dialAndJoin(ctx, channel)
		if err == nil {
			f.logger.Info("feed reconnected", "channel", channel, "attempts", attempt+1)
			return conn, nil
		}
		if f.isClosed() {
			return nil, ErrFeedClosed
		}
		f.logger.Warn("feed reconnect failed", "error", err, "attempt", attempt+1)
	}
}

func (f *Feed) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// backoffDelay returns the wait before a reconnect attempt: exponential
// from backoffBase, capped at backoffMax, with up to 50% jitter.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << min(attempt, 5)
	if d > backoffMax {
		d = backoffMax
	}
	return d + rand.N(d/2+1)
}
