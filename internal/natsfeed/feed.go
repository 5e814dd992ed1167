// ABOUTME: NATS feed adapter mapping user channels onto portal subjects.
// ABOUTME: Reconnection is delegated to the NATS client; teardown drains the connection.

package natsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hireloop/inbox/internal/live"
)

const (
	connectTimeout  = 5 * time.Second
	reconnectWait   = 2 * time.Second
	jitterMin       = 100 * time.Millisecond
	jitterMax       = time.Second
	connectionName  = "hireloop-inbox"
	subjectSuffix   = "messages"
	channelKindUser = "user"
)

var (
	// ErrFeedClosed is returned by Join after Disconnect.
	ErrFeedClosed = errors.New("feed closed")
	// ErrAlreadyJoined is returned by Join when a channel is already held.
	ErrAlreadyJoined = errors.New("feed already joined a channel")
)

// Envelope is the JSON body of one event on a portal subject. The
// subject already scopes the user, so the envelope only carries the
// event type and payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SubjectFor maps a notification channel name to a NATS subject:
// "user:<id>" becomes "<prefix>.user.<id>.messages". User IDs must not
// contain NATS token separators.
func SubjectFor(prefix, channel string) (string, error) {
	kind, id, ok := strings.Cut(channel, ":")
	if !ok || kind != channelKindUser || id == "" {
		return "", fmt.Errorf("unsupported channel %q", channel)
	}
	if strings.ContainsAny(id, ". *>") {
		return "", fmt.Errorf("channel id %q contains subject separators", id)
	}
	return fmt.Sprintf("%s.%s.%s.%s", prefix, channelKindUser, id, subjectSuffix), nil
}

// Feed implements live.Feed over a NATS subscription. One feed joins one
// channel; the NATS client handles reconnects and resubscription
// internally (infinite reconnects with wait and jitter).
type Feed struct {
	url    string
	prefix string
	logger *slog.Logger

	hmu      sync.Mutex
	handlers map[string]live.HandlerFunc

	mu     sync.Mutex
	nc     *nats.Conn
	sub    *nats.Subscription
	joined bool
	closed bool
}

// New creates a feed for the given NATS URL and subject prefix.
func New(url, subjectPrefix string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		url:      url,
		prefix:   subjectPrefix,
		logger:   logger.With("component", "natsfeed"),
		handlers: make(map[string]live.HandlerFunc),
	}
}

// On registers the handler for an event type, replacing any previous one.
func (f *Feed) On(eventType string, h live.HandlerFunc) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	f.handlers[eventType] = h
}

// Off removes the handler for an event type. Off is synchronous with
// dispatch: once it returns, the handler will not run again.
func (f *Feed) Off(eventType string) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	delete(f.handlers, eventType)
}

// Join connects to NATS and subscribes to the channel's subject.
func (f *Feed) Join(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, err := SubjectFor(f.prefix, channel)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrFeedClosed
	}
	if f.joined {
		return ErrAlreadyJoined
	}

	nc, err := nats.Connect(f.url,
		nats.Name(connectionName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectJitter(jitterMin, jitterMax),
		nats.Timeout(connectTimeout),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}

	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		// The callback must not retain m.Data past its return.
		data := append([]byte(nil), m.Data...)

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			f.logger.Warn("dropping undecodable event", "subject", m.Subject, "error", err)
			return
		}
		f.dispatch(env.Event, env.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	f.nc = nc
	f.sub = sub
	f.joined = true
	f.logger.Info("joined channel", "channel", channel, "subject", subject)
	return nil
}

// Disconnect drains the connection, letting in-flight messages finish
// before closing. Idempotent.
func (f *Feed) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if f.nc != nil {
		if err := f.nc.Drain(); err != nil {
			f.nc.Close()
			return fmt.Errorf("draining nats connection: %w", err)
		}
	}
	f.logger.Debug("feed disconnected")
	return nil
}

func (f *Feed) dispatch(eventType string, data []byte) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	if h, ok := f.handlers[eventType]; ok {
		h(data)
	}
}
