// ABOUTME: Receiver subscribing a user's live channel and forwarding decoded events.
// ABOUTME: Teardown is deterministic: handlers are unregistered before disconnect.

package live

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hireloop/inbox/internal/dedupe"
	"github.com/hireloop/inbox/internal/inbox"
)

// EventNewMessage is the event type announcing a new message.
const EventNewMessage = "message:new"

// ErrMalformedEvent marks payloads that cannot be decoded into a message
// event. Such events are dropped at the boundary, never applied.
var ErrMalformedEvent = errors.New("malformed message event")

const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 4096
)

// HandlerFunc handles one raw event payload from a feed.
type HandlerFunc func(payload []byte)

// Feed is a persistent per-user event channel. Adapters own reconnection;
// after Off returns for an event type, its handler must not run again.
type Feed interface {
	Join(ctx context.Context, channel string) error
	On(eventType string, h HandlerFunc)
	Off(eventType string)
	Disconnect() error
}

// Sink consumes decoded message events in arrival order.
type Sink interface {
	ApplyEvent(ev inbox.Message)
}

// UserChannel names the notification channel for a user.
func UserChannel(userID string) string {
	return "user:" + userID
}

// wireEvent is the JSON payload of a message:new event.
type wireEvent struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	OccurredAt string `json:"occurred_at"`
}

// DecodeEvent parses a message:new payload. Errors wrap
// ErrMalformedEvent.
func DecodeEvent(payload []byte) (inbox.Message, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return inbox.Message{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.SenderID == "" || w.ReceiverID == "" || w.OccurredAt == "" {
		return inbox.Message{}, fmt.Errorf("%w: missing required fields", ErrMalformedEvent)
	}
	occurredAt, err := time.Parse(time.RFC3339, w.OccurredAt)
	if err != nil {
		return inbox.Message{}, fmt.Errorf("%w: bad occurred_at: %v", ErrMalformedEvent, err)
	}
	return inbox.Message{
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Content:    w.Content,
		OccurredAt: occurredAt,
	}, nil
}

// EncodeEvent renders a message event as a message:new payload. The
// portal server uses this to keep both sides on one wire schema.
func EncodeEvent(ev inbox.Message) ([]byte, error) {
	return json.Marshal(wireEvent{
		SenderID:   ev.SenderID,
		ReceiverID: ev.ReceiverID,
		Content:    ev.Content,
		OccurredAt: ev.OccurredAt.UTC().Format(time.RFC3339),
	})
}

// Fingerprint returns a stable dedupe key for an event.
func Fingerprint(ev inbox.Message) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", ev.SenderID, ev.ReceiverID, ev.OccurredAt.UnixNano(), ev.Content)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Receiver subscribes one user's channel on a feed and forwards decoded,
// deduplicated events to the sink.
type Receiver struct {
	feed    Feed
	sink    Sink
	channel string
	cache   *dedupe.Cache
	logger  *slog.Logger
}

// NewReceiver wires a feed to a sink for the given user.
func NewReceiver(feed Feed, sink Sink, userID string, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		feed:    feed,
		sink:    sink,
		channel: UserChannel(userID),
		cache:   dedupe.New(dedupeTTL, dedupeMaxSize),
		logger:  logger.With("component", "live"),
	}
}

// Start registers the message handler and joins the user channel. The
// handler is registered first so nothing delivered after Join is missed.
func (r *Receiver) Start(ctx context.Context) error {
	r.logger.Info("connecting live feed", "channel", r.channel)

	r.feed.On(EventNewMessage, r.handlePayload)
	if err := r.feed.Join(ctx, r.channel); err != nil {
		r.feed.Off(EventNewMessage)
		return fmt.Errorf("joining %s: %w", r.channel, err)
	}

	r.logger.Info("live feed connected", "channel", r.channel)
	return nil
}

// Stop tears the subscription down: handler first, then the connection.
// Once Stop returns, no further event reaches the sink.
func (r *Receiver) Stop() {
	r.feed.Off(EventNewMessage)
	if err := r.feed.Disconnect(); err != nil {
		r.logger.Warn("disconnecting live feed", "error", err)
	}
	r.cache.Close()
	r.logger.Info("live feed disconnected", "channel", r.channel)
}

func (r *Receiver) handlePayload(payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		r.logger.Warn("dropping event", "error", err)
		return
	}
	if r.cache.Duplicate(Fingerprint(ev)) {
		r.logger.Debug("suppressing redelivered event",
			"sender_id", ev.SenderID, "occurred_at", ev.OccurredAt)
		return
	}
	r.sink.ApplyEvent(ev)
}
