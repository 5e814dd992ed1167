// ABOUTME: Fan-out of view updates to subscriber channels for presentation code.
// ABOUTME: Buffered and non-blocking; slow watchers drop updates rather than stall the actor.

package inbox

import (
	"context"

	"github.com/google/uuid"
)

// watcherBufferSize is the per-watcher channel buffer. Watchers that fall
// further behind lose updates; the latest projection is always available
// via Conversations.
const watcherBufferSize = 64

// UpdateReason says which mutation produced an update.
type UpdateReason int

const (
	ReasonInitialized UpdateReason = iota
	ReasonMessage
	ReasonProfileResolved
	ReasonProfileRemoved
	ReasonMarkedRead
)

func (r UpdateReason) String() string {
	switch r {
	case ReasonInitialized:
		return "initialized"
	case ReasonMessage:
		return "message"
	case ReasonProfileResolved:
		return "profile_resolved"
	case ReasonProfileRemoved:
		return "profile_removed"
	case ReasonMarkedRead:
		return "marked_read"
	default:
		return "unknown"
	}
}

// Update carries the projection published after a mutation. Treat the
// slice as read-only; it is shared between watchers.
type Update struct {
	Reason        UpdateReason
	Conversations []Conversation
	TotalUnread   int
}

// Watch registers a subscriber for view updates and returns its channel
// and id. The subscription ends when ctx is canceled, Unwatch is called,
// or the engine closes; the channel is closed in every case.
func (e *Engine) Watch(ctx context.Context) (<-chan Update, string) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	id := uuid.New().String()
	ch := make(chan Update, watcherBufferSize)

	if e.watchClosed {
		close(ch)
		return ch, id
	}
	e.watchers[id] = ch

	go func() {
		<-ctx.Done()
		e.Unwatch(id)
	}()

	e.logger.Debug("watcher added", "watcher_id", id)
	return ch, id
}

// Unwatch removes a watcher and closes its channel. Safe to call for ids
// that are already gone.
func (e *Engine) Unwatch(id string) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	ch, ok := e.watchers[id]
	if !ok {
		return
	}
	delete(e.watchers, id)
	close(ch)
	e.logger.Debug("watcher removed", "watcher_id", id)
}

func (e *Engine) broadcast(update Update) {
	e.watchMu.RLock()
	defer e.watchMu.RUnlock()

	for id, ch := range e.watchers {
		select {
		case ch <- update:
		default:
			e.logger.Debug("watcher buffer full, dropping update",
				"watcher_id", id, "reason", update.Reason.String())
		}
	}
}

func (e *Engine) closeWatchers() {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	e.watchClosed = true
	for id, ch := range e.watchers {
		delete(e.watchers, id)
		close(ch)
	}
}
