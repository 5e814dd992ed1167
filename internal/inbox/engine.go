// ABOUTME: Actor-owned reconciler merging snapshot and live events into one ordered list.
// ABOUTME: All mutations are commands handled by a single goroutine; reads are lock-free.

package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SnapshotLoader fetches the authoritative conversation list for the
// engine owner's session.
type SnapshotLoader interface {
	LoadConversations(ctx context.Context) ([]Conversation, error)
}

// ProfileResolver looks up identity data for a counterparty first seen in
// a live event.
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, counterpartyID string) (ProfileData, error)
}

// SnapshotError wraps a failed snapshot load. When Refresh returns one,
// the engine's state is exactly what it was before the call.
type SnapshotError struct {
	Err error
}

func (e *SnapshotError) Error() string { return "snapshot load: " + e.Err.Error() }

func (e *SnapshotError) Unwrap() error { return e.Err }

// resolveTimeout bounds a single identity lookup.
const resolveTimeout = 10 * time.Second

type commandKind int

const (
	cmdInitialize commandKind = iota
	cmdApplyEvent
	cmdMarkAllRead
	cmdResolveDone
	cmdResolveFailed
)

type command struct {
	kind           commandKind
	snapshot       []Conversation
	event          Message
	counterpartyID string
	profile        ProfileData
	err            error
	applied        chan struct{}
}

// Engine maintains the conversation list for one user. Create with
// NewEngine; all methods are safe for concurrent use.
type Engine struct {
	userID   string
	loader   SnapshotLoader
	resolver ProfileResolver
	logger   *slog.Logger

	cmds      chan command
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	resolveCtx    context.Context
	resolveCancel context.CancelFunc
	resolving     sync.WaitGroup

	view atomic.Pointer[[]Conversation]

	watchMu     sync.RWMutex
	watchers    map[string]chan Update
	watchClosed bool

	// Owned by the run goroutine. Nothing else may touch these.
	byID    map[string]*Conversation
	order   []*Conversation
	pending map[string]struct{}
}

// NewEngine creates the reconciler for userID and starts its run loop.
// loader may be nil when Refresh is not used; resolver may be nil, in
// which case placeholder conversations are kept unresolved.
func NewEngine(userID string, loader SnapshotLoader, resolver ProfileResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	resolveCtx, resolveCancel := context.WithCancel(context.Background())

	e := &Engine{
		userID:        userID,
		loader:        loader,
		resolver:      resolver,
		logger:        logger.With("component", "inbox", "user_id", userID),
		cmds:          make(chan command),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
		resolveCtx:    resolveCtx,
		resolveCancel: resolveCancel,
		watchers:      make(map[string]chan Update),
		byID:          make(map[string]*Conversation),
		pending:       make(map[string]struct{}),
	}

	empty := make([]Conversation, 0)
	e.view.Store(&empty)

	go e.run()
	return e
}

// Refresh loads a fresh snapshot and applies it as an authoritative
// replace. On failure it returns a *SnapshotError and the list is left
// untouched (empty on first session start). The engine never retries by
// itself; the caller owns the retry affordance.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.loader == nil {
		return &SnapshotError{Err: errors.New("no snapshot loader configured")}
	}
	snapshot, err := e.loader.LoadConversations(ctx)
	if err != nil {
		return &SnapshotError{Err: err}
	}
	e.Initialize(snapshot)
	return nil
}

// Initialize replaces the conversation list wholesale. A second call is a
// full replace, not a merge; counterparties absent from the snapshot are
// dropped.
func (e *Engine) Initialize(snapshot []Conversation) {
	e.submit(command{kind: cmdInitialize, snapshot: snapshot})
}

// ApplyEvent merges one live message event. Malformed events are dropped
// and logged, never fatal. Events from a single caller are applied in
// call order.
func (e *Engine) ApplyEvent(ev Message) {
	e.submit(command{kind: cmdApplyEvent, event: ev})
}

// MarkAllRead zeroes the unread count for one counterparty. Idempotent;
// unknown counterparties are a no-op.
func (e *Engine) MarkAllRead(counterpartyID string) {
	e.submit(command{kind: cmdMarkAllRead, counterpartyID: counterpartyID})
}

// Conversations returns the current projection, newest first. The slice
// is a copy and safe to retain.
func (e *Engine) Conversations() []Conversation {
	view := *e.view.Load()
	out := make([]Conversation, len(view))
	copy(out, view)
	return out
}

// TotalUnread sums unread counts across the projection.
func (e *Engine) TotalUnread() int {
	total := 0
	for _, c := range *e.view.Load() {
		total += c.UnreadCount
	}
	return total
}

// Close stops the run loop, cancels in-flight identity lookups, and
// closes all watcher channels. Idempotent; blocks until teardown is
// complete, after which no watcher receives another update.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.resolveCancel()
		<-e.stopped
		e.resolving.Wait()
		e.closeWatchers()
		e.logger.Debug("engine closed")
	})
}

// submit hands a command to the run loop and waits for it to be applied.
// Returns false if the engine closed first.
func (e *Engine) submit(cmd command) bool {
	cmd.applied = make(chan struct{})
	select {
	case e.cmds <- cmd:
		<-cmd.applied
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case cmd := <-e.cmds:
			e.handle(cmd)
			close(cmd.applied)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) handle(cmd command) {
	switch cmd.kind {
	case cmdInitialize:
		e.handleInitialize(cmd.snapshot)
	case cmdApplyEvent:
		e.handleEvent(cmd.event)
	case cmdMarkAllRead:
		e.handleMarkAllRead(cmd.counterpartyID)
	case cmdResolveDone:
		e.handleResolveDone(cmd.counterpartyID, cmd.profile)
	case cmdResolveFailed:
		e.handleResolveFailed(cmd.counterpartyID, cmd.err)
	}
}

func (e *Engine) handleInitialize(snapshot []Conversation) {
	e.byID = make(map[string]*Conversation, len(snapshot))
	e.order = e.order[:0]

	for _, entry := range snapshot {
		if entry.CounterpartyID == "" {
			e.logger.Warn("snapshot entry missing counterparty id, skipping")
			continue
		}
		if _, exists := e.byID[entry.CounterpartyID]; exists {
			e.logger.Warn("duplicate snapshot entry, keeping first",
				"counterparty_id", entry.CounterpartyID)
			continue
		}
		conv := entry
		e.byID[conv.CounterpartyID] = &conv
		e.order = append(e.order, &conv)
	}

	e.resort()
	e.publish(ReasonInitialized)
	e.logger.Info("conversation list initialized", "conversations", len(e.order))
}

func (e *Engine) handleEvent(ev Message) {
	if ev.SenderID == "" || ev.ReceiverID == "" || ev.OccurredAt.IsZero() {
		e.logger.Warn("dropping malformed event",
			"sender_id", ev.SenderID, "receiver_id", ev.ReceiverID)
		return
	}
	if ev.SenderID != e.userID && ev.ReceiverID != e.userID {
		e.logger.Warn("dropping event that does not involve this user",
			"sender_id", ev.SenderID, "receiver_id", ev.ReceiverID)
		return
	}

	counterpartyID := ev.SenderID
	if ev.SenderID == e.userID {
		counterpartyID = ev.ReceiverID
	}
	isIncoming := ev.ReceiverID == e.userID

	if conv, ok := e.byID[counterpartyID]; ok {
		// Out-of-order delivery must not regress the displayed snippet:
		// only a strictly older timestamp is ignored.
		if !ev.OccurredAt.Before(conv.LatestMessage.OccurredAt) {
			conv.LatestMessage = ev
		}
		if isIncoming {
			conv.UnreadCount++
		}
		e.resort()
		e.publish(ReasonMessage)
		if conv.Profile.IsPlaceholder() {
			e.ensureResolving(counterpartyID)
		}
		return
	}

	unread := 0
	if isIncoming {
		unread = 1
	}
	conv := &Conversation{
		CounterpartyID: counterpartyID,
		Profile:        PlaceholderProfile(),
		LatestMessage:  ev,
		UnreadCount:    unread,
	}
	e.byID[counterpartyID] = conv
	e.order = append(e.order, conv)
	e.resort()
	e.publish(ReasonMessage)
	e.logger.Debug("created placeholder conversation", "counterparty_id", counterpartyID)

	e.ensureResolving(counterpartyID)
}

func (e *Engine) handleMarkAllRead(counterpartyID string) {
	conv, ok := e.byID[counterpartyID]
	if !ok || conv.UnreadCount == 0 {
		return
	}
	conv.UnreadCount = 0
	e.resort()
	e.publish(ReasonMarkedRead)
}

func (e *Engine) handleResolveDone(counterpartyID string, data ProfileData) {
	delete(e.pending, counterpartyID)

	conv, ok := e.byID[counterpartyID]
	if !ok {
		e.logger.Debug("profile resolved for a conversation no longer present",
			"counterparty_id", counterpartyID)
		return
	}
	if !conv.Profile.IsPlaceholder() {
		// A snapshot refresh already supplied authoritative identity data.
		return
	}

	conv.Profile = ResolvedProfile(data)
	e.resort()
	e.publish(ReasonProfileResolved)
	e.logger.Debug("resolved counterparty profile",
		"counterparty_id", counterpartyID, "display_name", data.DisplayName)
}

func (e *Engine) handleResolveFailed(counterpartyID string, err error) {
	delete(e.pending, counterpartyID)

	conv, ok := e.byID[counterpartyID]
	if !ok || !conv.Profile.IsPlaceholder() {
		return
	}

	delete(e.byID, counterpartyID)
	for i, existing := range e.order {
		if existing == conv {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.resort()
	e.publish(ReasonProfileRemoved)
	e.logger.Warn("removed conversation after failed profile resolution",
		"counterparty_id", counterpartyID, "error", err)
}

// ensureResolving starts one identity lookup for the counterparty unless
// one is already in flight. Runs on the actor goroutine.
func (e *Engine) ensureResolving(counterpartyID string) {
	if e.resolver == nil {
		return
	}
	if _, inFlight := e.pending[counterpartyID]; inFlight {
		return
	}
	e.pending[counterpartyID] = struct{}{}
	e.resolving.Go(func() {
		e.resolve(counterpartyID)
	})
}

// resolve runs off the actor goroutine and rejoins it with a completion
// command, re-reading state as it is by then. Completions are discarded
// if the engine closed while the lookup was in flight.
func (e *Engine) resolve(counterpartyID string) {
	ctx, cancel := context.WithTimeout(e.resolveCtx, resolveTimeout)
	defer cancel()

	data, err := e.resolver.ResolveProfile(ctx, counterpartyID)
	if err != nil {
		e.submit(command{kind: cmdResolveFailed, counterpartyID: counterpartyID, err: err})
		return
	}
	e.submit(command{kind: cmdResolveDone, counterpartyID: counterpartyID, profile: data})
}

// resort re-establishes the display order: newest first, stable for ties
// so repeated re-sorts never reshuffle equal timestamps.
func (e *Engine) resort() {
	sort.SliceStable(e.order, func(i, j int) bool {
		return e.order[i].LatestMessage.OccurredAt.After(e.order[j].LatestMessage.OccurredAt)
	})
}

// publish swaps the read view and fans the update out to watchers. Runs
// on the actor goroutine.
func (e *Engine) publish(reason UpdateReason) {
	projection := make([]Conversation, len(e.order))
	total := 0
	for i, conv := range e.order {
		projection[i] = *conv
		total += conv.UnreadCount
	}
	e.view.Store(&projection)
	e.broadcast(Update{Reason: reason, Conversations: projection, TotalUnread: total})
}
