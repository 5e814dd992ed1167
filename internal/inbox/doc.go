// Package inbox implements the live conversation-list synchronization
// engine: one materialized, display-ordered view of a user's message
// threads, kept consistent across an initial snapshot, asynchronously
// pushed message events, and on-demand identity resolution.
//
// # Engine
//
// The Engine owns all conversation state on a single goroutine. Public
// mutators enqueue commands and wait for them to be applied:
//
//	eng := inbox.NewEngine(userID, loader, resolver, logger)
//	defer eng.Close()
//
//	if err := eng.Refresh(ctx); err != nil { ... } // snapshot, retryable
//	eng.ApplyEvent(ev)                             // driven by the live receiver
//	eng.MarkAllRead(counterpartyID)                // driven by the UI
//
// Reads never block on the actor: Conversations returns the most recently
// published projection, and Watch delivers every change to subscriber
// channels.
//
// # Reconciliation rules
//
// One conversation per counterparty. LatestMessage never regresses to an
// older timestamp. Incoming events increment the unread count; outgoing
// ones do not. The projection is re-sorted (stable, newest first) after
// every mutation.
//
// # Placeholder lifecycle
//
// An event from an unknown counterparty inserts a placeholder conversation
// synchronously, then resolves the counterparty's profile in the
// background. Resolution success replaces only the Profile; failure
// removes the conversation. Completions arriving after Close or after an
// authoritative Refresh are discarded.
package inbox
