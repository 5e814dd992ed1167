// Package live receives pushed message events for one user and forwards
// them, decoded and deduplicated, to the reconciliation engine.
//
// # Receiver
//
// The Receiver drives a Feed (WebSocket or NATS adapter) through its
// lifecycle: register the message handler, join the per-user channel,
// and on Stop unregister before disconnecting so no event can reach a
// torn-down engine.
//
//	recv := live.NewReceiver(feed, engine, userID, logger)
//	if err := recv.Start(ctx); err != nil { ... }
//	defer recv.Stop()
//
// The receiver owns transport hygiene only: structurally invalid payloads
// are dropped and logged, and redelivered events (reconnect replays,
// at-least-once transports) are suppressed by fingerprint. Conversation
// semantics (dedup by counterparty, ordering, unread math) belong to the
// engine.
package live
