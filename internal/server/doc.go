// Package server implements the hireloop dev portal.
//
// # Overview
//
// The server package is the central coordinator of the portal. It owns
// the SQLite store, the WebSocket hub, the optional NATS publishing
// connection, and the synthetic traffic simulator, and it exposes the
// REST and push APIs that inbox clients consume.
//
// # HTTP API
//
// Endpoints in api.go:
//
//   - POST /api/login - Exchange credentials for a session token
//   - GET /api/me - Current account details
//   - GET /api/conversations - Aggregated conversation snapshot
//   - GET /api/profiles/{id} - Counterparty profile (404 for ghosts)
//   - POST /api/messages - Send a message as the authenticated user
//   - POST /api/conversations/{id}/read - Move the read mark to now
//   - GET /healthz - Liveness check
//
// All /api routes except login require a bearer token minted by login.
// Errors are returned as {"error": "message"} JSON bodies.
//
// # Live Push
//
// GET /ws upgrades to a WebSocket. The client sends a join frame naming
// its own user channel and receives a joined ack, then message:new
// event frames as traffic arrives:
//
//	-> {"type":"join","channel":"user:u-1"}
//	<- {"type":"joined","channel":"user:u-1"}
//	<- {"type":"event","event":"message:new","data":{...}}
//
// When NATS is enabled, every event is also published to the subject
// derived from the receiving channel, so NATS-backed clients see the
// same payloads.
//
// # Delivery
//
// Deliver is the single path for message ingestion: persist to the
// store first, then fan out to both participants over every enabled
// transport. Fan-out is best effort; the snapshot endpoint stays
// authoritative.
//
// # Lifecycle
//
// Start the portal:
//
//	srv, err := server.New(cfg, logger)
//	err = srv.Run(ctx)
//
// Run blocks until the context is canceled, then shuts down the HTTP
// server, hub, NATS connection, simulator, and store.
package server
