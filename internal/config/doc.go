// Package config handles configuration loading for the fake-portal server.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HIRELOOP_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//	simulator:
//	  interval: "3s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8484"   # API, WebSocket, and health check
//
// Database:
//
//	database:
//	  path: "/var/lib/hireloop/portal.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${HIRELOOP_JWT_SECRET}"   # Required
//	  token_ttl: "24h"
//
// NATS event publishing (optional):
//
//	nats:
//	  enabled: false
//	  url: "nats://localhost:4222"
//	  subject_prefix: "hireloop"
//
// Synthetic traffic:
//
//	simulator:
//	  enabled: true
//	  interval: "3s"
//	  ghost_ratio: 0.2      # share of events from senders with no profile
//	  newcomer_ratio: 0.1   # share of events from brand-new counterparties
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "hireloop-portal"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load validates:
//
//   - server.http_addr present (unless Tailscale serves the listener)
//   - database.path and auth.jwt_secret present
//   - nats.url present when NATS is enabled
//   - simulator ratios within [0, 1] and summing to at most 1
//   - Duration format validity
//
// # Usage
//
//	cfg, err := config.Load("/etc/hireloop/portal.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
