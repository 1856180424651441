// Package api implements the HTTP REST API and WebSocket server that the
// Kost admin portal uses to drive RFID readers.
//
// This package provides:
//   - REST endpoints for broker connection control, reader status and
//     history, reader commands, card-scan sessions and card registration
//   - An audit trail of operator actions, written asynchronously
//   - A WebSocket hub pushing service events (connection, device_status,
//     scan, command_response, system_status) and relaying raw broker
//     topics a client subscribes to
//   - Middleware: request ID, logging, recovery, CORS, per-IP rate limit,
//     body limit, bearer-token auth with role permissions
//
// # Security
//
// Every route except /health and /metrics requires an HS256 bearer token
// issued by the portal backend (see package auth). The WebSocket endpoint
// also accepts it as ?token= because browsers cannot set headers on the
// upgrade request.
//
// # Graceful Degradation
//
// The server runs while the broker is unconfigured or unreachable: status
// reads work, and operations that need the broker answer 503.
package api
