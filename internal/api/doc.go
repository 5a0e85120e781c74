// Package api implements the HTTP status API and WebSocket feed of the Yanzi
// bridge.
//
// This package provides:
//   - Read-only REST endpoints for entities and bridge statistics
//   - A Prometheus /metrics endpoint over bridge and Cirrus session counters
//   - A WebSocket hub pushing entity updates as samples arrive
//   - Optional JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery)
//
// # Architecture
//
// The server reads the bridge's entity registry directly; it never talks to
// Cirrus itself. Entity updates reach WebSocket clients through the bridge's
// sample bus, after the registry has applied the sample.
//
// # Security
//
// Authentication is off unless security.jwt.secret is set. With a secret,
// every /api/v1 route except /health needs an HS256 bearer token, and
// WebSocket connections use single-use tickets so the token never appears
// in a URL.
package api
