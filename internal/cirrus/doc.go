// Package cirrus implements a client for the Yanzi Cirrus WebSocket API.
//
// A Session multiplexes request/response exchanges and long-lived
// subscriptions over a single authenticated WebSocket connection:
//
//	┌──────────────┐  Send/Request   ┌─────────────┐   wss://<host>/cirrusAPI
//	│   callers    │────────────────►│   Session   │◄──────────────────────────► Cirrus
//	│ (per-call    │◄────────────────│ recv loop   │
//	│   watchers)  │   fan-out       │ keep-alive  │
//	└──────────────┘                 └─────────────┘
//
// # Correlation
//
// Every request sent with Send is stamped with a messageIdentifier whose
// messageId is the session's next sequence number, starting at "0". The
// receive loop pushes every inbound frame to every registered Watcher; a
// Stream returned by Send yields only the envelopes carrying its own
// identifier. A read timeout with no matches yet is ErrTimeout; the same
// timeout after at least one match ends the stream with io.EOF.
//
// # Failure propagation
//
// The receive and keep-alive loops never return errors directly. The first
// failure is stored once on the session and reported to every watcher on its
// next read, so a dead connection never leaves a caller hanging.
//
// # Subscriptions
//
// Subscribe issues a SubscribeRequest and renews it shortly before the
// server-declared expireTime. The returned Subscription yields only
// SubscribeData envelopes.
//
// # Reconnection
//
// Supervisor wraps a connect-authenticate-consume function in an unbounded
// retry loop with a fixed backoff. It is the only retry policy in the
// package.
//
// # Thread Safety
//
// Session, Stream and Subscription methods are safe for concurrent use.
package cirrus
