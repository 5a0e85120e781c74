package cirrus

import "errors"

// Domain errors for the Cirrus protocol client.
var (
	// ErrConnectionFailed is returned when the WebSocket handshake fails.
	ErrConnectionFailed = errors.New("cirrus: connection failed")

	// ErrClosed is returned when reading from or writing to a session that
	// has been closed locally or by the peer.
	ErrClosed = errors.New("cirrus: session closed")

	// ErrTimeout is returned when no matching frame arrived within the
	// per-read timeout.
	ErrTimeout = errors.New("cirrus: operation timed out")

	// ErrRequestFailed is returned when a response carries a non-success
	// responseCode.
	ErrRequestFailed = errors.New("cirrus: request failed")

	// ErrKeepAliveFailed is returned when a PeriodicRequest is not acknowledged
	// with success. It is fatal to the session.
	ErrKeepAliveFailed = errors.New("cirrus: keep-alive failed")

	// ErrSubscriptionFailed is returned when a subscribe or renewal request
	// is rejected by the server.
	ErrSubscriptionFailed = errors.New("cirrus: subscription failed")

	// ErrInvalidFrame is returned when an inbound frame cannot be decoded.
	ErrInvalidFrame = errors.New("cirrus: invalid frame")

	// ErrEncodingFailed is returned when a request cannot be serialised.
	ErrEncodingFailed = errors.New("cirrus: encoding failed")
)
