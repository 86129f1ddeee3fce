package lndclient

import "errors"

var (
	// ErrStreamIdle is returned when a stream delivers nothing but
	// keepalive pings for too long.
	ErrStreamIdle = errors.New("stream idle")

	// ErrStreamClosed is returned when a stream ends without an error
	// frame.
	ErrStreamClosed = errors.New("stream closed")

	// ErrPaymentFailed is returned when an outgoing payment fails.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrMalformedResponse is returned for responses that cannot be
	// decoded.
	ErrMalformedResponse = errors.New("malformed node response")

	// ErrNoMacaroon is returned when no macaroon path is configured.
	ErrNoMacaroon = errors.New("no macaroon configured")
)
