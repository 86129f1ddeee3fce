package relay

import "errors"

var (
	// ErrNoRelays is returned when a note could not be handed to any
	// relay.
	ErrNoRelays = errors.New("no relay connected")

	// ErrInvalidURL is returned for relay URLs that are not ws or wss.
	ErrInvalidURL = errors.New("invalid relay url")

	// ErrPoolStopped is returned for operations on a stopped pool.
	ErrPoolStopped = errors.New("relay pool stopped")
)
