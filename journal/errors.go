package journal

import "errors"

var (
	// ErrUnknownOrder is returned when no transition was recorded for an
	// order.
	ErrUnknownOrder = errors.New("no journal entries for order")

	// ErrCorruptEntry is returned when a stored entry cannot be decoded.
	ErrCorruptEntry = errors.New("corrupt journal entry")
)
