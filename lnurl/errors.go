package lnurl

import "errors"

var (
	// ErrInvalidAddress is returned for a lightning address that is not
	// of the form user@domain.
	ErrInvalidAddress = errors.New("invalid lightning address")

	// ErrAmountOutOfRange is returned when the requested amount is
	// outside the sendable range advertised by the service.
	ErrAmountOutOfRange = errors.New("amount outside sendable range")

	// ErrAmountMismatch is returned when the invoice handed out by the
	// callback is not for the requested amount.
	ErrAmountMismatch = errors.New("invoice amount mismatch")

	// ErrMissingHash is returned for an invoice without payment hash.
	ErrMissingHash = errors.New("invoice has no payment hash")

	// ErrBadResponse is returned when the service answers with something
	// that is not an LNURL-pay response.
	ErrBadResponse = errors.New("malformed lnurl response")
)

// ServiceError is an error reported by the LNURL service itself through
// a {"status":"ERROR"} response.
type ServiceError struct {
	Reason string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return "lnurl service error: " + e.Reason
}
