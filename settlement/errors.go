package settlement

import "errors"

var (
	// ErrInvalidRate is returned when the exchange rate cannot be used to
	// convert a fiat total.
	ErrInvalidRate = errors.New("invalid exchange rate")

	// ErrZeroAmount is returned for orders worth less than one satoshi.
	ErrZeroAmount = errors.New("order amount rounds to zero")

	// ErrMissingInvoice is returned when an order state lacks the invoice
	// an operation needs.
	ErrMissingInvoice = errors.New("order has no invoice")

	// ErrNotSettleable is returned when a payout is requested for an
	// order whose escrow is not accepted.
	ErrNotSettleable = errors.New("order payment is not settleable")

	// ErrPayoutInFlight is returned when an order is already being paid
	// out.
	ErrPayoutInFlight = errors.New("payout already in flight")

	// ErrPreimageMismatch is returned when a merchant payment reveals a
	// preimage that does not match the escrow hash.
	ErrPreimageMismatch = errors.New("preimage does not match hash")

	// ErrShuttingDown is returned when work is requested after Stop.
	ErrShuttingDown = errors.New("settlement engine shutting down")
)
