package orders

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the current state of the order.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrOrderTerminal is returned when a change targets a completed or
	// canceled order.
	ErrOrderTerminal = errors.New("order is in a terminal state")

	// ErrCourierAssigned is returned when a different courier tries to
	// claim an order that already has one.
	ErrCourierAssigned = errors.New("order already has a courier")

	// ErrInvariant is returned when a state would have a failed payment on
	// a live order.
	ErrInvariant = errors.New("failed payment on a live order")

	// ErrEmptyOrder is returned for orders without products.
	ErrEmptyOrder = errors.New("order has no products")

	// ErrInvalidPrice is returned for product prices that are not positive
	// decimal numbers.
	ErrInvalidPrice = errors.New("invalid product price")

	// ErrUnknownProduct is returned when an ordered product is not on the
	// merchant's menu.
	ErrUnknownProduct = errors.New("product not on menu")

	// ErrPriceMismatch is returned when an ordered product's price differs
	// from the menu price.
	ErrPriceMismatch = errors.New("product price differs from menu")

	// ErrWrongKind is returned when a note of an unexpected kind is
	// parsed.
	ErrWrongKind = errors.New("unexpected note kind")

	// ErrMissingOrderID is returned for requests that do not name an
	// order.
	ErrMissingOrderID = errors.New("missing order id")

	// ErrInvalidProfile is returned for profiles missing required fields.
	ErrInvalidProfile = errors.New("invalid profile")
)
