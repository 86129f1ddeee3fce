package registry

import "errors"

var (
	// ErrUnknownCommerce is returned for a merchant without any
	// registered notes.
	ErrUnknownCommerce = errors.New("unknown commerce")

	// ErrCommerceIncomplete is returned for a merchant that has not
	// published both a profile and a menu.
	ErrCommerceIncomplete = errors.New("commerce profile or menu missing")

	// ErrUnknownCourier is returned for a courier without a registered
	// profile.
	ErrUnknownCourier = errors.New("unknown courier")

	// ErrNotWhitelisted is returned when a participant is not on the
	// whitelist of its role.
	ErrNotWhitelisted = errors.New("not whitelisted")

	// ErrBlacklisted is returned for a blacklisted consumer.
	ErrBlacklisted = errors.New("consumer blacklisted")

	// ErrOrderExists is returned when registering an order id twice.
	ErrOrderExists = errors.New("order already registered")

	// ErrStaleConfig is returned for a config note older than the one
	// already applied.
	ErrStaleConfig = errors.New("stale config note")

	// ErrOrderNotFound is returned for an unknown order id.
	ErrOrderNotFound = errors.New("order not found")
)
