package adminconf

import "errors"

var (
	// ErrUnknownConfigType is returned for a configuration type code
	// outside the known set.
	ErrUnknownConfigType = errors.New("unknown configuration type")

	// ErrInvalidRate is returned for an exchange rate that is not a
	// positive finite number.
	ErrInvalidRate = errors.New("invalid exchange rate")

	// ErrInvalidKeyList is returned when a key list update is not a JSON
	// list of public keys.
	ErrInvalidKeyList = errors.New("invalid key list")

	// ErrMissingConfigType is returned for a config note without d tag.
	ErrMissingConfigType = errors.New("config note has no type")

	// ErrNotPlatformNote is returned when a config note is not authored
	// by the platform key.
	ErrNotPlatformNote = errors.New("config note not authored by platform")
)
