package bot

import "errors"

var (
	// ErrMalformedNote is returned for notes whose content or envelope
	// cannot be decoded.
	ErrMalformedNote = errors.New("malformed note")

	// ErrUnhandledKind is returned for notes of a kind the router does not
	// process.
	ErrUnhandledKind = errors.New("unhandled note kind")

	// ErrUnauthorized is returned when the signer of a message may not
	// perform the requested action.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedStatus is returned for order updates requesting a
	// status the signer cannot set.
	ErrUnsupportedStatus = errors.New("unsupported status update")

	// ErrRateLimited is returned when a participant sends presign requests
	// faster than allowed.
	ErrRateLimited = errors.New("rate limited")

	// ErrUploadsDisabled is returned for presign requests when no upload
	// credentials are configured.
	ErrUploadsDisabled = errors.New("uploads not configured")
)
