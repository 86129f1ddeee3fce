package uploads

import "errors"

var (
	// ErrMissingCredentials is returned when the API key or app id is not
	// configured.
	ErrMissingCredentials = errors.New("upload credentials not configured")

	// ErrInvalidRequest is returned for presign requests without a usable
	// file description.
	ErrInvalidRequest = errors.New("invalid upload request")

	// ErrBadSignature is returned when a presigned URL does not carry a
	// valid signature.
	ErrBadSignature = errors.New("bad presigned url signature")

	// ErrExpired is returned for presigned URLs past their expiry.
	ErrExpired = errors.New("presigned url expired")
)
