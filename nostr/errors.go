package nostr

import "errors"

var (
	// ErrMalformedNote is returned when a note cannot be decoded.
	ErrMalformedNote = errors.New("malformed note")

	// ErrIDMismatch is returned when a note id does not commit to the
	// note contents.
	ErrIDMismatch = errors.New("note id does not match contents")

	// ErrInvalidSignature is returned when a note signature does not
	// verify.
	ErrInvalidSignature = errors.New("invalid note signature")

	// ErrInvalidPubKey is returned for public keys that are not 32 byte
	// x-only secp256k1 points.
	ErrInvalidPubKey = errors.New("invalid public key")

	// ErrInvalidPrivKey is returned for malformed private keys.
	ErrInvalidPrivKey = errors.New("invalid private key")

	// ErrNoRecipient is returned when an encrypted note has no p tag to
	// derive the counterparty from.
	ErrNoRecipient = errors.New("encrypted note has no recipient")

	// ErrNotRecipient is returned when a note is encrypted for somebody
	// else.
	ErrNotRecipient = errors.New("note not addressed to us")

	// ErrDecrypt is returned when an encrypted payload cannot be opened.
	ErrDecrypt = errors.New("unable to decrypt payload")

	// ErrUnsupportedVersion is returned for NIP-44 payloads with an
	// unknown version byte.
	ErrUnsupportedVersion = errors.New("unsupported encryption version")

	// ErrInvalidPlaintextLength is returned for NIP-44 plaintexts outside
	// of the 1..65535 byte range.
	ErrInvalidPlaintextLength = errors.New("invalid plaintext length")

	// ErrSignerMismatch is returned when the signer of an envelope differs
	// from the signer of the note it carries.
	ErrSignerMismatch = errors.New("envelope and inner note signers differ")
)
