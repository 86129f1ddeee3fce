package nostr

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/lightningnetwork/lnd/clock"
)

// Scheme selects the encryption used for outgoing encrypted notes.
type Scheme uint8

const (
	// SchemeNIP04 is AES-256-CBC keyed with the raw ECDH x coordinate.
	SchemeNIP04 Scheme = iota

	// SchemeNIP44 is the versioned ChaCha20 + HMAC-SHA256 construction.
	SchemeNIP44
)

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeNIP04:
		return "nip04"
	case SchemeNIP44:
		return "nip44"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// Keys is a signing identity. It signs notes, and encrypts and decrypts
// contents exchanged with other public keys.
type Keys struct {
	priv   *btcec.PrivateKey
	pubHex string
	clock  clock.Clock
	scheme Scheme
}

// KeysOption modifies a Keys instance.
type KeysOption func(*Keys)

// WithClock sets the clock used to timestamp notes.
func WithClock(c clock.Clock) KeysOption {
	return func(k *Keys) {
		k.clock = c
	}
}

// WithScheme sets the encryption scheme used for outgoing notes.
func WithScheme(s Scheme) KeysOption {
	return func(k *Keys) {
		k.scheme = s
	}
}

// NewKeys wraps an existing private key.
func NewKeys(priv *btcec.PrivateKey, opts ...KeysOption) *Keys {
	k := &Keys{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		clock:  clock.NewDefaultClock(),
		scheme: SchemeNIP04,
	}
	for _, opt := range opts {
		opt(k)
	}

	return k
}

// GenerateKeys creates a fresh random identity.
func GenerateKeys(opts ...KeysOption) (*Keys, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return NewKeys(priv, opts...), nil
}

// ParseKeys decodes a hex encoded 32 byte private key.
func ParseKeys(privHex string, opts ...KeysOption) (*Keys, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivKey, err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: want %d bytes, got %d",
			ErrInvalidPrivKey, btcec.PrivKeyBytesLen, len(raw))
	}

	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidPrivKey)
	}

	return NewKeys(priv, opts...), nil
}

// PublicKey returns the hex x-only public key.
func (k *Keys) PublicKey() string {
	return k.pubHex
}

// PrivateKeyHex returns the hex encoded private key.
func (k *Keys) PrivateKeyHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// Sign fills in the author, timestamp, id and signature of the note.
func (k *Keys) Sign(n *Note) error {
	n.PubKey = k.pubHex
	if n.CreatedAt == 0 {
		n.CreatedAt = k.clock.Now().Unix()
	}
	if n.Tags == nil {
		n.Tags = Tags{}
	}

	hash, err := n.Hash()
	if err != nil {
		return err
	}

	sig, err := schnorr.Sign(k.priv, hash)
	if err != nil {
		return err
	}

	n.ID = hex.EncodeToString(hash)
	n.Sig = hex.EncodeToString(sig.Serialize())

	return nil
}

// SignEncrypted encrypts the note content for the recipient, tags the
// recipient and signs the note.
func (k *Keys) SignEncrypted(n *Note, recipient string) error {
	ciphertext, err := k.Encrypt(n.Content, recipient)
	if err != nil {
		return err
	}

	n.Content = ciphertext
	n.Tags.Add("p", recipient)

	return k.Sign(n)
}

// Encrypt encrypts plaintext for the recipient using the configured scheme.
func (k *Keys) Encrypt(plaintext, recipient string) (string, error) {
	shared, err := k.sharedSecret(recipient)
	if err != nil {
		return "", err
	}

	if k.scheme == SchemeNIP44 {
		return encryptNIP44(conversationKey(shared), plaintext, nil)
	}

	return encryptNIP04(shared, plaintext)
}

// Decrypt opens the content of an encrypted note. Notes authored by us are
// decrypted against their first p tag, all others against their author.
// Both schemes are accepted.
func (k *Keys) Decrypt(n *Note) (string, error) {
	recipients := n.Tags.Values("p")

	var counterparty string
	switch {
	case n.PubKey == k.pubHex:
		if len(recipients) == 0 {
			return "", ErrNoRecipient
		}
		counterparty = recipients[0]

	default:
		if len(recipients) > 0 && !slices.Contains(recipients, k.pubHex) {
			return "", ErrNotRecipient
		}
		counterparty = n.PubKey
	}

	return k.DecryptFrom(n.Content, counterparty)
}

// DecryptFrom opens a payload exchanged with the counterparty.
func (k *Keys) DecryptFrom(payload, counterparty string) (string, error) {
	shared, err := k.sharedSecret(counterparty)
	if err != nil {
		return "", err
	}

	if isNIP04(payload) {
		return decryptNIP04(shared, payload)
	}

	return decryptNIP44(conversationKey(shared), payload)
}

// sharedSecret returns the x coordinate of the ECDH point with the given
// x-only public key.
func (k *Keys) sharedSecret(pubHex string) ([]byte, error) {
	pub, err := ParsePubKey(pubHex)
	if err != nil {
		return nil, err
	}

	return btcec.GenerateSharedSecret(k.priv, pub), nil
}

// ParsePubKey decodes a hex x-only public key.
func ParsePubKey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	return pub, nil
}

// ValidPubKey reports whether s is a well formed x-only public key.
func ValidPubKey(s string) bool {
	_, err := ParsePubKey(s)
	return err == nil
}
