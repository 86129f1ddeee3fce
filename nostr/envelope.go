package nostr

import (
	"encoding/json"
	"fmt"
)

// Wrap seals an already signed inner note inside an envelope of the given
// kind, encrypted for the recipient and signed by k.
func (k *Keys) Wrap(inner *Note, kind uint32, recipient string) (*Note,
	error) {

	content, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}

	envelope := &Note{
		Kind:    kind,
		Content: string(content),
	}
	if err := k.SignEncrypted(envelope, recipient); err != nil {
		return nil, err
	}

	return envelope, nil
}

// Unwrap decrypts an envelope addressed to k and returns the verified inner
// note. The inner note must be signed by the same key as the envelope.
func (k *Keys) Unwrap(envelope *Note) (*Note, error) {
	plaintext, err := k.Decrypt(envelope)
	if err != nil {
		return nil, err
	}

	inner, err := ParseNote([]byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("inner note: %w", err)
	}

	if inner.PubKey != envelope.PubKey {
		return nil, ErrSignerMismatch
	}

	return inner, nil
}
