package nostr

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Note is a signed event as carried by the relays. Every field except Sig
// takes part in the id commitment.
type Note struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      uint32 `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Tags is the list of tags attached to a note. Each tag is a name followed by
// its values.
type Tags [][]string

// Values returns the first value of every tag with the given name.
func (t Tags) Values(name string) []string {
	var values []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}

	return values
}

// First returns the first value of the first tag with the given name.
func (t Tags) First(name string) (string, bool) {
	values := t.Values(name)
	if len(values) == 0 {
		return "", false
	}

	return values[0], true
}

// Add appends a tag.
func (t *Tags) Add(name string, values ...string) {
	tag := make([]string, 0, len(values)+1)
	tag = append(tag, name)
	tag = append(tag, values...)

	*t = append(*t, tag)
}

// commitment returns the serialization whose hash is the note id.
func (n *Note) commitment() ([]byte, error) {
	tags := n.Tags
	if tags == nil {
		tags = Tags{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	// Relays hash the raw characters, so '<', '>' and '&' must not be
	// escaped.
	enc.SetEscapeHTML(false)

	err := enc.Encode([]interface{}{
		0, n.PubKey, n.CreatedAt, n.Kind, tags, n.Content,
	})
	if err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash computes the id of the note from its contents.
func (n *Note) Hash() ([]byte, error) {
	c, err := n.commitment()
	if err != nil {
		return nil, err
	}

	return chainhash.HashB(c), nil
}

// Verify checks that the id commits to the note contents and that the
// signature is a valid BIP-340 signature of the id by PubKey.
func (n *Note) Verify() error {
	hash, err := n.Hash()
	if err != nil {
		return err
	}
	if hex.EncodeToString(hash) != strings.ToLower(n.ID) {
		return ErrIDMismatch
	}

	pubBytes, err := hex.DecodeString(n.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	sigBytes, err := hex.DecodeString(n.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !sig.Verify(hash, pub) {
		return ErrInvalidSignature
	}

	return nil
}

// String returns a short description of the note for logging.
func (n *Note) String() string {
	id := n.ID
	if len(id) > 12 {
		id = id[:12]
	}
	pub := n.PubKey
	if len(pub) > 12 {
		pub = pub[:12]
	}

	return fmt.Sprintf("note(id=%s, kind=%d, author=%s)", id, n.Kind, pub)
}

// ParseNote decodes a JSON note and verifies it.
func ParseNote(data []byte) (*Note, error) {
	var n Note
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
	}

	if err := n.Verify(); err != nil {
		return nil, err
	}

	return &n, nil
}

// Marshal returns the JSON encoding of the note.
func (n *Note) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

// Clone returns a deep copy of the note.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}

	c := *n
	if n.Tags != nil {
		c.Tags = make(Tags, len(n.Tags))
		for i, tag := range n.Tags {
			c.Tags[i] = append([]string(nil), tag...)
		}
	}

	return &c
}
