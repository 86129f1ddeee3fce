package nostr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func newTestKeys(t *testing.T) *Keys {
	t.Helper()

	keys, err := GenerateKeys()
	require.NoError(t, err)

	return keys
}

// TestSignVerify asserts that signed notes verify and that any change to a
// committed field breaks verification.
func TestSignVerify(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)

	tests := []struct {
		name   string
		mutate func(n *Note)
		err    error
	}{
		{
			name:   "untouched",
			mutate: func(n *Note) {},
		},
		{
			name: "content changed",
			mutate: func(n *Note) {
				n.Content = "tampered"
			},
			err: ErrIDMismatch,
		},
		{
			name: "tag added",
			mutate: func(n *Note) {
				n.Tags.Add("p", "deadbeef")
			},
			err: ErrIDMismatch,
		},
		{
			name: "kind changed",
			mutate: func(n *Note) {
				n.Kind++
			},
			err: ErrIDMismatch,
		},
		{
			name: "replaced by another valid note",
			mutate: func(n *Note) {
				other := &Note{Kind: 1, Content: "other"}
				require.NoError(t, keys.Sign(other))
				n.Content = other.Content
				n.Kind = other.Kind
				n.CreatedAt = other.CreatedAt
				n.Tags = other.Tags
				n.ID = other.ID
				n.Sig = other.Sig
			},
		},
		{
			name: "signature from another key",
			mutate: func(n *Note) {
				other := newTestKeys(t)
				copyNote := *n
				require.NoError(t, other.Sign(&copyNote))
				n.Sig = copyNote.Sig
			},
			err: ErrInvalidSignature,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n := &Note{
				Kind:    1,
				Content: "hello <world> & friends",
				Tags:    Tags{{"d", "x"}},
			}
			require.NoError(t, keys.Sign(n))

			test.mutate(n)

			err := n.Verify()
			if test.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, test.err)
		})
	}
}

// TestSignUsesClock checks that unset timestamps come from the clock.
func TestSignUsesClock(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	keys, err := GenerateKeys(WithClock(clock.NewTestClock(now)))
	require.NoError(t, err)

	n := &Note{Kind: 1}
	require.NoError(t, keys.Sign(n))
	require.Equal(t, now.Unix(), n.CreatedAt)
	require.Equal(t, Tags{}, n.Tags)
}

// TestParseKeys checks private key decoding.
func TestParseKeys(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)

	parsed, err := ParseKeys(keys.PrivateKeyHex())
	require.NoError(t, err)
	require.Equal(t, keys.PublicKey(), parsed.PublicKey())

	_, err = ParseKeys("zz")
	require.ErrorIs(t, err, ErrInvalidPrivKey)

	_, err = ParseKeys("0102")
	require.ErrorIs(t, err, ErrInvalidPrivKey)

	_, err = ParseKeys(
		"0000000000000000000000000000000000000000000000000000000000000000",
	)
	require.ErrorIs(t, err, ErrInvalidPrivKey)
}

// TestParseNoteRoundTrip checks that a marshalled note parses and verifies.
func TestParseNoteRoundTrip(t *testing.T) {
	t.Parallel()

	keys := newTestKeys(t)
	n := &Note{Kind: 38996, Content: `{"a":"<b>"}`}
	n.Tags.Add("d", "consumer-1")
	require.NoError(t, keys.Sign(n))

	raw, err := n.Marshal()
	require.NoError(t, err)

	parsed, err := ParseNote(raw)
	require.NoError(t, err)
	require.Equal(t, n, parsed)

	_, err = ParseNote([]byte("{"))
	require.ErrorIs(t, err, ErrMalformedNote)
}

// TestEncryptedNote checks both schemes end to end through signed notes.
func TestEncryptedNote(t *testing.T) {
	t.Parallel()

	for _, scheme := range []Scheme{SchemeNIP04, SchemeNIP44} {
		t.Run(scheme.String(), func(t *testing.T) {
			sender, err := GenerateKeys(WithScheme(scheme))
			require.NoError(t, err)
			recipient := newTestKeys(t)
			stranger := newTestKeys(t)

			n := &Note{Kind: 4, Content: "secret order"}
			err = sender.SignEncrypted(n, recipient.PublicKey())
			require.NoError(t, err)
			require.NotEqual(t, "secret order", n.Content)
			require.NoError(t, n.Verify())

			plaintext, err := recipient.Decrypt(n)
			require.NoError(t, err)
			require.Equal(t, "secret order", plaintext)

			// The author can read its own note through the p tag.
			plaintext, err = sender.Decrypt(n)
			require.NoError(t, err)
			require.Equal(t, "secret order", plaintext)

			_, err = stranger.Decrypt(n)
			require.ErrorIs(t, err, ErrNotRecipient)
		})
	}
}

// TestEnvelope checks wrapping and unwrapping of inner notes.
func TestEnvelope(t *testing.T) {
	t.Parallel()

	platform := newTestKeys(t)
	buyer := newTestKeys(t)
	mallory := newTestKeys(t)

	inner := &Note{Kind: 8993, Content: `{"commerce":"x"}`}
	require.NoError(t, buyer.Sign(inner))

	envelope, err := buyer.Wrap(inner, 28990, platform.PublicKey())
	require.NoError(t, err)

	unwrapped, err := platform.Unwrap(envelope)
	require.NoError(t, err)
	require.Equal(t, inner, unwrapped)

	// Mallory re-wrapping the buyer's note is rejected.
	forged, err := mallory.Wrap(inner, 28990, platform.PublicKey())
	require.NoError(t, err)
	_, err = platform.Unwrap(forged)
	require.ErrorIs(t, err, ErrSignerMismatch)

	// A tampered inner note is rejected.
	tampered := *inner
	tampered.Content = `{"commerce":"y"}`
	envelope, err = buyer.Wrap(&tampered, 28990, platform.PublicKey())
	require.NoError(t, err)
	_, err = platform.Unwrap(envelope)
	require.ErrorIs(t, err, ErrIDMismatch)
}

// TestFilter checks wire encoding and local matching of filters.
func TestFilter(t *testing.T) {
	t.Parallel()

	f := Filter{
		Kinds: []uint32{28990},
		Tags:  map[string][]string{"p": {"abc"}},
		Since: 10,
	}

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	require.JSONEq(t, `{"kinds":[28990],"#p":["abc"],"since":10}`,
		string(raw))

	n := &Note{Kind: 28990, CreatedAt: 11, Tags: Tags{{"p", "abc"}}}
	require.True(t, f.Matches(n))

	n.Tags = Tags{{"p", "def"}}
	require.False(t, f.Matches(n))

	n.Tags = Tags{{"p", "abc"}}
	n.CreatedAt = 9
	require.False(t, f.Matches(n))
}

// TestParseRelayMessage checks decoding of relay frames.
func TestParseRelayMessage(t *testing.T) {
	t.Parallel()

	msg, err := ParseRelayMessage([]byte(`["EOSE","sub1"]`))
	require.NoError(t, err)
	require.Equal(t, EOSEMessage{SubscriptionID: "sub1"}, msg)

	msg, err = ParseRelayMessage([]byte(`["OK","id1",false,"blocked"]`))
	require.NoError(t, err)
	require.Equal(t, OKMessage{NoteID: "id1", Reason: "blocked"}, msg)

	msg, err = ParseRelayMessage(
		[]byte(`["EVENT","sub1",{"id":"a","kind":7,"tags":[]}]`),
	)
	require.NoError(t, err)
	event, ok := msg.(EventMessage)
	require.True(t, ok)
	require.Equal(t, "sub1", event.SubscriptionID)
	require.EqualValues(t, 7, event.Note.Kind)

	_, err = ParseRelayMessage([]byte(`["AUTH","challenge"]`))
	require.ErrorIs(t, err, ErrUnknownRelayMessage)

	_, err = ParseRelayMessage([]byte(`[]`))
	require.ErrorIs(t, err, ErrMalformedNote)

	req, err := EncodeReq("s", Filter{Kinds: []uint32{1}})
	require.NoError(t, err)
	require.JSONEq(t, `["REQ","s",{"kinds":[1]}]`, string(req))
}
