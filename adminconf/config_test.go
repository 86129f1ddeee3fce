package adminconf

import (
	"encoding/json"
	"testing"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/stretchr/testify/require"
)

func newKeys(t *testing.T) *nostr.Keys {
	t.Helper()

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	return keys
}

// TestParseConfigType checks codes, names and JSON forms.
func TestParseConfigType(t *testing.T) {
	t.Parallel()

	for _, ct := range AllConfigTypes {
		parsed, err := ParseConfigType(ct.Tag())
		require.NoError(t, err)
		require.Equal(t, ct, parsed)

		parsed, err = ParseConfigType(ct.String())
		require.NoError(t, err)
		require.Equal(t, ct, parsed)
	}

	_, err := ParseConfigType("6")
	require.ErrorIs(t, err, ErrUnknownConfigType)

	_, err = ParseConfigType("Nope")
	require.ErrorIs(t, err, ErrUnknownConfigType)

	var req ServerRequest
	err = json.Unmarshal(
		[]byte(`{"config_type":"ExchangeRate","config_str":"52000"}`),
		&req,
	)
	require.NoError(t, err)
	require.Equal(t, ExchangeRate, req.ConfigType)

	err = json.Unmarshal(
		[]byte(`{"config_type":5,"config_str":"[]"}`), &req,
	)
	require.NoError(t, err)
	require.Equal(t, CourierWhitelist, req.ConfigType)

	err = json.Unmarshal([]byte(`{"config_type":9}`), &req)
	require.ErrorIs(t, err, ErrUnknownConfigType)
}

// TestApply checks the validation of configuration values.
func TestApply(t *testing.T) {
	t.Parallel()

	merchant := newKeys(t).PublicKey()

	tests := []struct {
		name  string
		ct    ConfigType
		value string
		err   error
	}{
		{"rate number", ExchangeRate, "52000.5", nil},
		{"rate quoted", ExchangeRate, `"52000.5"`, nil},
		{"rate zero", ExchangeRate, "0", ErrInvalidRate},
		{"rate negative", ExchangeRate, "-3", ErrInvalidRate},
		{"rate garbage", ExchangeRate, "lots", ErrInvalidRate},
		{
			"commerce list", CommerceWhitelist,
			`["` + merchant + `"]`, nil,
		},
		{"bad key", CourierWhitelist, `["abc"]`, ErrInvalidKeyList},
		{"not a list", ConsumerBlacklist, `{}`, ErrInvalidKeyList},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := NewConfiguration()
			err := conf.Apply(test.ct, test.value)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				require.Equal(t, DefaultExchangeRate,
					conf.ExchangeRate())
				return
			}
			require.NoError(t, err)
		})
	}

	conf := NewConfiguration()
	require.NoError(t, conf.Apply(ExchangeRate, "52000.5"))
	require.Equal(t, 52000.5, conf.ExchangeRate())

	require.NoError(t, conf.Apply(
		CommerceWhitelist, `["`+merchant+`"]`,
	))
	require.True(t, conf.IsCommerceWhitelisted(merchant))
	require.False(t, conf.IsCourierWhitelisted(merchant))

	// Replacing a list drops previous members.
	require.NoError(t, conf.Apply(CommerceWhitelist, `[]`))
	require.False(t, conf.IsCommerceWhitelisted(merchant))
}

// TestConfigNoteRoundTrip checks that every config note signed by the
// platform restores the same entry, and that private entries are not
// readable from the note content.
func TestConfigNoteRoundTrip(t *testing.T) {
	t.Parallel()

	platform := newKeys(t)
	admin := newKeys(t).PublicKey()
	other := newKeys(t).PublicKey()

	conf := NewConfiguration(admin)
	require.NoError(t, conf.SetKeys(CommerceWhitelist, []string{other}))
	require.NoError(t, conf.SetKeys(CourierWhitelist, []string{other}))
	require.NoError(t, conf.SetKeys(ConsumerBlacklist, []string{other}))
	require.NoError(t, conf.SetKeys(UserRegistrations, []string{other}))
	require.NoError(t, conf.SetExchangeRate(48_250))

	restored := NewConfiguration()
	for _, ct := range AllConfigTypes {
		note, err := conf.Sign(platform, ct)
		require.NoError(t, err)
		require.NoError(t, note.Verify())
		require.Equal(t, orders.KindAdminConfig, note.Kind)

		d, ok := note.Tags.First("d")
		require.True(t, ok)
		require.Equal(t, ct.Tag(), d)

		want, err := conf.Value(ct)
		require.NoError(t, err)
		if ct.Private() {
			require.NotEqual(t, want, note.Content)
		} else {
			require.Equal(t, want, note.Content)
		}

		applied, err := restored.ApplyNote(platform, note)
		require.NoError(t, err)
		require.Equal(t, ct, applied)
	}

	require.True(t, restored.IsAdmin(admin))
	require.True(t, restored.IsCommerceWhitelisted(other))
	require.True(t, restored.IsCourierWhitelisted(other))
	require.True(t, restored.IsConsumerBlacklisted(other))
	require.True(t, restored.IsRegistered(other))
	require.Equal(t, 48_250.0, restored.ExchangeRate())
}

// TestApplyNoteRejectsForeignAuthor checks that only platform notes apply.
func TestApplyNoteRejectsForeignAuthor(t *testing.T) {
	t.Parallel()

	platform := newKeys(t)
	intruder := newKeys(t)

	conf := NewConfiguration()
	require.NoError(t, conf.SetExchangeRate(1_000_000))

	note, err := conf.Sign(intruder, ExchangeRate)
	require.NoError(t, err)

	target := NewConfiguration()
	_, err = target.ApplyNote(platform, note)
	require.ErrorIs(t, err, ErrNotPlatformNote)
	require.Equal(t, DefaultExchangeRate, target.ExchangeRate())
}

// TestCloneIsIndependent checks that clones do not share sets.
func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	admin := newKeys(t).PublicKey()

	conf := NewConfiguration(admin)
	clone := conf.Clone()
	require.NoError(t, clone.SetKeys(AdminWhitelist, nil))

	require.True(t, conf.IsAdmin(admin))
	require.False(t, clone.IsAdmin(admin))
}

// TestServerRequestSign checks the inner admin request note.
func TestServerRequestSign(t *testing.T) {
	t.Parallel()

	admin := newKeys(t)

	req := &ServerRequest{ConfigType: ExchangeRate, ConfigStr: "61000"}
	note, err := req.Sign(admin)
	require.NoError(t, err)
	require.NoError(t, note.Verify())
	require.Equal(t, orders.KindAdminRequest, note.Kind)

	parsed, err := ParseServerRequest(note)
	require.NoError(t, err)
	require.Equal(t, req, parsed)
}
