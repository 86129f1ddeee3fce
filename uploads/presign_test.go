package uploads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

func newTestSigner(t *testing.T, ingest string) (*Signer, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(testTime)
	s, err := NewSigner(Config{
		APIKey:    "sk_test_secret",
		AppID:     "app123",
		IngestURL: ingest,
		Expiry:    time.Minute,
		Clock:     clk,
	})
	require.NoError(t, err)

	return s, clk
}

func TestNewSigner(t *testing.T) {
	t.Parallel()

	_, err := NewSigner(Config{AppID: "app"})
	require.ErrorIs(t, err, ErrMissingCredentials)

	s, err := NewSigner(Config{APIKey: "key", AppID: "app"})
	require.NoError(t, err)
	require.Equal(t, "https://sea1.ingest.uploadthing.com",
		s.ingest.String())
}

func TestParseRequest(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest(`{"name":"menu.png","size":1024,` +
		`"type":"image/png"}`)
	require.NoError(t, err)
	require.Equal(t, "menu.png", req.Name)

	_, err = ParseRequest(`{"name":"","size":10}`)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ParseRequest(`{"name":"huge","size":99999999999}`)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = ParseRequest(`not json`)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	s, clk := newTestSigner(t, "https://ingest.test")

	presigned, err := s.Sign(&Request{
		Name: "menu.png", Size: 1024, Type: "image/png",
	})
	require.NoError(t, err)
	require.Equal(t, testTime.Add(time.Minute).UnixMilli(),
		presigned.Expires)

	parsed, err := url.Parse(presigned.URL)
	require.NoError(t, err)
	require.Equal(t, "/"+presigned.Key, parsed.Path)
	require.Equal(t, "app123", parsed.Query().Get("x-ut-identifier"))
	require.Equal(t, "inline",
		parsed.Query().Get("x-ut-content-disposition"))
	require.True(t, strings.HasPrefix(
		parsed.Query().Get("signature"), signaturePrefix,
	))

	require.NoError(t, s.Verify(presigned.URL))

	// Any change to the signed part invalidates the URL.
	tampered := strings.Replace(
		presigned.URL, "x-ut-file-size=1024", "x-ut-file-size=2048", 1,
	)
	require.ErrorIs(t, s.Verify(tampered), ErrBadSignature)
	require.ErrorIs(t, s.Verify("https://ingest.test/abc"),
		ErrBadSignature)

	clk.SetTime(testTime.Add(2 * time.Minute))
	require.ErrorIs(t, s.Verify(presigned.URL), ErrExpired)
}

func TestGenerateKeyUnique(t *testing.T) {
	t.Parallel()

	s, _ := newTestSigner(t, "https://ingest.test")

	a, b := s.GenerateKey(), s.GenerateKey()
	require.NotEqual(t, a, b)

	// Keys of one app share a prefix.
	require.Equal(t, a[:8], b[:8])
}

func TestRegister(t *testing.T) {
	t.Parallel()

	var got routeMetadata
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/route-metadata" ||
				r.Header.Get(apiKeyHeader) != "sk_test_secret" {

				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			err := json.NewDecoder(r.Body).Decode(&got)
			if err != nil {
				http.Error(w, err.Error(),
					http.StatusBadRequest)
				return
			}
		},
	))
	t.Cleanup(srv.Close)

	s, _ := newTestSigner(t, srv.URL)
	require.NoError(t, s.Register(context.Background(), "k1", "k2"))
	require.Equal(t, []string{"k1", "k2"}, got.FileKeys)

	bad, err := NewSigner(Config{
		APIKey: "wrong", AppID: "app123", IngestURL: srv.URL,
	})
	require.NoError(t, err)
	err = bad.Register(context.Background(), "k1")
	require.ErrorContains(t, err, "403")
}
