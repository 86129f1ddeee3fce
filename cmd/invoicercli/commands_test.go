package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fuentelabs/invoicer/adminconf"
	"github.com/fuentelabs/invoicer/journal"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/stretchr/testify/require"
)

// TestBuildAdminRequest checks that the platform can open the envelope and
// read the request.
func TestBuildAdminRequest(t *testing.T) {
	t.Parallel()

	admin, err := nostr.GenerateKeys()
	require.NoError(t, err)
	platform, err := nostr.GenerateKeys()
	require.NoError(t, err)

	envelope, err := buildAdminRequest(
		admin, platform.PublicKey(), "exchangerate", "61250.5",
	)
	require.NoError(t, err)
	require.Equal(t, orders.KindAdminRequest, envelope.Kind)
	require.Equal(t, admin.PublicKey(), envelope.PubKey)

	inner, err := platform.Unwrap(envelope)
	require.NoError(t, err)

	req, err := adminconf.ParseServerRequest(inner)
	require.NoError(t, err)
	require.Equal(t, adminconf.ExchangeRate, req.ConfigType)
	require.Equal(t, "61250.5", req.ConfigStr)

	_, err = buildAdminRequest(admin, "abc", "ExchangeRate", "1")
	require.Error(t, err)

	_, err = buildAdminRequest(
		admin, platform.PublicKey(), "Nope", "1",
	)
	require.ErrorIs(t, err, adminconf.ErrUnknownConfigType)

	_, err = buildAdminRequest(
		admin, platform.PublicKey(), "CommerceWhitelist", "not json",
	)
	require.ErrorIs(t, err, adminconf.ErrInvalidKeyList)
}

// TestFetchStatus checks decoding of status server replies and errors.
func TestFetchStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Path != "/orders/abc" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"order not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"order_id":"abc","history":[]}`))
		},
	))
	t.Cleanup(srv.Close)

	var resp map[string]json.RawMessage
	require.NoError(t, fetchStatus(srv.URL, "/orders/abc", &resp))
	require.Equal(t, `"abc"`, string(resp["order_id"]))

	// Bare host:port gets a scheme.
	host := strings.TrimPrefix(srv.URL, "http://")
	require.NoError(t, fetchStatus(host, "/orders/abc", &resp))

	err := fetchStatus(srv.URL, "/orders/nope", &resp)
	require.ErrorContains(t, err, "order not found")
}

func TestRenderInterventions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderInterventions(&buf, []journal.Intervention{{
		Seq:     1,
		Time:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		OrderID: "order-1",
		Action:  "cancel hold invoice",
		Error:   "node down",
	}})

	out := buf.String()
	require.Contains(t, out, "order-1")
	require.Contains(t, out, "cancel hold invoice")
	require.Contains(t, out, "2026-03-01T12:00:00Z")
}
