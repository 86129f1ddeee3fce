package lndclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/gorilla/websocket"
	"gopkg.in/macaroon.v2"
)

const (
	// macaroonHeader carries the hex macaroon on REST and websocket
	// requests.
	macaroonHeader = "Grpc-Metadata-macaroon"

	// DefaultMaxIdlePings is the number of consecutive keepalive pings a
	// stream may deliver without data before it is considered idle.
	DefaultMaxIdlePings = 5

	// DefaultPaymentTimeout bounds how long the router tries to pay an
	// invoice.
	DefaultPaymentTimeout = 10 * time.Second

	// DefaultFeeLimit is the routing fee limit for outgoing payments.
	DefaultFeeLimit = btcutil.Amount(150)

	// DefaultRequestTimeout bounds single REST calls.
	DefaultRequestTimeout = 30 * time.Second

	// writeWait bounds control frame writes.
	writeWait = 10 * time.Second
)

// Config holds the connection parameters of the payment node.
type Config struct {
	// Host is the host:port of the node's REST listener.
	Host string

	// MacaroonPath is the path of the macaroon file to authenticate
	// with.
	MacaroonPath string

	// TLSCertPath is the node's TLS certificate. If empty the
	// certificate is not verified.
	TLSCertPath string

	// DisableTLS talks plain http/ws. Only for local test nodes.
	DisableTLS bool

	// MaxIdlePings is the number of keepalive pings a stream may deliver
	// without data before it is closed with ErrStreamIdle. Zero disables
	// the check.
	MaxIdlePings int

	// PaymentTimeout is the router timeout for outgoing payments.
	PaymentTimeout time.Duration

	// FeeLimit is the routing fee limit of outgoing payments.
	FeeLimit btcutil.Amount

	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration
}

// Client talks to an LND node over its REST proxy.
type Client struct {
	cfg *Config

	macaroonHex string

	httpClient *http.Client
	dialer     *websocket.Dialer

	restScheme string
	wsScheme   string
}

// New creates a client. The macaroon file is read and validated once.
func New(cfg *Config) (*Client, error) {
	macHex, err := loadMacaroon(cfg.MacaroonPath)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := loadTLSConfig(cfg.TLSCertPath)
	if err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		cfg:         cfg,
		macaroonHex: macHex,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: timeout,
		},
		restScheme: "https",
		wsScheme:   "wss",
	}
	if cfg.DisableTLS {
		c.restScheme = "http"
		c.wsScheme = "ws"
	}

	return c, nil
}

// loadMacaroon reads a binary macaroon file and returns its hex encoding.
func loadMacaroon(path string) (string, error) {
	if path == "" {
		return "", ErrNoMacaroon
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read macaroon %s: %w", path,
			err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("unable to decode macaroon %s: %w", path,
			err)
	}

	log.Debugf("Loaded macaroon id=%x location=%q", mac.Id(),
		mac.Location())

	return hex.EncodeToString(raw), nil
}

// loadTLSConfig pins the node certificate when one is given.
func loadTLSConfig(certPath string) (*tls.Config, error) {
	if certPath == "" {
		return &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		}, nil
	}

	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read tls cert %s: %w",
			certPath, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", certPath)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// url returns the REST URL of a path.
func (c *Client) url(path string) string {
	return fmt.Sprintf("%s://%s%s", c.restScheme, c.cfg.Host, path)
}

// header returns the authentication header.
func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set(macaroonHeader, c.macaroonHex)

	return h
}

// do performs a REST call. A non nil in is sent as JSON body, a non nil out
// receives the decoded response.
func (c *Client) do(ctx context.Context, method, path string, in,
	out interface{}) error {

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return err
	}
	req.Header = c.header()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		rpcErr := &RPCError{Code: resp.StatusCode}
		if err := json.Unmarshal(raw, rpcErr); err != nil ||
			rpcErr.Message == "" {

			rpcErr.Message = string(raw)
		}

		return fmt.Errorf("%s %s: %w", method, path, rpcErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path,
			ErrMalformedResponse, err)
	}

	return nil
}
