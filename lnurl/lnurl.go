package lnurl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	// DefaultTimeout bounds each request to the LNURL service.
	DefaultTimeout = 20 * time.Second

	// maxResponseSize caps the body read from the service.
	maxResponseSize = 1 << 16

	statusError = "ERROR"
)

// Config holds the parameters of the LNURL-pay client.
type Config struct {
	// Net is the network invoices must be issued for.
	Net *chaincfg.Params

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// Insecure resolves addresses over plain http. Only for tests
	// against local services.
	Insecure bool
}

// Client resolves lightning addresses into invoices.
type Client struct {
	cfg        *Config
	httpClient *http.Client
	scheme     string
}

// NewClient creates a new LNURL-pay client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	scheme := "https"
	if cfg.Insecure {
		scheme = "http"
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		scheme:     scheme,
	}
}

// PayParams is the first LNURL-pay response describing where and how much
// can be paid.
type PayParams struct {
	Callback    string `json:"callback"`
	MinSendable uint64 `json:"minSendable"`
	MaxSendable uint64 `json:"maxSendable"`
	Metadata    string `json:"metadata"`
	Tag         string `json:"tag"`
}

// PaymentRequest is a validated invoice obtained from a lightning address.
type PaymentRequest struct {
	// PR is the BOLT11 payment request.
	PR string

	// Hash is the payment hash of the invoice.
	Hash lntypes.Hash

	// Amount is the invoice amount.
	Amount lnwire.MilliSatoshi
}

// serviceResponse captures the error fields every LNURL response may carry.
type serviceResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type invoiceResponse struct {
	serviceResponse

	PR string `json:"pr"`
}

// SplitAddress splits a lightning address into user and domain.
func SplitAddress(address string) (string, string, error) {
	user, domain, ok := strings.Cut(strings.TrimSpace(address), "@")
	if !ok || user == "" || domain == "" || strings.Contains(domain, "@") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	return strings.ToLower(user), domain, nil
}

// FetchPayParams retrieves the LNURL-pay parameters of a lightning address.
func (c *Client) FetchPayParams(ctx context.Context,
	address string) (*PayParams, error) {

	user, domain, err := SplitAddress(address)
	if err != nil {
		return nil, err
	}

	u := url.URL{
		Scheme: c.scheme,
		Host:   domain,
		Path:   "/.well-known/lnurlp/" + user,
	}

	var params struct {
		serviceResponse
		PayParams
	}
	if err := c.get(ctx, u.String(), &params); err != nil {
		return nil, err
	}
	if params.Status == statusError {
		return nil, &ServiceError{Reason: params.Reason}
	}
	if params.Callback == "" {
		return nil, fmt.Errorf("%w: no callback", ErrBadResponse)
	}

	return &params.PayParams, nil
}

// RequestInvoice asks the service behind address for an invoice of amt. The
// returned invoice is decoded and checked to be for exactly amt on the
// configured network.
func (c *Client) RequestInvoice(ctx context.Context, address string,
	amt lnwire.MilliSatoshi) (*PaymentRequest, error) {

	params, err := c.FetchPayParams(ctx, address)
	if err != nil {
		return nil, err
	}

	if uint64(amt) < params.MinSendable ||
		(params.MaxSendable > 0 && uint64(amt) > params.MaxSendable) {

		return nil, fmt.Errorf("%w: %v not in [%d, %d] msat",
			ErrAmountOutOfRange, amt, params.MinSendable,
			params.MaxSendable)
	}

	callback, err := url.Parse(params.Callback)
	if err != nil {
		return nil, fmt.Errorf("%w: callback %q: %v", ErrBadResponse,
			params.Callback, err)
	}
	query := callback.Query()
	query.Set("amount", strconv.FormatUint(uint64(amt), 10))
	callback.RawQuery = query.Encode()

	var resp invoiceResponse
	if err := c.get(ctx, callback.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Status == statusError {
		return nil, &ServiceError{Reason: resp.Reason}
	}

	req, err := c.DecodeInvoice(resp.PR)
	if err != nil {
		return nil, err
	}
	if req.Amount != amt {
		return nil, fmt.Errorf("%w: requested %v, got %v",
			ErrAmountMismatch, amt, req.Amount)
	}

	log.Debugf("Resolved %s to invoice hash=%v amt=%v", address, req.Hash,
		req.Amount)

	return req, nil
}

// DecodeInvoice decodes a BOLT11 invoice for the configured network.
func (c *Client) DecodeInvoice(pr string) (*PaymentRequest, error) {
	if pr == "" {
		return nil, fmt.Errorf("%w: empty payment request",
			ErrBadResponse)
	}

	invoice, err := zpay32.Decode(pr, c.cfg.Net)
	if err != nil {
		return nil, fmt.Errorf("unable to decode invoice: %w", err)
	}
	if invoice.PaymentHash == nil {
		return nil, ErrMissingHash
	}

	req := &PaymentRequest{
		PR:   pr,
		Hash: lntypes.Hash(*invoice.PaymentHash),
	}
	if invoice.MilliSat != nil {
		req.Amount = *invoice.MilliSat
	}

	return req, nil
}

func (c *Client) get(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("GET %s: %w", target, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: GET %s: status %d", ErrBadResponse,
				target, resp.StatusCode)
		}

		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return nil
}
