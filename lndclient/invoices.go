package lndclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// GetInfo returns basic information about the node.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/v1/getinfo", nil, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// AddInvoice creates a plain invoice for amt.
func (c *Client) AddInvoice(ctx context.Context,
	amt lnwire.MilliSatoshi) (*AddInvoiceResponse, error) {

	req := &addInvoiceRequest{ValueMsat: int64(amt)}

	var resp AddInvoiceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", req, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentRequest == "" {
		return nil, fmt.Errorf("%w: empty payment request",
			ErrMalformedResponse)
	}

	return &resp, nil
}

// AddHoldInvoice creates a HODL invoice for amt locked to hash. Paying it
// only accepts the HTLCs; the funds move once SettleInvoice reveals the
// preimage, or return to the payer on CancelInvoice.
func (c *Client) AddHoldInvoice(ctx context.Context, hash lntypes.Hash,
	amt lnwire.MilliSatoshi) (*HoldInvoice, error) {

	req := &addHoldInvoiceRequest{
		Hash:      hash[:],
		ValueMsat: int64(amt),
	}

	var resp HoldInvoice
	err := c.do(ctx, http.MethodPost, "/v2/invoices/hodl", req, &resp)
	if err != nil {
		return nil, err
	}
	if resp.PaymentRequest == "" {
		return nil, fmt.Errorf("%w: empty payment request",
			ErrMalformedResponse)
	}
	resp.Hash = hash

	log.Debugf("Created hold invoice hash=%v amt=%v add_index=%d", hash,
		amt, resp.AddIndex)

	return &resp, nil
}

// SettleInvoice releases an accepted HODL invoice.
func (c *Client) SettleInvoice(ctx context.Context,
	preimage lntypes.Preimage) error {

	req := &settleInvoiceRequest{Preimage: preimage[:]}

	return c.do(ctx, http.MethodPost, "/v2/invoices/settle", req, nil)
}

// CancelInvoice cancels a HODL invoice, returning any locked funds.
func (c *Client) CancelInvoice(ctx context.Context, hash lntypes.Hash) error {
	req := &cancelInvoiceRequest{PaymentHash: hash[:]}

	return c.do(ctx, http.MethodPost, "/v2/invoices/cancel", req, nil)
}
