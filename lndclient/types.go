package lndclient

import (
	"fmt"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// InvoiceState is the state of an invoice as reported by the node.
type InvoiceState string

const (
	// InvoiceOpen is an invoice that has not been paid.
	InvoiceOpen InvoiceState = "OPEN"

	// InvoiceAccepted is a hold invoice whose HTLCs are locked in but not
	// settled.
	InvoiceAccepted InvoiceState = "ACCEPTED"

	// InvoiceSettled is a paid invoice.
	InvoiceSettled InvoiceState = "SETTLED"

	// InvoiceCanceled is a canceled invoice. Any HTLCs were returned.
	InvoiceCanceled InvoiceState = "CANCELED"
)

// IsFinal reports whether the invoice can no longer change.
func (s InvoiceState) IsFinal() bool {
	return s == InvoiceSettled || s == InvoiceCanceled
}

// PaymentStatus is the state of an outgoing payment.
type PaymentStatus string

const (
	PaymentUnknown   PaymentStatus = "UNKNOWN"
	PaymentInFlight  PaymentStatus = "IN_FLIGHT"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentInitiated PaymentStatus = "INITIATED"
)

// IsFinal reports whether the payment reached a terminal status.
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

// Info is the subset of getinfo used by the daemon.
type Info struct {
	IdentityPubkey    string   `json:"identity_pubkey"`
	Alias             string   `json:"alias"`
	Version           string   `json:"version"`
	BlockHeight       uint32   `json:"block_height"`
	SyncedToChain     bool     `json:"synced_to_chain"`
	SyncedToGraph     bool     `json:"synced_to_graph"`
	NumActiveChannels uint32   `json:"num_active_channels"`
	Uris              []string `json:"uris"`
}

// Invoice is an invoice as returned by the REST proxy. Byte fields are
// base64 and 64-bit integers are strings on the wire.
type Invoice struct {
	Memo           string       `json:"memo"`
	RHash          []byte       `json:"r_hash"`
	RPreimage      []byte       `json:"r_preimage"`
	ValueMsat      int64        `json:"value_msat,string"`
	PaymentRequest string       `json:"payment_request"`
	AddIndex       uint64       `json:"add_index,string"`
	SettleIndex    uint64       `json:"settle_index,string"`
	AmtPaidMsat    int64        `json:"amt_paid_msat,string"`
	State          InvoiceState `json:"state"`
	PaymentAddr    []byte       `json:"payment_addr"`
}

// Hash returns the payment hash of the invoice.
func (i *Invoice) Hash() (lntypes.Hash, error) {
	return lntypes.MakeHash(i.RHash)
}

// addInvoiceRequest is the body of POST /v1/invoices.
type addInvoiceRequest struct {
	ValueMsat int64  `json:"value_msat,string"`
	Memo      string `json:"memo,omitempty"`
}

// AddInvoiceResponse is the plain invoice created by the node.
type AddInvoiceResponse struct {
	RHash          []byte `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
	AddIndex       uint64 `json:"add_index,string"`
	PaymentAddr    []byte `json:"payment_addr"`
}

// addHoldInvoiceRequest is the body of POST /v2/invoices/hodl.
type addHoldInvoiceRequest struct {
	Hash      []byte `json:"hash"`
	ValueMsat int64  `json:"value_msat,string"`
	Memo      string `json:"memo,omitempty"`
	Expiry    int64  `json:"expiry,string,omitempty"`
}

// HoldInvoice is a HODL invoice created by the node.
type HoldInvoice struct {
	Hash           lntypes.Hash `json:"-"`
	PaymentRequest string       `json:"payment_request"`
	AddIndex       uint64       `json:"add_index,string"`
	PaymentAddr    []byte       `json:"payment_addr"`
}

type settleInvoiceRequest struct {
	Preimage []byte `json:"preimage"`
}

type cancelInvoiceRequest struct {
	PaymentHash []byte `json:"payment_hash"`
}

// SendPaymentRequest is the request sent on the router stream.
type SendPaymentRequest struct {
	PaymentRequest   string `json:"payment_request"`
	TimeoutSeconds   int32  `json:"timeout_seconds"`
	FeeLimitSat      int64  `json:"fee_limit_sat,string"`
	AllowSelfPayment bool   `json:"allow_self_payment"`
}

// Payment is a status update of an outgoing payment.
type Payment struct {
	PaymentHash     string        `json:"payment_hash"`
	PaymentPreimage string        `json:"payment_preimage"`
	ValueMsat       int64         `json:"value_msat,string"`
	FeeMsat         int64         `json:"fee_msat,string"`
	Status          PaymentStatus `json:"status"`
	FailureReason   string        `json:"failure_reason"`
}

// Preimage decodes the preimage revealed by a successful payment.
func (p *Payment) Preimage() (lntypes.Preimage, error) {
	return lntypes.MakePreimageFromStr(p.PaymentPreimage)
}

// Amount returns the paid amount.
func (p *Payment) Amount() lnwire.MilliSatoshi {
	return lnwire.MilliSatoshi(p.ValueMsat)
}

// RPCError is an error returned by the node, either as the body of a failed
// REST call or as the error frame of a stream.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("lnd error %d: %s", e.Code, e.Message)
}

// streamFrame wraps every message of a REST stream.
type streamFrame[T any] struct {
	Result *T        `json:"result"`
	Error  *RPCError `json:"error"`
}
