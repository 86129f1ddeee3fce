package settlement

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/fuentelabs/invoicer/lndclient"
	"github.com/fuentelabs/invoicer/lnurl"
	"github.com/fuentelabs/invoicer/monitoring"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/fuentelabs/invoicer/registry"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

const (
	// DefaultMaxReconnects is the number of times a watcher resubscribes
	// to a failed invoice stream before giving up on the order.
	DefaultMaxReconnects = 5

	// DefaultReconnectBackoff is the initial delay between invoice stream
	// subscriptions.
	DefaultReconnectBackoff = time.Second

	// maxReconnectBackoff caps the exponential backoff.
	maxReconnectBackoff = 30 * time.Second
)

// Node is the subset of the payment node used to escrow and release funds.
type Node interface {
	// AddHoldInvoice creates a HODL invoice locked to hash.
	AddHoldInvoice(ctx context.Context, hash lntypes.Hash,
		amt lnwire.MilliSatoshi) (*lndclient.HoldInvoice, error)

	// SubscribeSingleInvoice streams the state changes of an invoice.
	SubscribeSingleInvoice(ctx context.Context,
		hash lntypes.Hash) (<-chan *lndclient.Invoice, <-chan error,
		error)

	// SettleInvoice releases an accepted HODL invoice.
	SettleInvoice(ctx context.Context, preimage lntypes.Preimage) error

	// CancelInvoice cancels a HODL invoice.
	CancelInvoice(ctx context.Context, hash lntypes.Hash) error

	// PayInvoice pays a BOLT11 invoice and waits for a final status.
	PayInvoice(ctx context.Context, payReq string) (*lndclient.Payment,
		error)
}

// InvoiceSource resolves merchant invoices.
type InvoiceSource interface {
	// RequestInvoice fetches an invoice for amt from a lightning
	// address.
	RequestInvoice(ctx context.Context, address string,
		amt lnwire.MilliSatoshi) (*lnurl.PaymentRequest, error)

	// DecodeInvoice decodes a BOLT11 payment request.
	DecodeInvoice(pr string) (*lnurl.PaymentRequest, error)
}

// Broadcaster publishes signed notes.
type Broadcaster interface {
	Broadcast(ctx context.Context, notes ...*nostr.Note) error
}

// Journal records order progress and failures needing an operator.
type Journal interface {
	RecordTransition(state *orders.OrderInvoiceState, reason string) error
	RecordIntervention(orderID, action string, cause error) error
}

// Config holds the collaborators of the engine.
type Config struct {
	Node        Node
	Invoices    InvoiceSource
	Registry    *registry.Registry
	Broadcaster Broadcaster

	// Keys signs the order state notes.
	Keys *nostr.Keys

	// CourierHubPubKey receives the courier copy of orders that are ready
	// for delivery but not yet claimed. If empty no such copy is sent.
	CourierHubPubKey string

	// NetworkFee and ServiceFee are added to the buyer's escrow on top of
	// the merchant invoice.
	NetworkFee btcutil.Amount
	ServiceFee btcutil.Amount

	// MaxReconnects bounds invoice stream resubscriptions.
	MaxReconnects int

	// ReconnectBackoff is the initial resubscription delay. It doubles
	// after each failure.
	ReconnectBackoff time.Duration

	Clock clock.Clock

	// Journal is optional.
	Journal Journal

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// Engine creates escrow for orders, follows each escrow with one watcher
// goroutine and releases or refunds it.
type Engine struct {
	cfg *Config

	gm *fn.GoroutineManager

	payoutMtx sync.Mutex
	payouts   map[string]struct{}
}

// New creates an engine.
func New(cfg *Config) (*Engine, error) {
	switch {
	case cfg.Node == nil:
		return nil, errors.New("settlement: node required")
	case cfg.Invoices == nil:
		return nil, errors.New("settlement: invoice source required")
	case cfg.Registry == nil:
		return nil, errors.New("settlement: registry required")
	case cfg.Broadcaster == nil:
		return nil, errors.New("settlement: broadcaster required")
	case cfg.Keys == nil:
		return nil, errors.New("settlement: keys required")
	}

	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Engine{
		cfg:     cfg,
		gm:      fn.NewGoroutineManager(),
		payouts: make(map[string]struct{}),
	}, nil
}

// Stop cancels all watchers and payouts and waits for them to exit. The
// node keeps the invoices as they are.
func (e *Engine) Stop() {
	log.Info("Settlement engine shutting down...")
	e.gm.Stop()
	log.Info("Settlement engine shutdown complete")
}

// surcharge is the amount added to every escrow.
func (e *Engine) surcharge() btcutil.Amount {
	return e.cfg.NetworkFee + e.cfg.ServiceFee
}

// CreateOrderInvoice prices an order at rate, fetches the merchant invoice
// for that amount and creates the buyer's HODL invoice for the amount plus
// the surcharge, locked to the merchant invoice's hash.
func (e *Engine) CreateOrderInvoice(ctx context.Context,
	order *orders.OrderRequest, profile *orders.CommerceProfile,
	rate float64) (*lnurl.PaymentRequest, *lndclient.HoldInvoice, error) {

	total, err := order.Products.Total()
	if err != nil {
		return nil, nil, err
	}

	sats, err := SatsFromFiat(total, rate)
	if err != nil {
		return nil, nil, err
	}

	merchantInvoice, err := e.cfg.Invoices.RequestInvoice(
		ctx, profile.LnAddress, lnwire.NewMSatFromSatoshis(sats),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("merchant invoice: %w", err)
	}

	escrow := sats + e.surcharge()
	hold, err := e.cfg.Node.AddHoldInvoice(
		ctx, merchantInvoice.Hash, lnwire.NewMSatFromSatoshis(escrow),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("hold invoice: %w", err)
	}

	log.Infof("Priced order at %v (%s at %v), escrow %v", sats, total,
		rate, escrow)

	return merchantInvoice, hold, nil
}

// HandleOrderRequest issues the invoices of a new order, registers it,
// publishes the buyer's first state note and starts watching the escrow. The
// published note is returned.
func (e *Engine) HandleOrderRequest(ctx context.Context,
	order *orders.OrderRequest, note *nostr.Note,
	profile *orders.CommerceProfile, rate float64) (*nostr.Note, error) {

	if _, err := e.cfg.Registry.Order(note.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", registry.ErrOrderExists,
			note.ID)
	}

	merchantInvoice, hold, err := e.CreateOrderInvoice(
		ctx, order, profile, rate,
	)
	if err != nil {
		return nil, err
	}

	state := orders.NewOrderInvoiceState(
		note.Clone(),
		&orders.CommerceInvoice{PaymentRequest: merchantInvoice.PR},
		&orders.ConsumerInvoice{
			PaymentRequest: hold.PaymentRequest,
			PaymentAddr:    hex.EncodeToString(hold.PaymentAddr),
			AddIndex:       hold.AddIndex,
		},
	)
	if err := e.cfg.Registry.AddOrder(state); err != nil {
		e.cancelEscrow(ctx, state.ID(), merchantInvoice.Hash)
		return nil, err
	}

	e.cfg.Metrics.OrderCreated()
	e.recordTransition(state, "order created")

	update, err := state.SignUpdateFor(
		e.cfg.Keys, orders.Consumer, state.Buyer(),
	)
	if err != nil {
		return nil, err
	}

	e.cfg.Metrics.NotesBroadcast(1)
	if err := e.cfg.Broadcaster.Broadcast(ctx, update); err != nil {
		log.Errorf("Unable to broadcast order %s: %v", state.ID(), err)
	}

	if !e.startWatcher(ctx, state.ID(), merchantInvoice.Hash) {
		return nil, ErrShuttingDown
	}

	log.Infof("Order %s created for commerce %s", state.ID(),
		order.Commerce)

	return update, nil
}

// startWatcher spawns the escrow watcher of an order. The watcher is bound
// to the engine's lifetime, not to ctx.
func (e *Engine) startWatcher(ctx context.Context, orderID string,
	hash lntypes.Hash) bool {

	return e.gm.Go(context.WithoutCancel(ctx), func(ctx context.Context) {
		e.watchOrderPayment(ctx, orderID, hash)
	})
}

// UpdateOrder applies mutate to an order through the registry. When the
// order's progress changed the transition is journaled and the state is
// broadcast to the selected recipients.
func (e *Engine) UpdateOrder(ctx context.Context, orderID, reason string,
	to Recipients,
	mutate func(*orders.OrderInvoiceState) error) (*orders.OrderInvoiceState,
	error) {

	state, _, err := e.updateOrder(ctx, orderID, reason, to, mutate)

	return state, err
}

// updateOrder is UpdateOrder that also reports whether the order's progress
// changed.
func (e *Engine) updateOrder(ctx context.Context, orderID, reason string,
	to Recipients,
	mutate func(*orders.OrderInvoiceState) error) (*orders.OrderInvoiceState,
	bool, error) {

	var prev orders.OrderStatus
	state, changed, err := e.cfg.Registry.UpdateOrder(orderID,
		func(s *orders.OrderInvoiceState) error {
			prev = s.OrderStatus
			return mutate(s)
		})
	if err != nil {
		return state, false, err
	}
	if !changed {
		log.Debugf("Order %s unchanged by %s", orderID, reason)
		return state, false, nil
	}

	log.Infof("Order %s: %s, now %s/%s", orderID, reason,
		state.PaymentStatus, state.OrderStatus)

	e.recordTransition(state, reason)

	err = e.broadcastState(ctx, state, prev, to)
	if err != nil {
		log.Errorf("Unable to broadcast order %s: %v", orderID, err)
	}

	return state, true, nil
}

// orderHash returns the payment hash shared by an order's invoices.
func (e *Engine) orderHash(state *orders.OrderInvoiceState) (lntypes.Hash,
	error) {

	if state.CommerceInvoice == nil {
		return lntypes.Hash{}, ErrMissingInvoice
	}

	pr, err := e.cfg.Invoices.DecodeInvoice(
		state.CommerceInvoice.PaymentRequest,
	)
	if err != nil {
		return lntypes.Hash{}, err
	}

	return pr.Hash, nil
}

// CancelOrderInvoice cancels an order on behalf of a participant. If the
// escrow is still cancelable the HODL invoice is canceled at the node, unless
// the merchant is being paid. Orders whose escrow is settled are canceled
// without a refund. The new state is broadcast to the selected recipients.
func (e *Engine) CancelOrderInvoice(ctx context.Context, orderID,
	reason string, to Recipients) (*orders.OrderInvoiceState, error) {

	var refund bool
	state, err := e.UpdateOrder(ctx, orderID, reason, to,
		func(s *orders.OrderInvoiceState) error {
			refund = s.PaymentStatus.Cancelable()
			if refund && e.payoutInFlight(orderID) {
				return fmt.Errorf("%w: %s", ErrPayoutInFlight,
					orderID)
			}

			return s.Cancel()
		})
	if err != nil {
		return state, err
	}

	if refund {
		hash, err := e.orderHash(state)
		if err != nil {
			e.intervention(orderID, "decode order invoice", err)
			return state, nil
		}
		e.cancelEscrow(ctx, orderID, hash)
	}

	return state, nil
}

// cancelEscrow cancels a HODL invoice. Failures are journaled for the
// operator.
func (e *Engine) cancelEscrow(ctx context.Context, orderID string,
	hash lntypes.Hash) {

	if err := e.cfg.Node.CancelInvoice(ctx, hash); err != nil {
		e.intervention(orderID, "cancel hold invoice", err)
		return
	}

	log.Infof("Canceled hold invoice of order %s", orderID)
}

// SettleOrderInvoice starts paying the merchant of an accepted order. Once
// the merchant invoice is paid its preimage settles the buyer's escrow. The
// payout runs in the background and happens at most once per order.
func (e *Engine) SettleOrderInvoice(ctx context.Context,
	orderID string) error {

	// The guard is claimed before the state is read, so a cancel either
	// committed before and is seen here, or sees the guard.
	if !e.claimPayout(orderID) {
		return fmt.Errorf("%w: %s", ErrPayoutInFlight, orderID)
	}

	state, err := e.cfg.Registry.Order(orderID)
	if err != nil {
		e.releasePayout(orderID)
		return err
	}
	if state.PaymentStatus != orders.PaymentReceived ||
		state.IsTerminal() {

		e.releasePayout(orderID)
		return fmt.Errorf("%w: %s is %s/%s", ErrNotSettleable, orderID,
			state.PaymentStatus, state.OrderStatus)
	}

	hash, err := e.orderHash(state)
	if err != nil {
		e.releasePayout(orderID)
		return err
	}

	pr := state.CommerceInvoice.PaymentRequest
	started := e.gm.Go(context.WithoutCancel(ctx), func(ctx context.Context) {
		e.payout(ctx, orderID, pr, hash)
	})
	if !started {
		e.releasePayout(orderID)
		return ErrShuttingDown
	}

	return nil
}

// payout pays the merchant invoice and settles the escrow with the revealed
// preimage.
func (e *Engine) payout(ctx context.Context, orderID, payReq string,
	hash lntypes.Hash) {

	log.Infof("Paying merchant of order %s", orderID)

	payment, err := e.cfg.Node.PayInvoice(ctx, payReq)
	if err != nil {
		e.releasePayout(orderID)
		e.cfg.Metrics.Payout(false)

		if ctx.Err() != nil {
			log.Warnf("Payout of order %s interrupted: %v", orderID,
				err)
			return
		}
		e.intervention(orderID, "pay merchant invoice", err)

		return
	}

	// The merchant is paid from here on. The guard stays set until the
	// settled escrow is recorded, so the escrow is never refunded.
	preimage, err := payment.Preimage()
	if err == nil && !preimage.Matches(hash) {
		err = fmt.Errorf("%w: %v", ErrPreimageMismatch, hash)
	}
	if err != nil {
		e.cfg.Metrics.Payout(false)
		e.intervention(orderID, "verify merchant preimage", err)
		return
	}

	if err := e.cfg.Node.SettleInvoice(ctx, preimage); err != nil {
		e.cfg.Metrics.Payout(false)
		e.intervention(orderID, "settle hold invoice", err)
		return
	}

	e.cfg.Metrics.Payout(true)

	_, err = e.UpdateOrder(ctx, orderID, "escrow settled", ToAll,
		(*orders.OrderInvoiceState).MarkPaymentSuccess)
	if err != nil {
		log.Errorf("Unable to record payout of order %s: %v", orderID,
			err)
		return
	}

	e.releasePayout(orderID)
}

func (e *Engine) claimPayout(orderID string) bool {
	e.payoutMtx.Lock()
	defer e.payoutMtx.Unlock()

	if _, ok := e.payouts[orderID]; ok {
		return false
	}
	e.payouts[orderID] = struct{}{}

	return true
}

func (e *Engine) releasePayout(orderID string) {
	e.payoutMtx.Lock()
	delete(e.payouts, orderID)
	e.payoutMtx.Unlock()
}

func (e *Engine) payoutInFlight(orderID string) bool {
	e.payoutMtx.Lock()
	defer e.payoutMtx.Unlock()

	_, ok := e.payouts[orderID]

	return ok
}

func (e *Engine) recordTransition(state *orders.OrderInvoiceState,
	reason string) {

	e.cfg.Metrics.Transition(
		string(state.PaymentStatus), string(state.OrderStatus),
	)

	if e.cfg.Journal == nil {
		return
	}
	if err := e.cfg.Journal.RecordTransition(state, reason); err != nil {
		log.Errorf("Unable to journal order %s: %v", state.ID(), err)
	}
}

func (e *Engine) intervention(orderID, action string, cause error) {
	log.Errorf("Order %s: %s failed: %v", orderID, action, cause)

	e.cfg.Metrics.Intervention()

	if e.cfg.Journal == nil {
		return
	}
	err := e.cfg.Journal.RecordIntervention(orderID, action, cause)
	if err != nil {
		log.Errorf("Unable to journal intervention for %s: %v",
			orderID, err)
	}
}
