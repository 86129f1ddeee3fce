package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/fuentelabs/invoicer/lndclient"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Watcher exit reasons reported to the metrics.
const (
	exitFinal     = "final"
	exitAbandoned = "abandoned"
	exitShutdown  = "shutdown"
	exitPanic     = "panic"
)

// watchOrderPayment follows the escrow of one order until it is settled or
// canceled. A stream that only delivers keepalives, or that cannot be
// resubscribed, causes the escrow to be refunded. Cancellation of ctx ends
// the watcher without touching the invoice.
func (e *Engine) watchOrderPayment(ctx context.Context, orderID string,
	hash lntypes.Hash) {

	e.cfg.Metrics.WatcherStarted()

	reason := exitShutdown
	defer func() {
		if r := recover(); r != nil {
			reason = exitPanic
			e.intervention(orderID, "watch payment",
				fmt.Errorf("panic: %v", r))
		}
		e.cfg.Metrics.WatcherExited(reason)
	}()

	log.Debugf("Watching escrow of order %s (hash=%v)", orderID, hash)

	var (
		failures int
		backoff  = e.cfg.ReconnectBackoff
	)
	for {
		updates, errs, err := e.cfg.Node.SubscribeSingleInvoice(ctx, hash)
		if err == nil {
			var (
				final    bool
				progress bool
			)
			final, progress, err = e.consumeInvoiceStream(
				ctx, orderID, hash, updates, errs,
			)
			if final {
				reason = exitFinal
				return
			}
			if progress {
				failures = 0
				backoff = e.cfg.ReconnectBackoff
			}
		}

		if ctx.Err() != nil {
			log.Debugf("Watcher of order %s stopped", orderID)
			return
		}

		if errors.Is(err, lndclient.ErrStreamIdle) {
			reason = exitAbandoned
			e.abandonOrder(ctx, orderID, hash, err)
			return
		}

		failures++
		if failures > e.cfg.MaxReconnects {
			reason = exitAbandoned
			e.abandonOrder(ctx, orderID, hash, fmt.Errorf("gave "+
				"up after %d attempts: %w", failures, err))
			return
		}

		log.Warnf("Invoice stream of order %s failed (attempt %d/%d), "+
			"resubscribing in %v: %v", orderID, failures,
			e.cfg.MaxReconnects, backoff, err)

		select {
		case <-e.cfg.Clock.TickAfter(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

// consumeInvoiceStream applies invoice updates until the escrow is final or
// the stream ends. It reports whether a final state was reached, whether an
// update moved the order forward and the reason the stream ended. The node
// replays the current invoice state on every subscription, which is not
// progress.
func (e *Engine) consumeInvoiceStream(ctx context.Context, orderID string,
	hash lntypes.Hash, updates <-chan *lndclient.Invoice,
	errs <-chan error) (bool, bool, error) {

	var progress bool
	for {
		select {
		case inv, ok := <-updates:
			if !ok {
				select {
				case err := <-errs:
					return false, progress, err
				default:
					return false, progress,
						lndclient.ErrStreamClosed
				}
			}
			final, changed := e.handleInvoiceUpdate(
				ctx, orderID, hash, inv,
			)
			progress = progress || changed
			if final {
				return true, progress, nil
			}

		case <-ctx.Done():
			return false, progress, ctx.Err()
		}
	}
}

// handleInvoiceUpdate applies one invoice state to the order. It reports
// whether the escrow reached a final state and whether the order changed.
func (e *Engine) handleInvoiceUpdate(ctx context.Context, orderID string,
	hash lntypes.Hash, inv *lndclient.Invoice) (bool, bool) {

	log.Debugf("Escrow of order %s is %s", orderID, inv.State)

	switch inv.State {
	case lndclient.InvoiceOpen:
		return false, false

	case lndclient.InvoiceAccepted:
		_, changed, err := e.updateOrder(ctx, orderID,
			"escrow accepted", ToAll,
			(*orders.OrderInvoiceState).MarkPaymentReceived)
		if err != nil {
			log.Warnf("Order %s: unable to record accepted "+
				"escrow: %v", orderID, err)
		}

		return false, changed

	case lndclient.InvoiceSettled:
		_, changed, err := e.updateOrder(ctx, orderID,
			"escrow settled", ToAll,
			(*orders.OrderInvoiceState).MarkPaymentSuccess)
		if err != nil {
			log.Warnf("Order %s: unable to record settled "+
				"escrow: %v", orderID, err)
		}

		return true, changed

	case lndclient.InvoiceCanceled:
		if err := e.cfg.Node.CancelInvoice(ctx, hash); err != nil {
			log.Debugf("Cancel of canceled escrow %v: %v", hash, err)
		}

		_, changed, err := e.updateOrder(ctx, orderID,
			"escrow canceled", ToAll,
			(*orders.OrderInvoiceState).MarkPaymentFailed)
		if err != nil {
			log.Warnf("Order %s: unable to record canceled "+
				"escrow: %v", orderID, err)
		}

		return true, changed

	default:
		log.Warnf("Order %s: unknown invoice state %q", orderID,
			inv.State)

		return false, false
	}
}

// abandonOrder refunds the escrow of an order whose invoice can no longer be
// followed and fails the order. Orders being paid out or already settled
// are left alone.
func (e *Engine) abandonOrder(ctx context.Context, orderID string,
	hash lntypes.Hash, cause error) {

	var refund bool
	_, err := e.UpdateOrder(ctx, orderID, "escrow abandoned", ToAll,
		func(s *orders.OrderInvoiceState) error {
			if !s.PaymentStatus.Cancelable() {
				return nil
			}
			if e.payoutInFlight(orderID) {
				return fmt.Errorf("%w: %s", ErrPayoutInFlight,
					orderID)
			}
			refund = true

			return s.MarkPaymentFailed()
		})
	switch {
	case errors.Is(err, ErrPayoutInFlight):
		log.Warnf("Invoice stream of order %s lost during payout: %v",
			orderID, cause)
		return

	case err != nil:
		log.Errorf("Unable to fail order %s: %v", orderID, err)
		return

	case !refund:
		return
	}

	log.Warnf("Canceled escrow of order %s: %v", orderID, cause)

	e.cancelEscrow(ctx, orderID, hash)
}
