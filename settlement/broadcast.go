package settlement

import (
	"context"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
)

// Recipients selects the participants that receive a state note.
type Recipients uint8

const (
	// ToConsumer addresses the buyer.
	ToConsumer Recipients = 1 << iota

	// ToCommerce addresses the merchant.
	ToCommerce

	// ToCourier addresses the assigned courier, or the courier hub while
	// an order ready for delivery is unclaimed.
	ToCourier
)

const (
	// ToParties addresses buyer and merchant.
	ToParties = ToConsumer | ToCommerce

	// ToAll addresses every participant that is due an update.
	ToAll = ToConsumer | ToCommerce | ToCourier
)

// courierRecipient returns the pubkey of the courier copy of state, or "" if
// no courier copy is due. prev is the order status before the change being
// published, so the hub also learns the outcome of an unclaimed order it was
// offered.
func (e *Engine) courierRecipient(state *orders.OrderInvoiceState,
	prev orders.OrderStatus) string {

	if courier := state.CourierPubKey(); courier != "" {
		return courier
	}
	if state.OrderStatus == orders.ReadyForDelivery ||
		prev == orders.ReadyForDelivery {

		return e.cfg.CourierHubPubKey
	}

	return ""
}

// SignUpdates signs one copy of state for each selected participant.
func (e *Engine) SignUpdates(state *orders.OrderInvoiceState,
	to Recipients) ([]*nostr.Note, error) {

	return e.signUpdates(state, state.OrderStatus, to)
}

func (e *Engine) signUpdates(state *orders.OrderInvoiceState,
	prev orders.OrderStatus, to Recipients) ([]*nostr.Note, error) {

	req, err := state.Request()
	if err != nil {
		return nil, err
	}

	type copyFor struct {
		participant orders.Participant
		recipient   string
	}
	var copies []copyFor
	if to&ToConsumer != 0 {
		copies = append(copies, copyFor{orders.Consumer, state.Buyer()})
	}
	if to&ToCommerce != 0 {
		copies = append(copies, copyFor{orders.Commerce, req.Commerce})
	}
	if to&ToCourier != 0 {
		if courier := e.courierRecipient(state, prev); courier != "" {
			copies = append(copies, copyFor{orders.Courier, courier})
		}
	}

	notes := make([]*nostr.Note, 0, len(copies))
	for _, c := range copies {
		note, err := state.SignUpdateFor(
			e.cfg.Keys, c.participant, c.recipient,
		)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	return notes, nil
}

// broadcastState publishes the selected copies of state, which left the
// order status prev.
func (e *Engine) broadcastState(ctx context.Context,
	state *orders.OrderInvoiceState, prev orders.OrderStatus,
	to Recipients) error {

	notes, err := e.signUpdates(state, prev, to)
	if err != nil {
		return err
	}

	e.cfg.Metrics.NotesBroadcast(len(notes))

	return e.cfg.Broadcaster.Broadcast(ctx, notes...)
}
