package bot

import (
	"context"
	"sync"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/fuentelabs/invoicer/registry"
	"github.com/fuentelabs/invoicer/settlement"
	"github.com/fuentelabs/invoicer/uploads"
)

// engineCall is one state changing call the router made.
type engineCall struct {
	method  string
	orderID string
	reason  string
	to      settlement.Recipients
}

// fakeEngine applies mutations to the registry like the settlement engine
// but without touching a payment node.
type fakeEngine struct {
	reg *registry.Registry

	mu    sync.Mutex
	calls []engineCall
	rates []float64
}

func (f *fakeEngine) record(c engineCall) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
}

func (f *fakeEngine) recorded() []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]engineCall(nil), f.calls...)
}

func (f *fakeEngine) HandleOrderRequest(_ context.Context,
	_ *orders.OrderRequest, note *nostr.Note,
	_ *orders.CommerceProfile, rate float64) (*nostr.Note, error) {

	state := orders.NewOrderInvoiceState(
		note.Clone(),
		&orders.CommerceInvoice{PaymentRequest: "lnbcrt-merchant"},
		&orders.ConsumerInvoice{PaymentRequest: "lnbcrt-hodl"},
	)
	if err := f.reg.AddOrder(state); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.rates = append(f.rates, rate)
	f.mu.Unlock()

	f.record(engineCall{method: "order", orderID: note.ID})

	return note, nil
}

func (f *fakeEngine) UpdateOrder(_ context.Context, orderID, reason string,
	to settlement.Recipients,
	mutate func(*orders.OrderInvoiceState) error) (*orders.OrderInvoiceState,
	error) {

	state, changed, err := f.reg.UpdateOrder(orderID, mutate)
	if err != nil {
		return state, err
	}
	if changed {
		f.record(engineCall{
			method: "update", orderID: orderID, reason: reason,
			to: to,
		})
	}

	return state, nil
}

func (f *fakeEngine) CancelOrderInvoice(ctx context.Context, orderID,
	reason string, to settlement.Recipients) (*orders.OrderInvoiceState,
	error) {

	state, _, err := f.reg.UpdateOrder(
		orderID, (*orders.OrderInvoiceState).Cancel,
	)
	if err != nil {
		return state, err
	}
	f.record(engineCall{
		method: "cancel", orderID: orderID, reason: reason, to: to,
	})

	return state, nil
}

func (f *fakeEngine) SettleOrderInvoice(_ context.Context,
	orderID string) error {

	f.record(engineCall{method: "settle", orderID: orderID})

	return nil
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	notes []*nostr.Note
}

func (f *fakeBroadcaster) Broadcast(_ context.Context,
	notes ...*nostr.Note) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.notes = append(f.notes, notes...)

	return nil
}

func (f *fakeBroadcaster) sent() []*nostr.Note {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*nostr.Note(nil), f.notes...)
}

// fakePresigner hands out fixed upload URLs.
type fakePresigner struct {
	mu         sync.Mutex
	registered []string
}

func (f *fakePresigner) Sign(req *uploads.Request) (*uploads.PresignedURL,
	error) {

	return &uploads.PresignedURL{
		URL:     "https://ingest.test/key-" + req.Name,
		Key:     "key-" + req.Name,
		Expires: 1,
	}, nil
}

func (f *fakePresigner) Register(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.registered = append(f.registered, keys...)

	return nil
}
