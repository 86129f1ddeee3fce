package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fuentelabs/invoicer/lndclient"
	"github.com/fuentelabs/invoicer/lnurl"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

const waitTimeout = 5 * time.Second

var errNodeDown = errors.New("node down")

// fakeSub is one invoice subscription handed out by fakeNode.
type fakeSub struct {
	hash    lntypes.Hash
	updates chan *lndclient.Invoice
	errs    chan error
}

// send delivers an invoice state to the watcher.
func (s *fakeSub) send(t *testing.T, state lndclient.InvoiceState) {
	t.Helper()

	select {
	case s.updates <- &lndclient.Invoice{State: state}:
	case <-time.After(waitTimeout):
		t.Fatalf("watcher did not read %s", state)
	}
}

// end closes the stream with err.
func (s *fakeSub) end(err error) {
	s.errs <- err
	close(s.updates)
}

type fakeNode struct {
	mu sync.Mutex

	holds    map[lntypes.Hash]lnwire.MilliSatoshi
	canceled []lntypes.Hash
	settled  []lntypes.Preimage
	paid     []string

	cancelErr error
	pay       func(ctx context.Context, pr string) (*lndclient.Payment,
		error)

	subs chan *fakeSub
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		holds: make(map[lntypes.Hash]lnwire.MilliSatoshi),
		subs:  make(chan *fakeSub, 8),
	}
}

func (f *fakeNode) AddHoldInvoice(_ context.Context, hash lntypes.Hash,
	amt lnwire.MilliSatoshi) (*lndclient.HoldInvoice, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.holds[hash]; ok {
		return nil, errors.New("invoice with payment hash already " +
			"exists")
	}
	f.holds[hash] = amt

	return &lndclient.HoldInvoice{
		Hash:           hash,
		PaymentRequest: "lnbcrt-hodl",
		AddIndex:       7,
		PaymentAddr:    []byte{0xab, 0xcd},
	}, nil
}

func (f *fakeNode) SubscribeSingleInvoice(_ context.Context,
	hash lntypes.Hash) (<-chan *lndclient.Invoice, <-chan error, error) {

	sub := &fakeSub{
		hash:    hash,
		updates: make(chan *lndclient.Invoice),
		errs:    make(chan error, 1),
	}
	f.subs <- sub

	return sub.updates, sub.errs, nil
}

func (f *fakeNode) SettleInvoice(_ context.Context,
	preimage lntypes.Preimage) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.settled = append(f.settled, preimage)

	return nil
}

func (f *fakeNode) CancelInvoice(_ context.Context, hash lntypes.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.canceled = append(f.canceled, hash)

	return f.cancelErr
}

func (f *fakeNode) PayInvoice(ctx context.Context,
	pr string) (*lndclient.Payment, error) {

	f.mu.Lock()
	f.paid = append(f.paid, pr)
	pay := f.pay
	f.mu.Unlock()

	return pay(ctx, pr)
}

func (f *fakeNode) numCanceled() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.canceled)
}

func (f *fakeNode) numSettled() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.settled)
}

func (f *fakeNode) holdAmount(hash lntypes.Hash) lnwire.MilliSatoshi {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.holds[hash]
}

// nextSub waits for the watcher to subscribe.
func (f *fakeNode) nextSub(t *testing.T) *fakeSub {
	t.Helper()

	select {
	case sub := <-f.subs:
		return sub
	case <-time.After(waitTimeout):
		t.Fatalf("no invoice subscription")
		return nil
	}
}

// fakeInvoices hands out merchant invoices locked to a fixed preimage.
type fakeInvoices struct {
	mu sync.Mutex

	preimage  lntypes.Preimage
	requested []lnwire.MilliSatoshi
	err       error
}

func (f *fakeInvoices) RequestInvoice(_ context.Context, address string,
	amt lnwire.MilliSatoshi) (*lnurl.PaymentRequest, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.requested = append(f.requested, amt)

	return &lnurl.PaymentRequest{
		PR:     "lnbcrt-merchant",
		Hash:   f.preimage.Hash(),
		Amount: amt,
	}, nil
}

func (f *fakeInvoices) DecodeInvoice(pr string) (*lnurl.PaymentRequest,
	error) {

	if pr != "lnbcrt-merchant" {
		return nil, lnurl.ErrMissingHash
	}

	return &lnurl.PaymentRequest{PR: pr, Hash: f.preimage.Hash()}, nil
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

// recipients returns the p tag of every broadcast note.
func (f *fakeBroadcaster) recipients() []string {
	var recipients []string
	for _, n := range f.sent() {
		p, _ := n.Tags.First("p")
		recipients = append(recipients, p)
	}

	return recipients
}

type fakeJournal struct {
	mu            sync.Mutex
	reasons       []string
	interventions []string
}

func (f *fakeJournal) RecordTransition(_ *orders.OrderInvoiceState,
	reason string) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.reasons = append(f.reasons, reason)

	return nil
}

func (f *fakeJournal) RecordIntervention(_, action string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.interventions = append(f.interventions, action)

	return nil
}

func (f *fakeJournal) transitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.reasons...)
}

func (f *fakeJournal) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.interventions...)
}
