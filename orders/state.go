package orders

import (
	"encoding/json"
	"fmt"

	"github.com/fuentelabs/invoicer/nostr"
)

// CommerceInvoice is the invoice obtained from the merchant's lightning
// address. The platform pays it when the merchant accepts the order.
type CommerceInvoice struct {
	PaymentRequest string `json:"pr"`
}

// ConsumerInvoice is the HODL invoice the buyer pays into escrow.
type ConsumerInvoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentAddr    string `json:"payment_addr"`
	AddIndex       uint64 `json:"add_index,string"`
}

// OrderInvoiceState is the mutable projection of an order's lifecycle. It is
// the content of every order state note.
type OrderInvoiceState struct {
	Order           *nostr.Note      `json:"order"`
	CommerceInvoice *CommerceInvoice `json:"commerce_invoice"`
	ConsumerInvoice *ConsumerInvoice `json:"consumer_invoice"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	OrderStatus     OrderStatus      `json:"order_status"`
	Courier         *nostr.Note      `json:"courier"`
}

// NewOrderInvoiceState returns the initial state of an order whose invoices
// were just issued.
func NewOrderInvoiceState(order *nostr.Note, commerce *CommerceInvoice,
	consumer *ConsumerInvoice) *OrderInvoiceState {

	return &OrderInvoiceState{
		Order:           order,
		CommerceInvoice: commerce,
		ConsumerInvoice: consumer,
		PaymentStatus:   PaymentPending,
		OrderStatus:     Pending,
	}
}

// ID returns the order id, which is the id of the signed request note.
func (s *OrderInvoiceState) ID() string {
	return s.Order.ID
}

// Buyer returns the buyer's pubkey.
func (s *OrderInvoiceState) Buyer() string {
	return s.Order.PubKey
}

// Request decodes the embedded order request.
func (s *OrderInvoiceState) Request() (*OrderRequest, error) {
	return ParseOrderRequest(s.Order)
}

// CourierPubKey returns the assigned courier's pubkey, or "".
func (s *OrderInvoiceState) CourierPubKey() string {
	if s.Courier == nil {
		return ""
	}

	return s.Courier.PubKey
}

// IsTerminal reports whether the order is completed or canceled.
func (s *OrderInvoiceState) IsTerminal() bool {
	return s.OrderStatus.IsTerminal()
}

// Clone returns a deep copy.
func (s *OrderInvoiceState) Clone() *OrderInvoiceState {
	c := *s
	c.Order = s.Order.Clone()
	c.Courier = s.Courier.Clone()
	if s.CommerceInvoice != nil {
		inv := *s.CommerceInvoice
		c.CommerceInvoice = &inv
	}
	if s.ConsumerInvoice != nil {
		inv := *s.ConsumerInvoice
		c.ConsumerInvoice = &inv
	}

	return &c
}

// SameProgress reports whether both states carry the same statuses and
// courier. Broadcasts are only due when progress changes.
func (s *OrderInvoiceState) SameProgress(o *OrderInvoiceState) bool {
	return s.PaymentStatus == o.PaymentStatus &&
		s.OrderStatus == o.OrderStatus &&
		s.CourierPubKey() == o.CourierPubKey()
}

// Validate checks the state invariants.
func (s *OrderInvoiceState) Validate() error {
	if s.Order == nil {
		return fmt.Errorf("%w: missing order note", ErrInvalidTransition)
	}
	if !s.PaymentStatus.Valid() || !s.OrderStatus.Valid() {
		return fmt.Errorf("%w: unknown status", ErrInvalidTransition)
	}
	if s.PaymentStatus == PaymentFailed && s.OrderStatus != Canceled {
		return ErrInvariant
	}

	return nil
}

// MarkPaymentReceived records that the buyer's funds are locked in escrow.
func (s *OrderInvoiceState) MarkPaymentReceived() error {
	switch {
	case s.PaymentStatus == PaymentReceived:
		return nil

	case s.IsTerminal():
		return ErrOrderTerminal

	case s.PaymentStatus != PaymentPending:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition,
			s.PaymentStatus, PaymentReceived)
	}

	s.PaymentStatus = PaymentReceived

	return nil
}

// MarkPaymentSuccess records that escrow was settled. The merchant has been
// paid so the order moves to Preparing.
func (s *OrderInvoiceState) MarkPaymentSuccess() error {
	switch {
	case s.PaymentStatus == PaymentSuccess:
		return nil

	case s.IsTerminal():
		return ErrOrderTerminal

	case !s.PaymentStatus.Cancelable():
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition,
			s.PaymentStatus, PaymentSuccess)
	}

	s.PaymentStatus = PaymentSuccess
	if s.OrderStatus == Pending {
		s.OrderStatus = Preparing
	}

	return nil
}

// MarkPaymentFailed records that escrow was canceled, which cancels the
// order.
func (s *OrderInvoiceState) MarkPaymentFailed() error {
	switch {
	case s.PaymentStatus == PaymentFailed:
		return nil

	case s.PaymentStatus == PaymentSuccess:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition,
			s.PaymentStatus, PaymentFailed)
	}

	s.PaymentStatus = PaymentFailed
	s.OrderStatus = Canceled

	return nil
}

// Cancel cancels a live order. An unsettled payment fails with it.
func (s *OrderInvoiceState) Cancel() error {
	if s.IsTerminal() {
		return ErrOrderTerminal
	}

	if s.PaymentStatus.Cancelable() {
		s.PaymentStatus = PaymentFailed
	}
	s.OrderStatus = Canceled

	return nil
}

// MarkReadyForDelivery records the merchant finishing preparation.
func (s *OrderInvoiceState) MarkReadyForDelivery() error {
	switch {
	case s.OrderStatus == ReadyForDelivery:
		return nil

	case s.IsTerminal():
		return ErrOrderTerminal

	case s.PaymentStatus != PaymentSuccess || s.OrderStatus != Preparing:
		return fmt.Errorf("%w: %s/%s -> %s", ErrInvalidTransition,
			s.PaymentStatus, s.OrderStatus, ReadyForDelivery)
	}

	s.OrderStatus = ReadyForDelivery

	return nil
}

// AssignCourier sets the courier of an order. Only the first assignment
// takes effect; repeating it with the same courier is a no-op.
func (s *OrderInvoiceState) AssignCourier(courier *nostr.Note) error {
	switch {
	case s.Courier != nil && s.Courier.PubKey == courier.PubKey:
		return nil

	case s.Courier != nil:
		return ErrCourierAssigned

	case s.IsTerminal():
		return ErrOrderTerminal

	case s.PaymentStatus != PaymentSuccess:
		return fmt.Errorf("%w: courier claim before payment",
			ErrInvalidTransition)

	case s.OrderStatus != ReadyForDelivery:
		return fmt.Errorf("%w: courier claim while %s",
			ErrInvalidTransition, s.OrderStatus)
	}

	s.Courier = courier.Clone()

	return nil
}

// AdvanceDelivery applies a courier driven status. Only the next step of
// ReadyForDelivery -> InDelivery -> Completed is accepted, and only once a
// courier is assigned.
func (s *OrderInvoiceState) AdvanceDelivery(status OrderStatus) error {
	switch {
	case s.OrderStatus == status:
		return nil

	case s.IsTerminal():
		return ErrOrderTerminal

	case s.PaymentStatus != PaymentSuccess:
		return fmt.Errorf("%w: delivery without payment",
			ErrInvalidTransition)

	case status != InDelivery && status != Completed:
		return fmt.Errorf("%w: courier cannot set %s",
			ErrInvalidTransition, status)

	case s.Courier == nil:
		return fmt.Errorf("%w: delivery without courier",
			ErrInvalidTransition)

	case rank[status] != rank[s.OrderStatus]+1:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition,
			s.OrderStatus, status)
	}

	s.OrderStatus = status

	return nil
}

// SignUpdateFor produces the order state note for one participant, encrypted
// to recipient. The d tag threads updates per participant and order; the
// status tags expose progress without decrypting.
func (s *OrderInvoiceState) SignUpdateFor(keys *nostr.Keys,
	participant Participant, recipient string) (*nostr.Note, error) {

	content, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	n := &nostr.Note{
		Kind:    KindOrderState,
		Content: string(content),
	}
	n.Tags.Add("d", fmt.Sprintf("%s-%s", participant, s.ID()))
	n.Tags.Add("status", string(s.OrderStatus))
	n.Tags.Add("status", string(s.PaymentStatus))

	if err := keys.SignEncrypted(n, recipient); err != nil {
		return nil, err
	}

	return n, nil
}

// ParseStateNote decrypts and decodes an order state note.
func ParseStateNote(keys *nostr.Keys, n *nostr.Note) (*OrderInvoiceState,
	error) {

	if n.Kind != KindOrderState {
		return nil, fmt.Errorf("%w: %d", ErrWrongKind, n.Kind)
	}

	plaintext, err := keys.Decrypt(n)
	if err != nil {
		return nil, err
	}

	var state OrderInvoiceState
	if err := json.Unmarshal([]byte(plaintext), &state); err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}

	return &state, nil
}
