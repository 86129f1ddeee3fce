package orders

import (
	"encoding/json"
	"fmt"
)

// PaymentStatus tracks the buyer's escrowed payment.
type PaymentStatus string

const (
	// PaymentPending means the HODL invoice has not been paid yet.
	PaymentPending PaymentStatus = "PaymentPending"

	// PaymentReceived means the buyer's funds are locked in the HODL
	// invoice but not released.
	PaymentReceived PaymentStatus = "PaymentReceived"

	// PaymentFailed means the HODL invoice was canceled.
	PaymentFailed PaymentStatus = "PaymentFailed"

	// PaymentSuccess means the HODL invoice was settled.
	PaymentSuccess PaymentStatus = "PaymentSuccess"
)

// Valid reports whether the status is known.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentReceived, PaymentFailed, PaymentSuccess:
		return true
	}

	return false
}

// Settled reports whether the escrow can no longer be canceled.
func (p PaymentStatus) Settled() bool {
	return p == PaymentSuccess
}

// Cancelable reports whether the HODL invoice may still be canceled.
func (p PaymentStatus) Cancelable() bool {
	return p == PaymentPending || p == PaymentReceived
}

// UnmarshalJSON rejects unknown statuses.
func (p *PaymentStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !PaymentStatus(s).Valid() {
		return fmt.Errorf("unknown payment status %q", s)
	}
	*p = PaymentStatus(s)

	return nil
}

// OrderStatus tracks fulfillment.
type OrderStatus string

const (
	Pending          OrderStatus = "Pending"
	Preparing        OrderStatus = "Preparing"
	ReadyForDelivery OrderStatus = "ReadyForDelivery"
	InDelivery       OrderStatus = "InDelivery"
	Completed        OrderStatus = "Completed"
	Canceled         OrderStatus = "Canceled"
)

// rank orders the fulfillment statuses. Canceled is outside the sequence.
var rank = map[OrderStatus]int{
	Pending:          0,
	Preparing:        1,
	ReadyForDelivery: 2,
	InDelivery:       3,
	Completed:        4,
}

// Valid reports whether the status is known.
func (o OrderStatus) Valid() bool {
	_, ok := rank[o]
	return ok || o == Canceled
}

// IsTerminal reports whether no further transitions are possible.
func (o OrderStatus) IsTerminal() bool {
	return o == Completed || o == Canceled
}

// UnmarshalJSON rejects unknown statuses.
func (o *OrderStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !OrderStatus(s).Valid() {
		return fmt.Errorf("unknown order status %q", s)
	}
	*o = OrderStatus(s)

	return nil
}

// Participant is one of the parties receiving order updates.
type Participant uint8

const (
	Consumer Participant = iota
	Commerce
	Courier
)

// String returns the participant discriminator used in update tags.
func (p Participant) String() string {
	switch p {
	case Consumer:
		return "consumer"
	case Commerce:
		return "commerce"
	case Courier:
		return "courier"
	default:
		return fmt.Sprintf("participant(%d)", uint8(p))
	}
}
