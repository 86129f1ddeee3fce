package orders

import (
	"encoding/json"
	"fmt"

	"github.com/fuentelabs/invoicer/nostr"
)

// OrderRequest is the buyer's purchase intent. It is signed once by the buyer
// and never changes.
type OrderRequest struct {
	Commerce string          `json:"commerce"`
	Profile  ConsumerProfile `json:"profile"`
	Address  ConsumerAddress `json:"address"`
	Products ProductOrder    `json:"products"`
}

// ParseOrderRequest decodes the order carried by a signed request note.
func ParseOrderRequest(n *nostr.Note) (*OrderRequest, error) {
	if n.Kind != KindOrderRequest {
		return nil, fmt.Errorf("%w: %d", ErrWrongKind, n.Kind)
	}

	var req OrderRequest
	if err := json.Unmarshal([]byte(n.Content), &req); err != nil {
		return nil, err
	}

	if !nostr.ValidPubKey(req.Commerce) {
		return nil, fmt.Errorf("invalid commerce pubkey %q",
			req.Commerce)
	}
	if len(req.Products.Products) == 0 {
		return nil, ErrEmptyOrder
	}

	return &req, nil
}

// OrderUpdateRequest asks the platform to move an order to a new status.
type OrderUpdateRequest struct {
	OrderID      string      `json:"order_id"`
	StatusUpdate OrderStatus `json:"status_update"`
}

// ParseOrderUpdateRequest decodes a merchant or courier update note.
func ParseOrderUpdateRequest(n *nostr.Note) (*OrderUpdateRequest, error) {
	if n.Kind != KindCommerceStatusUpdate &&
		n.Kind != KindCourierStatusUpdate {

		return nil, fmt.Errorf("%w: %d", ErrWrongKind, n.Kind)
	}

	var req OrderUpdateRequest
	if err := json.Unmarshal([]byte(n.Content), &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, ErrMissingOrderID
	}

	return &req, nil
}

// OrderCancelRequest asks the platform to cancel an order on behalf of the
// buyer.
type OrderCancelRequest struct {
	OrderID string `json:"order_id"`
}

// ParseOrderCancelRequest decodes a buyer cancellation note.
func ParseOrderCancelRequest(n *nostr.Note) (*OrderCancelRequest, error) {
	if n.Kind != KindOrderCancel {
		return nil, fmt.Errorf("%w: %d", ErrWrongKind, n.Kind)
	}

	var req OrderCancelRequest
	if err := json.Unmarshal([]byte(n.Content), &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, ErrMissingOrderID
	}

	return &req, nil
}
