package bot

import (
	"errors"
	"fmt"

	"github.com/fuentelabs/invoicer/adminconf"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/fuentelabs/invoicer/uploads"
)

// Message is an inbound note decoded into one of the requests the router
// understands. The set of implementations is closed.
type Message interface {
	// Signer returns the pubkey the message is attributed to. For
	// enveloped messages this is the signer of the inner note.
	Signer() string

	// Name identifies the message type in logs and metrics.
	Name() string

	message()
}

// noteMsg carries the note a message was decoded from.
type noteMsg struct {
	Note *nostr.Note
}

func (m noteMsg) Signer() string {
	return m.Note.PubKey
}

func (noteMsg) message() {}

// OrderRequestMsg is a buyer placing an order.
type OrderRequestMsg struct {
	noteMsg
	Request *orders.OrderRequest
}

// OrderCancelMsg is a buyer canceling an order.
type OrderCancelMsg struct {
	noteMsg
	Request *orders.OrderCancelRequest
}

// CommerceUpdateMsg is a merchant moving an order along.
type CommerceUpdateMsg struct {
	noteMsg
	Update *orders.OrderUpdateRequest
}

// CourierUpdateMsg is a courier claiming or delivering an order.
type CourierUpdateMsg struct {
	noteMsg
	Update *orders.OrderUpdateRequest
}

// CommerceProfileMsg is a merchant publishing its profile.
type CommerceProfileMsg struct {
	noteMsg
}

// CommerceMenuMsg is a merchant publishing its menu.
type CommerceMenuMsg struct {
	noteMsg
}

// CourierProfileMsg is a courier publishing its profile, either in public or
// through an envelope. Content is the plaintext profile.
type CourierProfileMsg struct {
	noteMsg
	Content string
}

// ConsumerRegistrationMsg is a buyer registering with the platform. Content
// is the decrypted profile.
type ConsumerRegistrationMsg struct {
	noteMsg
	Content string
}

// AdminRequestMsg is an admin changing a configuration entry.
type AdminRequestMsg struct {
	noteMsg
	Request *adminconf.ServerRequest
}

// AdminConfigMsg is a configuration note previously published by the
// platform itself.
type AdminConfigMsg struct {
	noteMsg
}

// PresignRequestMsg asks for an upload URL.
type PresignRequestMsg struct {
	noteMsg
	Request *uploads.Request
}

func (OrderRequestMsg) Name() string         { return "order_request" }
func (OrderCancelMsg) Name() string          { return "order_cancel" }
func (CommerceUpdateMsg) Name() string       { return "commerce_update" }
func (CourierUpdateMsg) Name() string        { return "courier_update" }
func (CommerceProfileMsg) Name() string      { return "commerce_profile" }
func (CommerceMenuMsg) Name() string         { return "commerce_menu" }
func (CourierProfileMsg) Name() string       { return "courier_profile" }
func (ConsumerRegistrationMsg) Name() string { return "consumer_registration" }
func (AdminRequestMsg) Name() string         { return "admin_request" }
func (AdminConfigMsg) Name() string          { return "admin_config" }
func (PresignRequestMsg) Name() string       { return "presign_request" }

// ParseMessage verifies an inbound note, opens it if it is addressed to the
// platform and decodes it into a Message.
func ParseMessage(keys *nostr.Keys, n *nostr.Note) (Message, error) {
	if err := n.Verify(); err != nil {
		return nil, err
	}

	switch n.Kind {
	case orders.KindCommerceProfile:
		return CommerceProfileMsg{noteMsg{n}}, nil

	case orders.KindCommerceMenu:
		return CommerceMenuMsg{noteMsg{n}}, nil

	case orders.KindCourierProfilePublic:
		return CourierProfileMsg{noteMsg{n}, n.Content}, nil

	case orders.KindConsumerRegistry:
		content, err := keys.Decrypt(n)
		if err != nil {
			return nil, fmt.Errorf("%w: registration: %w",
				ErrMalformedNote, err)
		}

		return ConsumerRegistrationMsg{noteMsg{n}, content}, nil

	case orders.KindAdminConfig:
		if n.PubKey != keys.PublicKey() {
			return nil, fmt.Errorf("%w: config note by %s",
				ErrUnauthorized, n.PubKey)
		}

		return AdminConfigMsg{noteMsg{n}}, nil

	case orders.KindAdminRequest:
		inner, err := unwrap(keys, n)
		if err != nil {
			return nil, err
		}
		req, err := adminconf.ParseServerRequest(inner)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNote, err)
		}

		return AdminRequestMsg{noteMsg{inner}, req}, nil

	case orders.KindServerRequest:
		inner, err := unwrap(keys, n)
		if err != nil {
			return nil, err
		}

		return parseServerRequest(inner)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnhandledKind, n.Kind)
	}
}

// unwrap opens an envelope addressed to the platform.
func unwrap(keys *nostr.Keys, n *nostr.Note) (*nostr.Note, error) {
	inner, err := keys.Unwrap(n)
	switch {
	case errors.Is(err, nostr.ErrSignerMismatch):
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)

	case err != nil:
		return nil, fmt.Errorf("%w: envelope %s: %w", ErrMalformedNote,
			n.ID, err)
	}

	return inner, nil
}

// parseServerRequest decodes the inner note of a server request envelope.
func parseServerRequest(inner *nostr.Note) (Message, error) {
	malformed := func(err error) error {
		return fmt.Errorf("%w: kind %d: %v", ErrMalformedNote,
			inner.Kind, err)
	}

	switch inner.Kind {
	case orders.KindOrderRequest:
		req, err := orders.ParseOrderRequest(inner)
		if err != nil {
			return nil, malformed(err)
		}

		return OrderRequestMsg{noteMsg{inner}, req}, nil

	case orders.KindOrderCancel:
		req, err := orders.ParseOrderCancelRequest(inner)
		if err != nil {
			return nil, malformed(err)
		}

		return OrderCancelMsg{noteMsg{inner}, req}, nil

	case orders.KindCommerceStatusUpdate:
		req, err := orders.ParseOrderUpdateRequest(inner)
		if err != nil {
			return nil, malformed(err)
		}

		return CommerceUpdateMsg{noteMsg{inner}, req}, nil

	case orders.KindCourierStatusUpdate:
		req, err := orders.ParseOrderUpdateRequest(inner)
		if err != nil {
			return nil, malformed(err)
		}

		return CourierUpdateMsg{noteMsg{inner}, req}, nil

	case orders.KindCourierProfile:
		return CourierProfileMsg{noteMsg{inner}, inner.Content}, nil

	case orders.KindPresignRequest:
		req, err := uploads.ParseRequest(inner.Content)
		if err != nil {
			return nil, malformed(err)
		}

		return PresignRequestMsg{noteMsg{inner}, req}, nil

	default:
		return nil, fmt.Errorf("%w: %d in server request",
			ErrUnhandledKind, inner.Kind)
	}
}
