package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fuentelabs/invoicer/monitoring"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/fuentelabs/invoicer/registry"
	"github.com/fuentelabs/invoicer/settlement"
	"github.com/fuentelabs/invoicer/uploads"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnutils"
)

const (
	// DefaultPresignInterval is the sustained rate at which a participant
	// may request upload URLs.
	DefaultPresignInterval = 10 * time.Second

	// DefaultPresignBurst is the number of presign requests accepted in
	// a burst.
	DefaultPresignBurst = 5

	// maxLimitedPeers bounds the number of presign limiters kept.
	maxLimitedPeers = 10000
)

// Engine is the settlement side of the router.
type Engine interface {
	HandleOrderRequest(ctx context.Context, order *orders.OrderRequest,
		note *nostr.Note, profile *orders.CommerceProfile,
		rate float64) (*nostr.Note, error)

	UpdateOrder(ctx context.Context, orderID, reason string,
		to settlement.Recipients,
		mutate func(*orders.OrderInvoiceState) error) (
		*orders.OrderInvoiceState, error)

	CancelOrderInvoice(ctx context.Context, orderID, reason string,
		to settlement.Recipients) (*orders.OrderInvoiceState, error)

	SettleOrderInvoice(ctx context.Context, orderID string) error
}

// Presigner issues upload URLs.
type Presigner interface {
	Sign(req *uploads.Request) (*uploads.PresignedURL, error)
	Register(ctx context.Context, keys ...string) error
}

// Config holds the collaborators of the router.
type Config struct {
	Keys        *nostr.Keys
	Registry    *registry.Registry
	Engine      Engine
	Broadcaster settlement.Broadcaster

	// Uploads is optional. Without it presign requests are rejected.
	Uploads Presigner

	PresignInterval time.Duration
	PresignBurst    int

	Clock clock.Clock

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// Bot routes inbound notes to the registry and the settlement engine.
type Bot struct {
	cfg *Config

	limiters *lru.Cache[string, *cachedLimiter]
}

// New creates a router.
func New(cfg *Config) (*Bot, error) {
	switch {
	case cfg.Keys == nil:
		return nil, errors.New("bot: keys required")
	case cfg.Registry == nil:
		return nil, errors.New("bot: registry required")
	case cfg.Engine == nil:
		return nil, errors.New("bot: engine required")
	case cfg.Broadcaster == nil:
		return nil, errors.New("bot: broadcaster required")
	}

	if cfg.PresignInterval == 0 {
		cfg.PresignInterval = DefaultPresignInterval
	}
	if cfg.PresignBurst == 0 {
		cfg.PresignBurst = DefaultPresignBurst
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Bot{
		cfg:      cfg,
		limiters: lru.NewCache[string, *cachedLimiter](maxLimitedPeers),
	}, nil
}

// Filters returns the subscriptions delivering the notes the router handles:
// public merchant and courier notes, requests addressed to the platform and
// the platform's own configuration notes.
func (b *Bot) Filters() []nostr.Filter {
	platform := b.cfg.Keys.PublicKey()

	return []nostr.Filter{
		{
			Kinds: []uint32{
				orders.KindCommerceProfile,
				orders.KindCommerceMenu,
				orders.KindCourierProfilePublic,
			},
		},
		{
			Kinds: []uint32{
				orders.KindServerRequest,
				orders.KindAdminRequest,
				orders.KindConsumerRegistry,
			},
			Tags: map[string][]string{"p": {platform}},
		},
		{
			Kinds:   []uint32{orders.KindAdminConfig},
			Authors: []string{platform},
		},
	}
}

// Run handles notes one at a time until notes is closed or ctx is done.
func (b *Bot) Run(ctx context.Context, notes <-chan *nostr.Note) error {
	log.Infof("Message router started")
	defer log.Infof("Message router stopped")

	for {
		select {
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			b.HandleNote(ctx, n)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleNote parses and dispatches one note. Failures are logged and
// counted, they never stop the router.
func (b *Bot) HandleNote(ctx context.Context, n *nostr.Note) {
	name := "unknown"
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic handling note %s: %v", n.ID, r)
			b.cfg.Metrics.HandlerError(name)
		}
	}()

	log.Tracef("Inbound note: %v", lnutils.SpewLogClosure(n))

	msg, err := ParseMessage(b.cfg.Keys, n)
	if err != nil {
		// Relays deliver plenty of notes we only partially care about.
		if errors.Is(err, ErrUnhandledKind) {
			log.Tracef("Ignoring note %s: %v", n.ID, err)
			return
		}
		log.Debugf("Rejected note %s: %v", n.ID, err)
		b.cfg.Metrics.HandlerError(name)

		return
	}

	name = msg.Name()
	b.cfg.Metrics.NoteReceived(name)

	if err := b.dispatch(ctx, msg); err != nil {
		log.Warnf("Unable to handle %s from %s: %v", name, msg.Signer(),
			err)
		b.cfg.Metrics.HandlerError(name)
	}
}

// dispatch routes a message to its handler.
func (b *Bot) dispatch(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case OrderRequestMsg:
		return b.handleOrderRequest(ctx, m)

	case OrderCancelMsg:
		return b.handleOrderCancel(ctx, m)

	case CommerceUpdateMsg:
		return b.handleCommerceUpdate(ctx, m)

	case CourierUpdateMsg:
		return b.handleCourierUpdate(ctx, m)

	case CommerceProfileMsg:
		return b.cfg.Registry.UpsertCommerceProfile(m.Note)

	case CommerceMenuMsg:
		return b.cfg.Registry.UpsertCommerceMenu(m.Note)

	case CourierProfileMsg:
		return b.cfg.Registry.UpsertCourierProfile(m.Note, m.Content)

	case ConsumerRegistrationMsg:
		return b.cfg.Registry.UpsertConsumer(m.Note, m.Content)

	case AdminRequestMsg:
		return b.handleAdminRequest(ctx, m)

	case AdminConfigMsg:
		return b.handleAdminConfig(m)

	case PresignRequestMsg:
		return b.handlePresign(ctx, m)

	default:
		return fmt.Errorf("%w: %T", ErrUnhandledKind, msg)
	}
}

func (b *Bot) handleOrderRequest(ctx context.Context, m OrderRequestMsg) error {
	req := m.Request

	commerce, err := b.cfg.Registry.FindCommerce(req.Commerce)
	if err != nil {
		return err
	}
	if err := b.cfg.Registry.CheckConsumer(m.Signer()); err != nil {
		return err
	}
	if err := commerce.Menu.Validate(&req.Products); err != nil {
		return err
	}

	_, err = b.cfg.Engine.HandleOrderRequest(
		ctx, req, m.Note, commerce.Profile,
		b.cfg.Registry.ExchangeRate(),
	)

	return err
}

func (b *Bot) handleOrderCancel(ctx context.Context, m OrderCancelMsg) error {
	id := m.Request.OrderID

	state, err := b.cfg.Registry.Order(id)
	if err != nil {
		return err
	}
	if state.Buyer() != m.Signer() {
		return fmt.Errorf("%w: %s is not the buyer of %s",
			ErrUnauthorized, m.Signer(), id)
	}

	_, err = b.cfg.Engine.CancelOrderInvoice(
		ctx, id, "canceled by consumer", settlement.ToParties,
	)

	return err
}

func (b *Bot) handleCommerceUpdate(ctx context.Context,
	m CommerceUpdateMsg) error {

	id := m.Update.OrderID

	state, err := b.cfg.Registry.Order(id)
	if err != nil {
		return err
	}
	req, err := state.Request()
	if err != nil {
		return err
	}
	if req.Commerce != m.Signer() {
		return fmt.Errorf("%w: %s is not the commerce of %s",
			ErrUnauthorized, m.Signer(), id)
	}

	switch m.Update.StatusUpdate {
	case orders.Preparing:
		return b.cfg.Engine.SettleOrderInvoice(ctx, id)

	case orders.ReadyForDelivery:
		_, err := b.cfg.Engine.UpdateOrder(
			ctx, id, "ready for delivery", settlement.ToAll,
			(*orders.OrderInvoiceState).MarkReadyForDelivery,
		)

		return err

	case orders.Canceled:
		_, err := b.cfg.Engine.CancelOrderInvoice(
			ctx, id, "canceled by commerce", settlement.ToAll,
		)

		return err

	default:
		return fmt.Errorf("%w: commerce cannot set %s",
			ErrUnsupportedStatus, m.Update.StatusUpdate)
	}
}

func (b *Bot) handleCourierUpdate(ctx context.Context,
	m CourierUpdateMsg) error {

	id := m.Update.OrderID
	courier := m.Signer()

	profile, err := b.cfg.Registry.FindWhitelistedCourier(courier)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	state, err := b.cfg.Registry.Order(id)
	if err != nil {
		return err
	}

	// The first courier to claim an order gets it. The status of the
	// claim is not applied.
	if state.Courier == nil {
		_, err := b.cfg.Engine.UpdateOrder(
			ctx, id, "courier assigned", settlement.ToAll,
			func(s *orders.OrderInvoiceState) error {
				return s.AssignCourier(profile)
			},
		)
		if errors.Is(err, orders.ErrCourierAssigned) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}

		return err
	}

	if state.CourierPubKey() != courier || state.IsTerminal() ||
		state.PaymentStatus == orders.PaymentFailed {

		return fmt.Errorf("%w: courier %s on order %s",
			ErrUnauthorized, courier, id)
	}

	status := m.Update.StatusUpdate
	if status != orders.InDelivery && status != orders.Completed {
		return fmt.Errorf("%w: courier cannot set %s",
			ErrUnsupportedStatus, status)
	}

	_, err = b.cfg.Engine.UpdateOrder(
		ctx, id, "courier reported "+string(status), settlement.ToAll,
		func(s *orders.OrderInvoiceState) error {
			if s.CourierPubKey() != courier {
				return ErrUnauthorized
			}

			return s.AdvanceDelivery(status)
		},
	)

	return err
}

func (b *Bot) handleAdminRequest(ctx context.Context,
	m AdminRequestMsg) error {

	note, err := b.cfg.Registry.ApplyAdminRequest(
		b.cfg.Keys, m.Signer(), m.Request,
	)
	if errors.Is(err, registry.ErrNotWhitelisted) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if err != nil {
		return err
	}

	b.cfg.Metrics.NotesBroadcast(1)

	return b.cfg.Broadcaster.Broadcast(ctx, note)
}

func (b *Bot) handleAdminConfig(m AdminConfigMsg) error {
	t, err := b.cfg.Registry.ApplyConfigNote(b.cfg.Keys, m.Note)
	if errors.Is(err, registry.ErrStaleConfig) {
		log.Debugf("Skipping stale %v note %s", t, m.Note.ID)
		return nil
	}

	return err
}
