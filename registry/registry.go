package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fuentelabs/invoicer/adminconf"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/orders"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// commerceEntry holds the latest notes published by a merchant. Profile and
// menu arrive independently.
type commerceEntry struct {
	profile fn.Option[*nostr.Note]
	menu    fn.Option[*nostr.Note]
}

// Commerce is a merchant ready to take orders.
type Commerce struct {
	PubKey  string
	Profile *orders.CommerceProfile
	Menu    *orders.ProductMenu
}

// Consumer is a registered buyer.
type Consumer struct {
	PubKey  string
	Profile *orders.ConsumerProfile
	Note    *nostr.Note
}

// Registry is the single owner of the daemon's in memory state: known
// merchants, couriers and consumers, the live orders and the admin
// configuration. All access is serialized by one lock and readers only
// receive copies.
type Registry struct {
	mu sync.RWMutex

	commerces map[string]*commerceEntry
	couriers  map[string]*nostr.Note
	consumers map[string]*Consumer
	orders    map[string]*orders.OrderInvoiceState
	config    *adminconf.Configuration

	// configStamps holds the creation time of the newest config note
	// applied per type.
	configStamps map[adminconf.ConfigType]int64
}

// New creates an empty registry. admins bootstraps the admin whitelist.
func New(admins ...string) *Registry {
	return &Registry{
		commerces: make(map[string]*commerceEntry),
		couriers:  make(map[string]*nostr.Note),
		consumers: make(map[string]*Consumer),
		orders:    make(map[string]*orders.OrderInvoiceState),
		config:    adminconf.NewConfiguration(admins...),

		configStamps: make(map[adminconf.ConfigType]int64),
	}
}

func (r *Registry) commerceEntry(pubkey string) *commerceEntry {
	entry, ok := r.commerces[pubkey]
	if !ok {
		entry = &commerceEntry{
			profile: fn.None[*nostr.Note](),
			menu:    fn.None[*nostr.Note](),
		}
		r.commerces[pubkey] = entry
	}

	return entry
}

// UpsertCommerceProfile stores a merchant profile note after validating its
// content.
func (r *Registry) UpsertCommerceProfile(n *nostr.Note) error {
	if _, err := orders.ParseCommerceProfile(n.Content); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.commerceEntry(n.PubKey).profile = fn.Some(n.Clone())

	log.Debugf("Stored commerce profile of %s", n.PubKey)

	return nil
}

// UpsertCommerceMenu stores a merchant menu note after validating its
// content.
func (r *Registry) UpsertCommerceMenu(n *nostr.Note) error {
	if _, err := orders.ParseProductMenu(n.Content); err != nil {
		return fmt.Errorf("%w: menu: %v", orders.ErrInvalidProfile, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.commerceEntry(n.PubKey).menu = fn.Some(n.Clone())

	log.Debugf("Stored commerce menu of %s", n.PubKey)

	return nil
}

// FindCommerce returns a whitelisted merchant with both profile and menu.
func (r *Registry) FindCommerce(pubkey string) (*Commerce, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.config.IsCommerceWhitelisted(pubkey) {
		return nil, fmt.Errorf("commerce %s: %w", pubkey,
			ErrNotWhitelisted)
	}

	entry, ok := r.commerces[pubkey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommerce, pubkey)
	}

	profileNote, err := entry.profile.UnwrapOrErr(ErrCommerceIncomplete)
	if err != nil {
		return nil, err
	}
	menuNote, err := entry.menu.UnwrapOrErr(ErrCommerceIncomplete)
	if err != nil {
		return nil, err
	}

	profile, err := orders.ParseCommerceProfile(profileNote.Content)
	if err != nil {
		return nil, err
	}
	menu, err := orders.ParseProductMenu(menuNote.Content)
	if err != nil {
		return nil, err
	}

	return &Commerce{PubKey: pubkey, Profile: profile, Menu: menu}, nil
}

// NumCommerces returns the number of merchants with at least one note.
func (r *Registry) NumCommerces() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.commerces)
}

// UpsertCourierProfile stores a courier profile note after validating its
// content. content is the plaintext profile, which differs from the note
// content for enveloped profiles.
func (r *Registry) UpsertCourierProfile(n *nostr.Note, content string) error {
	if _, err := orders.ParseCourierProfile(content); err != nil {
		return err
	}

	stored := n.Clone()
	stored.Content = content

	r.mu.Lock()
	defer r.mu.Unlock()

	r.couriers[n.PubKey] = stored

	log.Debugf("Stored courier profile of %s", n.PubKey)

	return nil
}

// FindWhitelistedCourier returns the profile note of a whitelisted courier.
func (r *Registry) FindWhitelistedCourier(pubkey string) (*nostr.Note,
	error) {

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.config.IsCourierWhitelisted(pubkey) {
		return nil, fmt.Errorf("courier %s: %w", pubkey,
			ErrNotWhitelisted)
	}

	note, ok := r.couriers[pubkey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCourier, pubkey)
	}

	return note.Clone(), nil
}

// UpsertConsumer stores a consumer registration.
func (r *Registry) UpsertConsumer(n *nostr.Note, content string) error {
	profile, err := orders.ParseConsumerProfile(content)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.consumers[n.PubKey] = &Consumer{
		PubKey:  n.PubKey,
		Profile: profile,
		Note:    n.Clone(),
	}

	log.Debugf("Stored consumer profile of %s", n.PubKey)

	return nil
}

// Consumer returns a registered consumer.
func (r *Registry) Consumer(pubkey string) fn.Option[Consumer] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consumers[pubkey]
	if !ok {
		return fn.None[Consumer]()
	}

	profile := *c.Profile

	return fn.Some(Consumer{
		PubKey:  c.PubKey,
		Profile: &profile,
		Note:    c.Note.Clone(),
	})
}

// CheckConsumer returns ErrBlacklisted for a consumer barred from ordering.
func (r *Registry) CheckConsumer(pubkey string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.config.IsConsumerBlacklisted(pubkey) {
		return fmt.Errorf("%w: %s", ErrBlacklisted, pubkey)
	}

	return nil
}

// IsRegisteredUser reports whether pubkey completed user registration,
// either through the admin registration list or by publishing a consumer
// profile to the platform.
func (r *Registry) IsRegisteredUser(pubkey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.config.IsRegistered(pubkey) {
		return true
	}
	_, ok := r.consumers[pubkey]

	return ok
}

// IsCommerceWhitelisted reports whether pubkey is a whitelisted merchant.
func (r *Registry) IsCommerceWhitelisted(pubkey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.config.IsCommerceWhitelisted(pubkey)
}

// AddOrder registers the initial state of a new order.
func (r *Registry) AddOrder(state *orders.OrderInvoiceState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[state.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, state.ID())
	}
	r.orders[state.ID()] = state.Clone()

	log.Debugf("Registered order %s", state.ID())

	return nil
}

// Order returns a copy of an order's state.
func (r *Registry) Order(id string) (*orders.OrderInvoiceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	return state.Clone(), nil
}

// UpdateOrder applies mutate to a copy of an order's state and commits it if
// mutate succeeds and the result is valid. It returns a copy of the
// resulting state and whether the order's progress changed. Mutations of
// the same order are serialized.
func (r *Registry) UpdateOrder(id string,
	mutate func(*orders.OrderInvoiceState) error) (*orders.OrderInvoiceState,
	bool, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return current.Clone(), false, err
	}
	if err := next.Validate(); err != nil {
		return current.Clone(), false, err
	}

	changed := !current.SameProgress(next)
	r.orders[id] = next

	if changed {
		log.Debugf("Order %s now %s/%s", id, next.PaymentStatus,
			next.OrderStatus)
	}

	return next.Clone(), changed, nil
}

// LiveOrders returns copies of all non terminal orders, oldest first.
func (r *Registry) LiveOrders() []*orders.OrderInvoiceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := make([]*orders.OrderInvoiceState, 0, len(r.orders))
	for _, state := range r.orders {
		if !state.IsTerminal() {
			live = append(live, state.Clone())
		}
	}

	sort.Slice(live, func(i, j int) bool {
		a, b := live[i].Order, live[j].Order
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}

		return a.ID < b.ID
	})

	return live
}

// NumOrders returns the number of registered orders.
func (r *Registry) NumOrders() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.orders)
}
