package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fuentelabs/invoicer/monitoring"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultPingInterval is how often idle relay connections are
	// pinged.
	DefaultPingInterval = 30 * time.Second

	// DefaultReconnectBackoff is the initial delay before redialing a
	// relay.
	DefaultReconnectBackoff = time.Second

	// DefaultDedupeSize is the number of note ids remembered to drop
	// notes delivered by more than one relay.
	DefaultDedupeSize = 10000

	// maxReconnectBackoff caps the redial backoff.
	maxReconnectBackoff = time.Minute

	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
)

// Config holds the relay pool parameters.
type Config struct {
	// URLs are the ws:// or wss:// relay endpoints.
	URLs []string

	PingInterval     time.Duration
	ReconnectBackoff time.Duration
	DedupeSize       int

	Dialer *websocket.Dialer
	Clock  clock.Clock

	// Metrics is optional.
	Metrics *monitoring.Metrics
}

// seenNote marks a note id in the dedupe cache.
type seenNote struct{}

// Size returns the "size" of an entry.
func (seenNote) Size() (uint64, error) {
	return 1, nil
}

// Pool keeps one websocket per relay, replays the active subscriptions on
// every connection and merges the notes of all relays into one stream
// without duplicates.
type Pool struct {
	cfg *Config

	relays []*conn
	gm     *fn.GoroutineManager
	notes  *fn.ConcurrentQueue[*nostr.Note]

	seenMtx sync.Mutex
	seen    *lru.Cache[string, seenNote]

	subMtx sync.RWMutex
	subs   map[string][]nostr.Filter

	connected atomic.Int32
	started   atomic.Bool
}

// NewPool creates a pool for the configured relays. No connection is made
// until Start.
func NewPool(cfg *Config) (*Pool, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrInvalidURL)
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.DedupeSize == 0 {
		cfg.DedupeSize = DefaultDedupeSize
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewDialer("")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	p := &Pool{
		cfg:   cfg,
		gm:    fn.NewGoroutineManager(),
		notes: fn.NewConcurrentQueue[*nostr.Note](64),
		seen:  lru.NewCache[string, seenNote](uint64(cfg.DedupeSize)),
		subs:  make(map[string][]nostr.Filter),
	}

	for _, raw := range cfg.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw,
				err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
		}

		p.relays = append(p.relays, &conn{url: u.String(), pool: p})
	}

	return p, nil
}

// Start connects to all relays. Connections are retried until Stop.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	p.notes.Start()

	for _, r := range p.relays {
		r := r
		ok := p.gm.Go(context.WithoutCancel(ctx), r.run)
		if !ok {
			return ErrPoolStopped
		}
	}

	log.Infof("Relay pool started with %d relays", len(p.relays))

	return nil
}

// Stop closes all relay connections and waits for their goroutines.
func (p *Pool) Stop() {
	log.Info("Relay pool shutting down...")

	p.gm.Stop()
	if p.started.Load() {
		p.notes.Stop()
	}

	log.Info("Relay pool shutdown complete")
}

// Notes returns the deduplicated, verified notes of all subscriptions.
func (p *Pool) Notes() <-chan *nostr.Note {
	return p.notes.ChanOut()
}

// NumConnected returns the number of connected relays.
func (p *Pool) NumConnected() int {
	return int(p.connected.Load())
}

// Subscribe starts a subscription on every relay and returns its id. The
// subscription is replayed whenever a relay reconnects.
func (p *Pool) Subscribe(filters ...nostr.Filter) (string, error) {
	id := uuid.NewString()

	frame, err := nostr.EncodeReq(id, filters...)
	if err != nil {
		return "", err
	}

	p.subMtx.Lock()
	p.subs[id] = filters
	p.subMtx.Unlock()

	for _, r := range p.relays {
		if err := r.write(frame); err != nil && !errors.Is(err,
			errNotConnected) {

			log.Debugf("Subscription %s on %s: %v", id, r.url, err)
		}
	}

	log.Debugf("Subscribed %s with %d filters", id, len(filters))

	return id, nil
}

// Unsubscribe closes a subscription on every relay.
func (p *Pool) Unsubscribe(id string) {
	p.subMtx.Lock()
	delete(p.subs, id)
	p.subMtx.Unlock()

	frame, err := nostr.EncodeClose(id)
	if err != nil {
		return
	}
	for _, r := range p.relays {
		_ = r.write(frame)
	}
}

// subscriptionFrames returns the REQ frames of all active subscriptions.
func (p *Pool) subscriptionFrames() [][]byte {
	p.subMtx.RLock()
	defer p.subMtx.RUnlock()

	frames := make([][]byte, 0, len(p.subs))
	for id, filters := range p.subs {
		frame, err := nostr.EncodeReq(id, filters...)
		if err != nil {
			log.Errorf("Unable to encode subscription %s: %v", id,
				err)
			continue
		}
		frames = append(frames, frame)
	}

	return frames
}

// Broadcast publishes notes on every connected relay. It fails only if no
// relay took a note.
func (p *Pool) Broadcast(ctx context.Context, notes ...*nostr.Note) error {
	for _, n := range notes {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := nostr.EncodeEvent(n)
		if err != nil {
			return err
		}

		var (
			sent int
			errs []error
		)
		for _, r := range p.relays {
			if err := r.write(frame); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.url,
					err))
				continue
			}
			sent++
		}
		if sent == 0 {
			return fmt.Errorf("%w: note %s: %w", ErrNoRelays, n.ID,
				errors.Join(errs...))
		}

		log.Tracef("Broadcast %v to %d relays", n, sent)
	}

	return nil
}

// deliver verifies a note received from a relay and queues it unless
// another relay delivered it before.
func (p *Pool) deliver(ctx context.Context, from string, n *nostr.Note) {
	if err := n.Verify(); err != nil {
		log.Debugf("Dropping note %s from %s: %v", n.ID, from, err)
		return
	}

	p.seenMtx.Lock()
	_, err := p.seen.Get(n.ID)
	if errors.Is(err, cache.ErrElementNotFound) {
		_, _ = p.seen.Put(n.ID, seenNote{})
	}
	p.seenMtx.Unlock()

	if err == nil {
		return
	}

	select {
	case p.notes.ChanIn() <- n:
	case <-ctx.Done():
	}
}

// setConnected adjusts the connected relay count.
func (p *Pool) setConnected(delta int32) {
	n := p.connected.Add(delta)
	p.cfg.Metrics.RelaysConnected(int(n))
}
