package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/ticker"
)

var errNotConnected = errors.New("not connected")

// conn is the connection to one relay. Writes are serialized by mu.
type conn struct {
	url  string
	pool *Pool

	mu sync.Mutex
	ws *websocket.Conn
}

// write sends one frame if the relay is connected.
func (c *conn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return errNotConnected
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// ping sends a keepalive ping.
func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return errNotConnected
	}

	return c.ws.WriteControl(
		websocket.PingMessage, nil, time.Now().Add(writeWait),
	)
}

func (c *conn) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	c.pool.setConnected(1)
}

func (c *conn) detach() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws == nil {
		return
	}

	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = ws.Close()

	c.pool.setConnected(-1)
}

// run keeps the relay connected until ctx is done, redialing with
// exponential backoff.
func (c *conn) run(ctx context.Context) {
	cfg := c.pool.cfg
	backoff := cfg.ReconnectBackoff

	for {
		ws, resp, err := cfg.Dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		if err == nil {
			log.Infof("Connected to relay %s", c.url)
			backoff = cfg.ReconnectBackoff

			err = c.serve(ctx, ws)
		}

		if ctx.Err() != nil {
			return
		}

		log.Warnf("Relay %s unavailable, retrying in %v: %v", c.url,
			backoff, err)

		select {
		case <-cfg.Clock.TickAfter(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

// serve replays the subscriptions on a fresh connection, then reads frames
// and pings the relay until the connection fails or ctx is done.
func (c *conn) serve(ctx context.Context, ws *websocket.Conn) error {
	pongWait := 2 * c.pool.cfg.PingInterval

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.attach(ws)
	defer c.detach()

	for _, frame := range c.pool.subscriptionFrames() {
		if err := c.write(frame); err != nil {
			return err
		}
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.read(ctx, ws, pongWait)
	}()

	keepalive := ticker.New(c.pool.cfg.PingInterval)
	keepalive.Resume()
	defer keepalive.Stop()

	for {
		select {
		case <-keepalive.Ticks():
			if err := c.ping(); err != nil {
				return err
			}

		case err := <-readErr:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// read handles inbound frames until the connection fails.
func (c *conn) read(ctx context.Context, ws *websocket.Conn,
	pongWait time.Duration) error {

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := nostr.ParseRelayMessage(data)
		if err != nil {
			log.Debugf("Relay %s sent bad frame: %v", c.url, err)
			continue
		}

		switch m := msg.(type) {
		case nostr.EventMessage:
			c.pool.deliver(ctx, c.url, m.Note)

		case nostr.OKMessage:
			if !m.Accepted {
				log.Warnf("Relay %s rejected note %s: %s",
					c.url, m.NoteID, m.Reason)
			}

		case nostr.EOSEMessage:
			log.Debugf("Relay %s sent stored notes of %s", c.url,
				m.SubscriptionID)

		case nostr.NoticeMessage:
			log.Infof("Relay %s notice: %s", c.url, m.Message)

		case nostr.ClosedMessage:
			log.Warnf("Relay %s closed subscription %s: %s",
				c.url, m.SubscriptionID, m.Reason)
		}
	}
}
