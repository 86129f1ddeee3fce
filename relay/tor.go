package relay

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/tor"
)

// handshakeTimeout bounds the websocket handshake with a relay.
const handshakeTimeout = 15 * time.Second

// NewDialer returns the websocket dialer for relays. If socksAddr is set,
// all connections go through that SOCKS proxy (usually tor), which also makes
// .onion relays reachable.
func NewDialer(socksAddr string) *websocket.Dialer {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	if socksAddr == "" {
		return dialer
	}

	dialer.NetDialContext = func(_ context.Context, _,
		addr string) (net.Conn, error) {

		return tor.Dial(
			addr, socksAddr, false, false, tor.DefaultConnTimeout,
		)
	}

	return dialer
}
