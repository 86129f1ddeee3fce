package lndclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/lntypes"
)

// dialStream opens a websocket on the REST proxy. method overrides the HTTP
// method of the proxied call.
func (c *Client) dialStream(ctx context.Context, path,
	method string) (*websocket.Conn, error) {

	u := url.URL{
		Scheme:   c.wsScheme,
		Host:     c.cfg.Host,
		Path:     path,
		RawQuery: url.Values{"method": {method}}.Encode(),
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	return conn, nil
}

// closeOnDone closes conn once ctx is done or done is closed.
func closeOnDone(ctx context.Context, conn *websocket.Conn,
	done <-chan struct{}) {

	select {
	case <-ctx.Done():
	case <-done:
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = conn.Close()
}

// readStream decodes frames from conn into updates until the stream ends.
// Exactly one close reason is sent on errs before updates is closed.
func readStream[T any](ctx context.Context, conn *websocket.Conn,
	maxIdlePings int, updates chan<- *T, errs chan<- error) {

	defer close(updates)

	idle := 0
	conn.SetPingHandler(func(data string) error {
		idle++
		if maxIdlePings > 0 && idle > maxIdlePings {
			return ErrStreamIdle
		}

		err := conn.WriteControl(
			websocket.PongMessage, []byte(data),
			time.Now().Add(writeWait),
		)
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}

		return err
	})

	fail := func(err error) {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		errs <- err
	}

	for {
		_, msg, err := conn.ReadMessage()
		switch {
		case errors.Is(err, ErrStreamIdle):
			fail(ErrStreamIdle)
			return

		case websocket.IsCloseError(err, websocket.CloseNormalClosure):
			fail(ErrStreamClosed)
			return

		case err != nil:
			fail(err)
			return
		}
		idle = 0

		var frame streamFrame[T]
		if err := json.Unmarshal(msg, &frame); err != nil {
			fail(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
			return
		}
		if frame.Error != nil {
			fail(frame.Error)
			return
		}
		if frame.Result == nil {
			continue
		}

		select {
		case updates <- frame.Result:
		case <-ctx.Done():
			fail(ctx.Err())
			return
		}
	}
}

// SubscribeSingleInvoice streams the state changes of one invoice. The node
// sends the current state first. When the stream ends the reason is sent on
// the error channel and the update channel is closed: ErrStreamIdle after
// MaxIdlePings keepalives without data, the context error on cancellation,
// a transport or node error otherwise.
func (c *Client) SubscribeSingleInvoice(ctx context.Context,
	hash lntypes.Hash) (<-chan *Invoice, <-chan error, error) {

	path := "/v2/invoices/subscribe/" +
		base64.URLEncoding.EncodeToString(hash[:])

	conn, err := c.dialStream(ctx, path, "GET")
	if err != nil {
		return nil, nil, err
	}

	updates := make(chan *Invoice)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go closeOnDone(ctx, conn, done)
	go func() {
		defer close(done)
		readStream(ctx, conn, c.cfg.MaxIdlePings, updates, errs)
	}()

	log.Debugf("Subscribed to invoice %v", hash)

	return updates, errs, nil
}

// PaymentStream is a router stream used to originate a payment and follow
// it to completion.
type PaymentStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	updates chan *Payment
	errs    chan error
	done    chan struct{}
	cancel  context.CancelFunc
}

// PaymentStream opens a router stream. Requests are written with Send,
// status updates are read from Updates.
func (c *Client) PaymentStream(ctx context.Context) (*PaymentStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, err := c.dialStream(ctx, "/v2/router/send", "POST")
	if err != nil {
		cancel()
		return nil, err
	}

	s := &PaymentStream{
		conn:    conn,
		updates: make(chan *Payment),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go closeOnDone(ctx, conn, s.done)
	go func() {
		defer close(s.done)
		readStream(ctx, conn, 0, s.updates, s.errs)
	}()

	return s, nil
}

// Send submits a payment request.
func (s *PaymentStream) Send(req *SendPaymentRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return s.conn.WriteJSON(req)
}

// Updates returns the payment status updates.
func (s *PaymentStream) Updates() <-chan *Payment {
	return s.updates
}

// Err returns the channel receiving the close reason of the stream.
func (s *PaymentStream) Err() <-chan error {
	return s.errs
}

// Close ends the stream.
func (s *PaymentStream) Close() {
	s.cancel()
	<-s.done
}

// PayInvoice pays a BOLT11 invoice through the router stream and waits for
// a final status. A failed payment is returned together with
// ErrPaymentFailed.
func (c *Client) PayInvoice(ctx context.Context,
	payReq string) (*Payment, error) {

	stream, err := c.PaymentStream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	timeout := c.cfg.PaymentTimeout
	if timeout == 0 {
		timeout = DefaultPaymentTimeout
	}
	feeLimit := c.cfg.FeeLimit
	if feeLimit == 0 {
		feeLimit = DefaultFeeLimit
	}

	err = stream.Send(&SendPaymentRequest{
		PaymentRequest: payReq,
		TimeoutSeconds: int32(timeout / time.Second),
		FeeLimitSat:    int64(feeLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("send payment: %w", err)
	}

	for {
		select {
		case p, ok := <-stream.Updates():
			if !ok {
				return nil, fmt.Errorf("payment stream: %w",
					<-stream.Err())
			}

			log.Debugf("Payment %s status %s", p.PaymentHash,
				p.Status)

			switch p.Status {
			case PaymentSucceeded:
				return p, nil

			case PaymentFailed:
				return p, fmt.Errorf("%w: %s", ErrPaymentFailed,
					p.FailureReason)
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
