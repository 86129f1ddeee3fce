package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fuentelabs/invoicer/nostr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// testRelay is a minimal relay recording the frames it receives.
type testRelay struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	frames  [][]json.RawMessage
	conns   []*websocket.Conn
	accepts int
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	r := &testRelay{t: t}
	upgrader := websocket.Upgrader{}

	r.srv = httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, req *http.Request) {
			ws, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				return
			}

			r.mu.Lock()
			r.conns = append(r.conns, ws)
			r.accepts++
			r.mu.Unlock()

			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}

				var frame []json.RawMessage
				if json.Unmarshal(data, &frame) != nil {
					continue
				}

				r.mu.Lock()
				r.frames = append(r.frames, frame)
				r.mu.Unlock()
			}
		},
	))
	t.Cleanup(r.srv.Close)

	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// received returns the frames with the given label.
func (r *testRelay) received(label string) [][]json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]json.RawMessage
	for _, frame := range r.frames {
		var l string
		_ = json.Unmarshal(frame[0], &l)
		if l == label {
			out = append(out, frame)
		}
	}

	return out
}

func (r *testRelay) numAccepts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.accepts
}

// send pushes an EVENT frame on the latest connection.
func (r *testRelay) send(subID string, n *nostr.Note) {
	r.t.Helper()

	raw, err := json.Marshal([]interface{}{"EVENT", subID, n})
	require.NoError(r.t, err)

	r.mu.Lock()
	ws := r.conns[len(r.conns)-1]
	r.mu.Unlock()

	require.NoError(r.t, ws.WriteMessage(websocket.TextMessage, raw))
}

// drop closes every connection.
func (r *testRelay) drop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ws := range r.conns {
		_ = ws.Close()
	}
}

func newTestPool(t *testing.T, relays ...*testRelay) *Pool {
	t.Helper()

	urls := make([]string, 0, len(relays))
	for _, r := range relays {
		urls = append(urls, r.url())
	}

	pool, err := NewPool(&Config{
		URLs:             urls,
		ReconnectBackoff: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Stop)

	require.Eventually(t, func() bool {
		return pool.NumConnected() == len(relays)
	}, waitTimeout, 10*time.Millisecond)

	return pool
}

func signedNote(t *testing.T, content string) *nostr.Note {
	t.Helper()

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	n := &nostr.Note{Kind: 1, Content: content}
	require.NoError(t, keys.Sign(n))

	return n
}

func TestNewPoolRejectsURLs(t *testing.T) {
	t.Parallel()

	_, err := NewPool(&Config{})
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = NewPool(&Config{URLs: []string{"https://relay.example"}})
	require.ErrorIs(t, err, ErrInvalidURL)
}

// TestPoolDedupe checks that a note delivered by two relays is passed on
// once and that forged notes are dropped.
func TestPoolDedupe(t *testing.T) {
	t.Parallel()

	a, b := newTestRelay(t), newTestRelay(t)
	pool := newTestPool(t, a, b)

	id, err := pool.Subscribe(nostr.Filter{Kinds: []uint32{1}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(a.received("REQ")) == 1 &&
			len(b.received("REQ")) == 1
	}, waitTimeout, 10*time.Millisecond)

	forged := signedNote(t, "forged")
	forged.Content = "changed"
	a.send(id, forged)

	n := signedNote(t, "hello")
	a.send(id, n)
	b.send(id, n)

	select {
	case got := <-pool.Notes():
		require.Equal(t, n.ID, got.ID)
	case <-time.After(waitTimeout):
		t.Fatal("no note delivered")
	}

	select {
	case got := <-pool.Notes():
		t.Fatalf("unexpected note %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestPoolBroadcast checks that notes reach every relay.
func TestPoolBroadcast(t *testing.T) {
	t.Parallel()

	a, b := newTestRelay(t), newTestRelay(t)
	pool := newTestPool(t, a, b)

	n := signedNote(t, "out")
	require.NoError(t, pool.Broadcast(context.Background(), n))

	for _, r := range []*testRelay{a, b} {
		require.Eventually(t, func() bool {
			return len(r.received("EVENT")) == 1
		}, waitTimeout, 10*time.Millisecond)

		var got nostr.Note
		require.NoError(t, json.Unmarshal(r.received("EVENT")[0][1],
			&got))
		require.Equal(t, n.ID, got.ID)
	}
}

// TestPoolReconnect checks that subscriptions are replayed after a relay
// drops the connection.
func TestPoolReconnect(t *testing.T) {
	t.Parallel()

	r := newTestRelay(t)
	pool := newTestPool(t, r)

	id, err := pool.Subscribe(nostr.Filter{Kinds: []uint32{1}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(r.received("REQ")) == 1
	}, waitTimeout, 10*time.Millisecond)

	r.drop()

	require.Eventually(t, func() bool {
		return r.numAccepts() == 2 && len(r.received("REQ")) == 2
	}, waitTimeout, 10*time.Millisecond)

	var replayed string
	require.NoError(t, json.Unmarshal(r.received("REQ")[1][1], &replayed))
	require.Equal(t, id, replayed)

	pool.Unsubscribe(id)
	require.Eventually(t, func() bool {
		return len(r.received("CLOSE")) == 1
	}, waitTimeout, 10*time.Millisecond)
}

// TestBroadcastWithoutRelays checks that a broadcast nobody took fails.
func TestBroadcastWithoutRelays(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(&Config{URLs: []string{"ws://127.0.0.1:1"}})
	require.NoError(t, err)

	err = pool.Broadcast(context.Background(), signedNote(t, "lost"))
	require.ErrorIs(t, err, ErrNoRelays)
}

// TestNewDialer checks that a SOCKS proxy replaces the direct dialer.
func TestNewDialer(t *testing.T) {
	t.Parallel()

	direct := NewDialer("")
	require.Nil(t, direct.NetDialContext)
	require.Equal(t, handshakeTimeout, direct.HandshakeTimeout)

	proxied := NewDialer("127.0.0.1:9050")
	require.NotNil(t, proxied.NetDialContext)
}
