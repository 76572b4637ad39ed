package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRelay reflects every frame back to every socket and records queries.
type echoRelay struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    []*websocket.Conn
	queries  []string
}

func (e *echoRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.queries = append(e.queries, r.URL.RawQuery)
	e.mu.Unlock()

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		e.mu.Lock()
		for _, c := range e.conns {
			_ = c.WriteMessage(kind, frame)
		}
		e.mu.Unlock()
	}
}

func (e *echoRelay) dropAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.conns {
		c.Close()
	}
	e.conns = nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClientPublishSubscribe(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			relay := &echoRelay{}
			srv := httptest.NewServer(relay)
			defer srv.Close()

			c := NewClient(wsURL(srv), "lobby", codec)
			defer c.Close()

			received := make(chan *Message, 1)
			c.Subscribe(func(m *Message) { received <- m })

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, c.Connect(ctx, "peer1"))
			assert.True(t, c.Connected())

			sent := New("peer1", JoinSlot{SlotID: 2, PeerID: "peer1"})
			require.NoError(t, c.Publish(ctx, sent))

			select {
			case got := <-received:
				assert.Equal(t, sent, got)
			case <-time.After(3 * time.Second):
				t.Fatal("no echo")
			}

			relay.mu.Lock()
			query := relay.queries[0]
			relay.mu.Unlock()
			assert.Contains(t, query, "room=lobby")
			assert.Contains(t, query, "peer=peer1")
			assert.Contains(t, query, "codec="+codec.Name())
		})
	}
}

func TestClientPublishBeforeConnect(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", "lobby", nil)
	defer c.Close()

	err := c.Publish(context.Background(), New("p", RequestState{RequesterID: "p"}))
	assert.True(t, errors.Is(err, errs.ErrTransport))
}

func TestClientPublishRejectsInvalid(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", "lobby", nil)
	defer c.Close()

	err := c.Publish(context.Background(), New("p", Offer{}))
	assert.True(t, errors.Is(err, errs.ErrNegotiation))
}

func TestClientConnectRetriesUntilContextDone(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient(wsURL(srv), "lobby", nil)
	c.RetryMin = 10 * time.Millisecond
	c.RetryMax = 20 * time.Millisecond
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx, "p")
	assert.True(t, errors.Is(err, errs.ErrTransport))
}

func TestClientRedialsAndFiresOnConnected(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c := NewClient(wsURL(srv), "lobby", nil)
	c.RetryMin = 10 * time.Millisecond
	defer c.Close()

	var mu sync.Mutex
	connects := 0
	c.OnConnected(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background(), "p"))
	relay.dropAll()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 2 && c.Connected()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClientClose(t *testing.T) {
	relay := &echoRelay{}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	c := NewClient(wsURL(srv), "lobby", nil)
	require.NoError(t, c.Connect(context.Background(), "p"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Publish(context.Background(), New("p", RequestState{RequesterID: "p"}))
	assert.True(t, errors.Is(err, errs.ErrClosed))

	err = c.Connect(context.Background(), "p")
	assert.True(t, errors.Is(err, errs.ErrClosed))
}
