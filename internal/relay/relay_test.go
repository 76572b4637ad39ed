package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type peer struct {
	client *signaling.Client
	inbox  chan *signaling.Message
}

func dial(t *testing.T, srv *httptest.Server, room, id string, codec signaling.Codec) *peer {
	t.Helper()
	p := &peer{
		client: signaling.NewClient(wsURL(srv), room, codec),
		inbox:  make(chan *signaling.Message, 16),
	}
	p.client.Subscribe(func(m *signaling.Message) { p.inbox <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.client.Connect(ctx, id))
	t.Cleanup(func() { p.client.Close() })
	return p
}

func (p *peer) next(t *testing.T) *signaling.Message {
	t.Helper()
	select {
	case m := <-p.inbox:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (p *peer) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-p.inbox:
		t.Fatalf("unexpected message %s", m)
	case <-time.After(d):
	}
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := hub.Stats(context.Background())
		return err == nil && s.Clients == n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRelayForwardsWithinRoom(t *testing.T) {
	hub, srv := startRelay(t)

	a := dial(t, srv, "lobby", "peer-a", signaling.JSONCodec{})
	b := dial(t, srv, "lobby", "peer-b", signaling.JSONCodec{})
	c := dial(t, srv, "elsewhere", "peer-c", signaling.JSONCodec{})
	waitClients(t, hub, 3)

	ctx := context.Background()
	require.NoError(t, a.client.Publish(ctx, signaling.New("peer-a", signaling.JoinSlot{SlotID: 2, PeerID: "peer-a"})))

	got := b.next(t)
	assert.Equal(t, signaling.TypeJoinSlot, got.Type)
	assert.Equal(t, "peer-a", got.SenderID)
	join, ok := got.Data.(*signaling.JoinSlot)
	require.True(t, ok)
	assert.Equal(t, 2, join.SlotID)

	a.quiet(t, 200*time.Millisecond)
	c.quiet(t, 50*time.Millisecond)
}

func TestRelayForwardsTargetedOpaquely(t *testing.T) {
	hub, srv := startRelay(t)

	a := dial(t, srv, "lobby", "peer-a", signaling.MsgpackCodec{})
	b := dial(t, srv, "lobby", "peer-b", signaling.MsgpackCodec{})
	waitClients(t, hub, 2)

	// Filtering on the target is the receiver's job; the relay broadcasts.
	msg := signaling.New("peer-a", signaling.ViewerResponse{ViewerID: "peer-z"}).To("peer-z")
	require.NoError(t, a.client.Publish(context.Background(), msg))

	got := b.next(t)
	assert.Equal(t, "peer-z", got.TargetPeerID)
	assert.False(t, signaling.Accept(got, "peer-b"))
}

func TestRelayAnnouncesPresenceLeave(t *testing.T) {
	for _, codec := range []signaling.Codec{signaling.JSONCodec{}, signaling.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			hub, srv := startRelay(t)

			a := dial(t, srv, "lobby", "peer-a", signaling.JSONCodec{})
			b := dial(t, srv, "lobby", "peer-b", codec)
			waitClients(t, hub, 2)

			require.NoError(t, a.client.Close())

			got := b.next(t)
			assert.Equal(t, signaling.TypePresenceLeave, got.Type)
			leave, ok := got.Data.(*signaling.PresenceLeave)
			require.True(t, ok)
			assert.Equal(t, "peer-a", leave.PeerID)
			assert.True(t, signaling.Accept(got, "peer-b"))

			waitClients(t, hub, 1)
		})
	}
}

func TestRelayDeletesEmptyRooms(t *testing.T) {
	hub, srv := startRelay(t)

	a := dial(t, srv, "lobby", "peer-a", signaling.JSONCodec{})
	waitClients(t, hub, 1)
	s, err := hub.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Rooms)

	require.NoError(t, a.client.Close())
	require.Eventually(t, func() bool {
		s, err := hub.Stats(context.Background())
		return err == nil && s.Rooms == 0 && s.Clients == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRelayRejectsBadRequests(t *testing.T) {
	_, srv := startRelay(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws?room=lobby&codec=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	hub, srv := startRelay(t)
	dial(t, srv, "lobby", "peer-a", signaling.JSONCodec{})
	waitClients(t, hub, 1)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Rooms   int    `json:"rooms"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Rooms)
	assert.Equal(t, 1, body.Clients)
}

func TestRoomName(t *testing.T) {
	seen := map[string]bool{}
	for range 20 {
		name := RoomName()
		parts := strings.Split(name, "-")
		assert.Len(t, parts, 4, name)
		for _, p := range parts {
			assert.NotEmpty(t, p)
		}
		seen[name] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestOptionsPongWaitExceedsPing(t *testing.T) {
	opts := DefaultOptions()
	assert.Greater(t, opts.pongWait(), opts.PingPeriod)
	assert.Equal(t, int64(defaultReadLimit), opts.ReadLimit)
}
