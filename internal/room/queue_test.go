package room

import (
	"context"
	"fmt"
	"testing"

	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/mesh/meshtest"
	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/BioHazard786/slotmesh/internal/signaling/signalingtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOKeepsOrder(t *testing.T) {
	q := newFIFO[int]()
	for i := 0; i < 1000; i++ {
		q.push(i)
	}
	assert.Equal(t, 1000, q.size())

	for i := 0; i < 1000; i++ {
		select {
		case <-q.ready():
		default:
			t.Fatalf("no wake signal with %d items left", q.size())
		}
		v, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.pop()
	assert.False(t, ok)

	q.close()
	q.push(1)
	assert.Zero(t, q.size(), "closed queue takes nothing")
}

// A burst far larger than the loop keeps up with must still be handled in
// the order the relay delivered it, or a join-slot could land after the
// matching leave-slot and leave a phantom occupant.
func TestReceiveBurstKeepsSenderOrder(t *testing.T) {
	ep := signalingtest.NewBus().Endpoint()
	defer ep.Close()
	rec := &recorder{}
	c := New(testOptions(), ep, meshtest.NewFactory(), &fakeSource{}, rec)
	c.ctx = context.Background()
	c.id.Ensure()

	rounds := queueSize + 50
	for i := 0; i < rounds; i++ {
		c.receive(signaling.New("remote", signaling.JoinSlot{SlotID: 1, PeerID: "remote"}))
		c.receive(signaling.New("remote", signaling.LeaveSlot{SlotID: 1, PeerID: "remote"}))
	}
	require.Equal(t, 2*rounds, c.inbound.size())

	var types []signaling.Type
	for {
		m, ok := c.inbound.pop()
		if !ok {
			break
		}
		types = append(types, m.Type)
		c.dispatch(m)
	}
	require.Len(t, types, 2*rounds)
	for i, typ := range types {
		want := signaling.TypeJoinSlot
		if i%2 == 1 {
			want = signaling.TypeLeaveSlot
		}
		require.Equal(t, want, typ, "message %d out of order", i)
	}

	_, held := c.slots.Lookup("remote")
	assert.False(t, held, "last message was a leave")
	assert.Equal(t, rounds, rec.count("occupied 1 remote local=false"))
	assert.Equal(t, rounds, rec.count("vacated 1 remote"))
}

func TestSinkBurstKeepsOrder(t *testing.T) {
	ep := signalingtest.NewBus().Endpoint()
	defer ep.Close()
	c := New(testOptions(), ep, meshtest.NewFactory(), &fakeSource{}, nil)

	n := queueSize * 2
	for i := 0; i < n; i++ {
		c.sink(mesh.Event{PeerID: fmt.Sprintf("p%d", i)})
	}
	for i := 0; i < n; i++ {
		ev, ok := c.events.pop()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("p%d", i), ev.PeerID)
	}
}
