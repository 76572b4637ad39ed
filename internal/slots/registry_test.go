package slots

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOccupyAndLookup(t *testing.T) {
	r := NewRegistry(6)

	ch, err := r.Occupy(1, "alice")
	require.NoError(t, err)
	assert.True(t, ch.Changed)
	assert.Empty(t, ch.Evicted)

	slot, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, 1, slot)
	assert.Equal(t, "alice", r.Occupant(1))
	assert.Equal(t, 1, r.Occupied())
}

func TestOccupyIsIdempotent(t *testing.T) {
	r := NewRegistry(6)
	_, err := r.Occupy(1, "alice")
	require.NoError(t, err)
	before := r.Snapshot()

	ch, err := r.Occupy(1, "alice")
	require.NoError(t, err)
	assert.False(t, ch.Changed)
	assert.Equal(t, before, r.Snapshot())
}

func TestOccupyLastWriterWins(t *testing.T) {
	r := NewRegistry(6)
	_, _ = r.Occupy(2, "alice")

	ch, err := r.Occupy(2, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", ch.Evicted)
	assert.Equal(t, "bob", r.Occupant(2))

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
}

func TestOccupyMovesPeer(t *testing.T) {
	r := NewRegistry(6)
	_, _ = r.Occupy(2, "alice")

	ch, err := r.Occupy(5, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Moved)
	assert.True(t, r.Snapshot()[1].Empty())
	assert.Equal(t, "alice", r.Occupant(5))
}

func TestOccupyRejectsOutOfRange(t *testing.T) {
	r := NewRegistry(6)
	for _, slot := range []int{0, -1, 7} {
		_, err := r.Occupy(slot, "alice")
		assert.True(t, errors.Is(err, errs.ErrInvalidSlot), "slot %d", slot)
	}
	_, err := r.Occupy(1, "")
	assert.True(t, errors.Is(err, errs.ErrInvalidSlot))
	assert.Zero(t, r.Occupied())
}

func TestVacate(t *testing.T) {
	r := NewRegistry(6)
	_, _ = r.Occupy(3, "alice")

	slot, ok := r.Vacate("alice")
	assert.True(t, ok)
	assert.Equal(t, 3, slot)
	assert.Equal(t, "", r.Occupant(3))

	_, ok = r.Vacate("alice")
	assert.False(t, ok)
}

func TestStreamBindingSurvivesUnbind(t *testing.T) {
	r := NewRegistry(6)

	_, ok := r.BindStream(media.NewRemoteStream("ghost", "s"))
	assert.False(t, ok, "no slot for an unknown peer")

	_, _ = r.Occupy(4, "alice")
	stream := media.NewRemoteStream("alice", "s")
	slot, ok := r.BindStream(stream)
	require.True(t, ok)
	assert.Equal(t, 4, slot)
	assert.Same(t, stream, r.StreamFor("alice"))

	_, ok = r.UnbindStream("alice")
	assert.True(t, ok)
	assert.Nil(t, r.StreamFor("alice"))
	assert.Equal(t, "alice", r.Occupant(4), "unbinding keeps the occupant")

	_, ok = r.UnbindStream("alice")
	assert.False(t, ok)
}

type op struct {
	join bool
	peer string
	slot int
}

// Each peer joins some slot and maybe leaves; ops from different peers are
// interleaved randomly while per-peer order is preserved.
func TestInterleavedJoinLeaveKeepsSlotsExclusive(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 300 {
		const peers = 5
		queues := make([][]op, peers)
		for p := range peers {
			name := fmt.Sprintf("p%d", p)
			queues[p] = append(queues[p], op{join: true, peer: name, slot: rng.IntN(6) + 1})
			if rng.IntN(2) == 0 {
				queues[p] = append(queues[p], op{peer: name})
			}
			if rng.IntN(3) == 0 {
				queues[p] = append(queues[p], op{join: true, peer: name, slot: rng.IntN(6) + 1})
			}
		}

		r := NewRegistry(6)
		for {
			var live []int
			for i, q := range queues {
				if len(q) > 0 {
					live = append(live, i)
				}
			}
			if len(live) == 0 {
				break
			}
			i := live[rng.IntN(len(live))]
			next := queues[i][0]
			queues[i] = queues[i][1:]
			if next.join {
				_, err := r.Occupy(next.slot, next.peer)
				require.NoError(t, err)
			} else {
				r.Vacate(next.peer)
			}

			seen := make(map[string]int)
			for _, s := range r.Snapshot() {
				if s.Empty() {
					continue
				}
				if prev, dup := seen[s.Occupant]; dup {
					t.Fatalf("round %d: %s in slots %d and %d", round, s.Occupant, prev, s.ID)
				}
				seen[s.Occupant] = s.ID
				got, ok := r.Lookup(s.Occupant)
				require.True(t, ok)
				require.Equal(t, s.ID, got)
			}
			require.Equal(t, len(seen), r.Occupied())
		}
	}
}
