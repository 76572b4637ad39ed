// Package slots keeps the local view of which peer sits in which numbered
// slot of the room, and the media stream bound to it.
package slots

import (
	"fmt"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/media"
)

// Slot is a snapshot of one seat. Occupant is "" when the slot is empty.
type Slot struct {
	ID       int
	Occupant string
	Stream   *media.RemoteStream
}

func (s Slot) Empty() bool {
	return s.Occupant == ""
}

// Change describes the effect of an Occupy call.
type Change struct {
	Slot    int
	Peer    string
	Changed bool

	// Evicted is the peer that previously held Slot, if any.
	Evicted string
	// Moved is the slot Peer held before, if any.
	Moved int
}

// Registry is the authoritative local view of slot occupancy. It is not safe
// for concurrent use; the room coordinator's loop owns it.
type Registry struct {
	capacity int
	slots    []Slot
	byPeer   map[string]int
}

func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	r := &Registry{
		capacity: capacity,
		slots:    make([]Slot, capacity+1),
		byPeer:   make(map[string]int),
	}
	for i := range r.slots {
		r.slots[i].ID = i
	}
	return r
}

func (r *Registry) Capacity() int {
	return r.capacity
}

func (r *Registry) Valid(slot int) bool {
	return slot >= 1 && slot <= r.capacity
}

// Occupy records peer in slot. Writes are last-writer-wins per slot: a
// previous occupant is evicted and reported. A peer holds one slot at most,
// so occupying a second slot moves it. Repeating an existing pair changes
// nothing.
func (r *Registry) Occupy(slot int, peer string) (Change, error) {
	if !r.Valid(slot) {
		return Change{}, errs.Wrap("occupy", errs.ErrInvalidSlot, fmt.Sprintf("slot %d outside 1..%d", slot, r.capacity))
	}
	if peer == "" {
		return Change{}, errs.Wrap("occupy", errs.ErrInvalidSlot, "empty peer id")
	}

	ch := Change{Slot: slot, Peer: peer}
	if r.slots[slot].Occupant == peer {
		return ch, nil
	}

	if prev, ok := r.byPeer[peer]; ok {
		r.slots[prev] = Slot{ID: prev}
		ch.Moved = prev
	}
	if evicted := r.slots[slot].Occupant; evicted != "" {
		delete(r.byPeer, evicted)
		ch.Evicted = evicted
	}

	r.slots[slot] = Slot{ID: slot, Occupant: peer}
	r.byPeer[peer] = slot
	ch.Changed = true
	return ch, nil
}

// Vacate clears the slot held by peer and returns it.
func (r *Registry) Vacate(peer string) (int, bool) {
	slot, ok := r.byPeer[peer]
	if !ok {
		return 0, false
	}
	delete(r.byPeer, peer)
	r.slots[slot] = Slot{ID: slot}
	return slot, true
}

// Lookup resolves the slot held by peer.
func (r *Registry) Lookup(peer string) (int, bool) {
	slot, ok := r.byPeer[peer]
	return slot, ok
}

func (r *Registry) Occupant(slot int) string {
	if !r.Valid(slot) {
		return ""
	}
	return r.slots[slot].Occupant
}

// BindStream attaches stream to the slot currently attributed to its peer.
// It fails when the peer holds no slot.
func (r *Registry) BindStream(stream *media.RemoteStream) (int, bool) {
	slot, ok := r.byPeer[stream.PeerID]
	if !ok {
		return 0, false
	}
	r.slots[slot].Stream = stream
	return slot, true
}

// StreamFor returns the stream bound to the slot held by peer, if any.
func (r *Registry) StreamFor(peer string) *media.RemoteStream {
	slot, ok := r.byPeer[peer]
	if !ok {
		return nil
	}
	return r.slots[slot].Stream
}

// UnbindStream drops the stream handle of peer's slot but keeps the occupant.
func (r *Registry) UnbindStream(peer string) (int, bool) {
	slot, ok := r.byPeer[peer]
	if !ok || r.slots[slot].Stream == nil {
		return 0, false
	}
	r.slots[slot].Stream = nil
	return slot, true
}

// Snapshot returns a copy of slots 1..capacity.
func (r *Registry) Snapshot() []Slot {
	out := make([]Slot, r.capacity)
	copy(out, r.slots[1:])
	return out
}

// Occupied returns the number of filled slots.
func (r *Registry) Occupied() int {
	return len(r.byPeer)
}
