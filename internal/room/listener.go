package room

import (
	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/BioHazard786/slotmesh/internal/mesh"
)

// Listener receives room changes for presentation. Callbacks run on the
// coordinator loop and must return quickly.
type Listener interface {
	SlotOccupied(slot int, peer string, local bool)
	SlotVacated(slot int, peer string)
	// StreamAttached fires whenever the stream bound to slot gains a track.
	StreamAttached(slot int, stream *media.RemoteStream)
	StreamDetached(slot int, peer string)
	ConnectionChanged(info mesh.Info)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	OnSlotOccupied      func(slot int, peer string, local bool)
	OnSlotVacated       func(slot int, peer string)
	OnStreamAttached    func(slot int, stream *media.RemoteStream)
	OnStreamDetached    func(slot int, peer string)
	OnConnectionChanged func(info mesh.Info)
}

func (f ListenerFuncs) SlotOccupied(slot int, peer string, local bool) {
	if f.OnSlotOccupied != nil {
		f.OnSlotOccupied(slot, peer, local)
	}
}

func (f ListenerFuncs) SlotVacated(slot int, peer string) {
	if f.OnSlotVacated != nil {
		f.OnSlotVacated(slot, peer)
	}
}

func (f ListenerFuncs) StreamAttached(slot int, stream *media.RemoteStream) {
	if f.OnStreamAttached != nil {
		f.OnStreamAttached(slot, stream)
	}
}

func (f ListenerFuncs) StreamDetached(slot int, peer string) {
	if f.OnStreamDetached != nil {
		f.OnStreamDetached(slot, peer)
	}
}

func (f ListenerFuncs) ConnectionChanged(info mesh.Info) {
	if f.OnConnectionChanged != nil {
		f.OnConnectionChanged(info)
	}
}
