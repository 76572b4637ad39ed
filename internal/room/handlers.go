package room

import (
	"errors"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/signaling"
)

func payload[T signaling.Payload](m *signaling.Message) (T, bool) {
	d, ok := m.Data.(T)
	return d, ok
}

func or(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}

// onRequestState answers a newcomer: the occupant replies with its slot and,
// once the newcomer has had time to record it, offers.
func (c *Coordinator) onRequestState(m *signaling.Message) {
	d, ok := payload[signaling.RequestState](m)
	if !ok {
		return
	}
	slot, joined := c.joinedSlot()
	if !joined {
		return
	}
	self := c.id.ID()
	requester := or(d.RequesterID, m.SenderID)

	c.publish(signaling.New(self, signaling.JoinSlot{SlotID: slot, PeerID: self}))
	c.after(c.opts.SettleDelay, func() {
		if _, ok := c.joinedSlot(); !ok || c.conns.Get(requester) != nil {
			return
		}
		c.open(requester, mesh.Offerer)
	})
}

// onJoinSlot records the occupant and waits for its offer.
func (c *Coordinator) onJoinSlot(m *signaling.Message) {
	d, ok := payload[signaling.JoinSlot](m)
	if !ok {
		return
	}
	peer := or(d.PeerID, m.SenderID)
	if !c.occupy(d.SlotID, peer) {
		return
	}
	if c.conns.Get(peer) == nil {
		c.open(peer, mesh.Answerer)
	}
}

// onAnnounceJoin lets viewers that connected before the join reveal
// themselves. Between two joined peers that both ended up waiting for an
// offer, the lower peer id offers.
func (c *Coordinator) onAnnounceJoin(m *signaling.Message) {
	d, ok := payload[signaling.AnnounceJoin](m)
	if !ok {
		return
	}
	peer := or(d.PeerID, m.SenderID)
	if !c.occupy(d.SlotID, peer) {
		return
	}

	self := c.id.ID()
	slot, joined := c.joinedSlot()
	if !joined {
		c.publish(signaling.New(self, signaling.ViewerResponse{ViewerID: self}).To(peer))
		return
	}

	conn := c.conns.Get(peer)
	if conn != nil && !conn.Untouched() {
		return
	}
	if self < peer {
		c.reopenAsOfferer(peer)
		return
	}
	if conn == nil {
		c.open(peer, mesh.Answerer)
	}
	c.publish(signaling.New(self, signaling.AnnounceJoin{SlotID: slot, PeerID: self}).To(peer))
}

// onViewerResponse offers to a viewer. Viewers never offer, so an answerer
// still waiting on one is replaced.
func (c *Coordinator) onViewerResponse(m *signaling.Message) {
	d, ok := payload[signaling.ViewerResponse](m)
	if !ok {
		return
	}
	if _, joined := c.joinedSlot(); !joined {
		return
	}
	viewer := or(d.ViewerID, m.SenderID)
	if conn := c.conns.Get(viewer); conn != nil && !conn.Untouched() {
		return
	}
	c.reopenAsOfferer(viewer)
}

func (c *Coordinator) reopenAsOfferer(peer string) {
	if c.neg.Close(peer) {
		c.listener.ConnectionChanged(mesh.Info{PeerID: peer, State: mesh.StateClosed})
	}
	c.open(peer, mesh.Offerer)
}

func (c *Coordinator) onLeaveSlot(m *signaling.Message) {
	d, ok := payload[signaling.LeaveSlot](m)
	if !ok {
		return
	}
	c.depart(or(d.PeerID, m.SenderID))
}

// onPresenceLeave handles a departure inferred by the relay when a socket
// went away without a leave-slot.
func (c *Coordinator) onPresenceLeave(m *signaling.Message) {
	d, ok := payload[signaling.PresenceLeave](m)
	if !ok {
		return
	}
	c.log.Debug().Str("peer", d.PeerID).Msg("presence lost")
	c.depart(d.PeerID)
}

func (c *Coordinator) onOffer(m *signaling.Message) {
	d, ok := payload[signaling.Offer](m)
	if !ok {
		return
	}
	c.negotiationResult(m, c.neg.HandleOffer(c.ctx, m.SenderID, d.Offer))
}

func (c *Coordinator) onAnswer(m *signaling.Message) {
	d, ok := payload[signaling.Answer](m)
	if !ok {
		return
	}
	c.negotiationResult(m, c.neg.HandleAnswer(c.ctx, m.SenderID, d.Answer))
}

func (c *Coordinator) onICECandidate(m *signaling.Message) {
	d, ok := payload[signaling.ICECandidate](m)
	if !ok {
		return
	}
	c.negotiationResult(m, c.neg.HandleCandidate(c.ctx, m.SenderID, d.Candidate))
}

func (c *Coordinator) negotiationResult(m *signaling.Message, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrDuplicate):
		c.log.Debug().Stringer("msg", m).Msg("duplicate dropped")
	default:
		c.log.Warn().Err(err).Stringer("msg", m).Msg("negotiation message dropped")
	}
}
