package mesh

import (
	"context"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/logging"
	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Sender publishes signaling messages. signaling.Transport satisfies it.
type Sender interface {
	Publish(ctx context.Context, m *signaling.Message) error
}

// Negotiator drives Connections through offer/answer and trickle ICE. It
// must only be used from the goroutine that owns its Registry.
type Negotiator struct {
	reg     *Registry
	factory Factory
	send    Sender
	self    func() string
	sink    func(Event)
	seq     uint64
	log     zerolog.Logger
}

// NewNegotiator wires a negotiator. self returns the local peer id; sink
// receives every peer event, stamped with its connection sequence, and must
// not block.
func NewNegotiator(reg *Registry, factory Factory, send Sender, self func() string, sink func(Event)) *Negotiator {
	return &Negotiator{
		reg:     reg,
		factory: factory,
		send:    send,
		self:    self,
		sink:    sink,
		log:     logging.For("mesh"),
	}
}

func (n *Negotiator) Registry() *Registry {
	return n.reg
}

// Open returns the connection to peer, creating it when none exists. The
// bool reports creation. Local tracks are attached only when tracks is
// non-empty. An offerer sends its offer immediately; an answerer waits.
func (n *Negotiator) Open(ctx context.Context, peer string, role Role, tracks []webrtc.TrackLocal) (*Connection, bool, error) {
	if c := n.reg.Get(peer); c != nil {
		return c, false, nil
	}

	n.seq++
	seq := n.seq
	c := &Connection{PeerID: peer, Role: role, State: StateCreating, seq: seq}

	p, err := n.factory.NewPeer(peer, func(ev Event) {
		ev.PeerID = peer
		ev.Seq = seq
		n.sink(ev)
	})
	if err != nil {
		return nil, false, errs.ForPeer("open connection", peer, errs.Join(errs.ErrNegotiation, err))
	}
	c.Peer = p
	if err := n.reg.Add(c); err != nil {
		_ = p.Close()
		return nil, false, err
	}

	if err := n.addTracks(c, tracks); err != nil {
		n.drop(c)
		return nil, false, err
	}

	n.log.Debug().Str("peer", peer).Stringer("role", role).Bool("sending", c.sending).Msg("connection opened")

	if role == Offerer {
		if err := n.offer(ctx, c); err != nil {
			n.drop(c)
			return nil, false, err
		}
		c.State = StateOfferSent
		return c, true, nil
	}
	c.State = StateAwaitingOffer
	return c, true, nil
}

func (n *Negotiator) addTracks(c *Connection, tracks []webrtc.TrackLocal) error {
	if len(tracks) == 0 || c.sending {
		return nil
	}
	for _, t := range tracks {
		if err := c.Peer.AddTrack(t); err != nil {
			return errs.ForPeer("add track", c.PeerID, errs.Join(errs.ErrNegotiation, err))
		}
	}
	c.sending = true
	return nil
}

// offer creates and applies a local offer and sends it to the peer. A lost
// publish is logged only; the next state-sync cycle repairs it.
func (n *Negotiator) offer(ctx context.Context, c *Connection) error {
	desc, err := c.Peer.CreateOffer()
	if err != nil {
		return errs.ForPeer("create offer", c.PeerID, errs.Join(errs.ErrNegotiation, err))
	}
	if err := c.Peer.SetLocalDescription(desc); err != nil {
		return errs.ForPeer("set local offer", c.PeerID, errs.Join(errs.ErrNegotiation, err))
	}
	c.offerPending = true
	n.publish(ctx, signaling.New(n.self(), signaling.Offer{Offer: desc}).To(c.PeerID))
	return nil
}

// HandleOffer applies a remote offer and answers it. Offers are accepted
// while awaiting the first offer and, as renegotiation, on a connected
// connection. There is never a connection created for an unknown sender.
func (n *Negotiator) HandleOffer(ctx context.Context, from string, desc webrtc.SessionDescription) error {
	c := n.reg.Get(from)
	if c == nil {
		return errs.Wrap("handle offer", errs.ErrNegotiation, "no connection to "+from)
	}
	if c.remoteSet && desc.SDP == c.lastRemote {
		return errs.ForPeer("handle offer", from, errs.ErrDuplicate)
	}
	if c.offerPending {
		return errs.Wrap("handle offer", errs.ErrNegotiation, "offer collides with pending local offer from "+from)
	}
	if c.State != StateAwaitingOffer && c.State != StateConnected {
		return errs.Wrap("handle offer", errs.ErrNegotiation, "unexpected offer in state "+c.State.String())
	}

	if err := n.applyRemote(c, desc); err != nil {
		return err
	}

	answer, err := c.Peer.CreateAnswer()
	if err != nil {
		return errs.ForPeer("create answer", from, errs.Join(errs.ErrNegotiation, err))
	}
	if err := c.Peer.SetLocalDescription(answer); err != nil {
		return errs.ForPeer("set local answer", from, errs.Join(errs.ErrNegotiation, err))
	}
	n.publish(ctx, signaling.New(n.self(), signaling.Answer{Answer: answer}).To(from))
	return nil
}

// HandleAnswer applies the answer to our pending offer.
func (n *Negotiator) HandleAnswer(ctx context.Context, from string, desc webrtc.SessionDescription) error {
	c := n.reg.Get(from)
	if c == nil {
		return errs.Wrap("handle answer", errs.ErrNegotiation, "no connection to "+from)
	}
	if c.remoteSet && desc.SDP == c.lastRemote {
		return errs.ForPeer("handle answer", from, errs.ErrDuplicate)
	}
	if !c.offerPending {
		return errs.Wrap("handle answer", errs.ErrNegotiation, "answer without pending offer from "+from)
	}
	if err := n.applyRemote(c, desc); err != nil {
		return err
	}
	c.offerPending = false
	return nil
}

// HandleCandidate adds a remote candidate, queueing it until the remote
// description is applied.
func (n *Negotiator) HandleCandidate(ctx context.Context, from string, cand webrtc.ICECandidateInit) error {
	c := n.reg.Get(from)
	if c == nil {
		return errs.Wrap("handle candidate", errs.ErrNegotiation, "no connection to "+from)
	}
	if !c.remoteSet {
		c.pendingICE = append(c.pendingICE, cand)
		return nil
	}
	if err := c.Peer.AddICECandidate(cand); err != nil {
		return errs.ForPeer("add candidate", from, errs.Join(errs.ErrNegotiation, err))
	}
	return nil
}

func (n *Negotiator) applyRemote(c *Connection, desc webrtc.SessionDescription) error {
	if err := c.Peer.SetRemoteDescription(desc); err != nil {
		return errs.ForPeer("set remote "+desc.Type.String(), c.PeerID, errs.Join(errs.ErrNegotiation, err))
	}
	c.remoteSet = true
	c.lastRemote = desc.SDP

	pending := c.pendingICE
	c.pendingICE = nil
	for _, cand := range pending {
		if err := c.Peer.AddICECandidate(cand); err != nil {
			n.log.Warn().Err(err).Str("peer", c.PeerID).Msg("queued candidate rejected")
		}
	}
	return nil
}

// HandleEvent applies a peer event to its connection. It returns the
// connection and false when the event belongs to a closed or replaced one.
// A connection that fails or closes is removed from the registry.
func (n *Negotiator) HandleEvent(ctx context.Context, ev Event) (*Connection, bool) {
	c := n.reg.Get(ev.PeerID)
	if c == nil || c.seq != ev.Seq {
		return nil, false
	}

	switch ev.Kind {
	case EventCandidate:
		n.publish(ctx, signaling.New(n.self(), signaling.ICECandidate{Candidate: ev.Candidate}).To(c.PeerID))

	case EventState:
		switch ev.State {
		case webrtc.PeerConnectionStateConnected:
			if c.State != StateConnected {
				n.log.Info().Str("peer", c.PeerID).Stringer("role", c.Role).Msg("peer connected")
			}
			c.State = StateConnected
			if c.renegotiate && !c.offerPending {
				c.renegotiate = false
				if err := n.offer(ctx, c); err != nil {
					n.log.Warn().Err(err).Str("peer", c.PeerID).Msg("renegotiation failed")
				}
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			n.log.Info().Str("peer", c.PeerID).Stringer("state", ev.State).Msg("peer connection ended")
			n.drop(c)
		case webrtc.PeerConnectionStateDisconnected:
			n.log.Debug().Str("peer", c.PeerID).Msg("peer connection interrupted")
		}
	}
	return c, true
}

// Attach adds local tracks to every open connection that is not sending
// yet. Connected ones renegotiate now; ones whose current exchange predates
// the tracks renegotiate once they connect.
func (n *Negotiator) Attach(ctx context.Context, tracks []webrtc.TrackLocal) {
	if len(tracks) == 0 {
		return
	}
	for _, c := range n.reg.all() {
		if c.sending {
			continue
		}
		if err := n.addTracks(c, tracks); err != nil {
			n.log.Warn().Err(err).Str("peer", c.PeerID).Msg("attach failed")
			continue
		}
		switch {
		case c.State == StateConnected && !c.offerPending:
			if err := n.offer(ctx, c); err != nil {
				n.log.Warn().Err(err).Str("peer", c.PeerID).Msg("renegotiation failed")
			}
		case c.remoteSet || c.offerPending:
			c.renegotiate = true
		}
	}
}

// Close tears down the connection to peer in whatever state it is.
func (n *Negotiator) Close(peer string) bool {
	c := n.reg.Get(peer)
	if c == nil {
		return false
	}
	n.drop(c)
	return true
}

// CloseAll closes every connection and returns the affected peer ids.
func (n *Negotiator) CloseAll() []string {
	conns := n.reg.all()
	peers := make([]string, 0, len(conns))
	for _, c := range conns {
		n.drop(c)
		peers = append(peers, c.PeerID)
	}
	return peers
}

func (n *Negotiator) drop(c *Connection) {
	if n.reg.Get(c.PeerID) == c {
		n.reg.Remove(c.PeerID)
	}
	c.State = StateClosed
	c.offerPending = false
	c.pendingICE = nil
	if c.Peer != nil {
		if err := c.Peer.Close(); err != nil {
			n.log.Debug().Err(err).Str("peer", c.PeerID).Msg("close peer")
		}
	}
}

func (n *Negotiator) publish(ctx context.Context, m *signaling.Message) {
	if err := n.send.Publish(ctx, m); err != nil {
		n.log.Warn().Err(err).Str("peer", m.TargetPeerID).Msg("signal lost")
	}
}
