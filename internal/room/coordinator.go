// Package room runs the slot room protocol: it keeps the local view of slot
// occupancy, decides who offers to whom and owns the local media while
// joined.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/identity"
	"github.com/BioHazard786/slotmesh/internal/logging"
	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/BioHazard786/slotmesh/internal/slots"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const queueSize = 256

// Coordinator is the room state machine. All registry mutation happens on
// the goroutine running Run; transport and peer callbacks only enqueue.
type Coordinator struct {
	opts      Options
	transport signaling.Transport
	source    media.Source
	listener  Listener

	id     *identity.Identity
	slots  *slots.Registry
	conns  *mesh.Registry
	neg    *mesh.Negotiator
	router *signaling.Router

	inbound *fifo[*signaling.Message]
	events  *fifo[mesh.Event]
	calls   chan func(context.Context)
	done    chan struct{}

	// ctx is the loop context, valid while a handler runs.
	ctx   context.Context
	local *media.LocalStream
	// epoch changes on every join and leave; timers from an older epoch
	// do nothing.
	epoch uint64

	log zerolog.Logger
}

// New builds a coordinator. listener may be nil.
func New(opts Options, transport signaling.Transport, factory mesh.Factory, source media.Source, listener Listener) *Coordinator {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	c := &Coordinator{
		opts:      opts,
		transport: transport,
		source:    source,
		listener:  listener,
		id:        identity.New(),
		slots:     slots.NewRegistry(opts.Capacity),
		conns:     mesh.NewRegistry(),
		inbound:   newFIFO[*signaling.Message](),
		events:    newFIFO[mesh.Event](),
		calls:     make(chan func(context.Context), queueSize),
		done:      make(chan struct{}),
		log:       logging.For("room"),
	}
	c.neg = mesh.NewNegotiator(c.conns, factory, transport, c.id.ID, c.sink)
	c.router = signaling.NewRouter().
		Handle(signaling.TypeRequestState, c.onRequestState).
		Handle(signaling.TypeJoinSlot, c.onJoinSlot).
		Handle(signaling.TypeAnnounceJoin, c.onAnnounceJoin).
		Handle(signaling.TypeViewerResponse, c.onViewerResponse).
		Handle(signaling.TypeLeaveSlot, c.onLeaveSlot).
		Handle(signaling.TypePresenceLeave, c.onPresenceLeave).
		Handle(signaling.TypeOffer, c.onOffer).
		Handle(signaling.TypeAnswer, c.onAnswer).
		Handle(signaling.TypeICECandidate, c.onICECandidate)
	return c
}

// PeerID returns the local peer id, "" before Run.
func (c *Coordinator) PeerID() string {
	return c.id.ID()
}

// Run connects to the relay and processes the room until ctx ends. On the
// way out it leaves the room if joined and closes every connection.
func (c *Coordinator) Run(ctx context.Context) error {
	self := c.id.Ensure()
	c.log = c.log.With().Str("self", self).Logger()

	c.transport.Subscribe(c.receive)
	c.transport.OnConnected(func() {
		c.post(func(ctx context.Context) { c.connected() })
	})

	if err := c.transport.Connect(ctx, self); err != nil {
		c.shutdown()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.inbound.ready():
			if m, ok := c.inbound.pop(); ok {
				c.ctx = ctx
				c.dispatch(m)
			}
		case <-c.events.ready():
			if ev, ok := c.events.pop(); ok {
				c.ctx = ctx
				c.handleEvent(ev)
			}
		case fn := <-c.calls:
			c.ctx = ctx
			fn(ctx)
		}
	}
}

func (c *Coordinator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.ctx = ctx

	if slot, ok := c.joinedSlot(); ok {
		c.leave(slot, false)
	} else {
		c.closeAll()
	}
	c.local.Stop()
	c.local = nil
	c.id.Reset()
	c.inbound.close()
	c.events.close()
	close(c.done)
}

// Join claims slot for the local peer. Joining the slot already held is a
// no-op. Media acquisition failure aborts the join with nothing broadcast.
func (c *Coordinator) Join(ctx context.Context, slot int) error {
	return c.do(ctx, "join", func(context.Context) error { return c.join(ctx, slot) })
}

// Leave releases the local slot and closes every connection.
func (c *Coordinator) Leave(ctx context.Context) error {
	return c.do(ctx, "leave", func(context.Context) error {
		slot, ok := c.joinedSlot()
		if !ok {
			return errs.New("leave", errs.ErrNotJoined)
		}
		c.leave(slot, c.opts.ResumeViewing)
		return nil
	})
}

// Snapshot is a consistent view of the room taken on the loop.
type Snapshot struct {
	Self        string
	Slot        int // 0 when not joined
	Slots       []slots.Slot
	Connections []mesh.Info
}

func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, "snapshot", func(context.Context) error {
		snap = Snapshot{
			Self:        c.id.ID(),
			Slots:       c.slots.Snapshot(),
			Connections: c.conns.Snapshot(),
		}
		snap.Slot, _ = c.joinedSlot()
		return nil
	})
	return snap, err
}

// do runs fn on the loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, op string, fn func(context.Context) error) error {
	res := make(chan error, 1)
	select {
	case c.calls <- func(loopCtx context.Context) { res <- fn(loopCtx) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errs.New(op, errs.ErrClosed)
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errs.New(op, errs.ErrClosed)
	}
}

// post queues fn for the loop. It gives up once the loop has stopped.
func (c *Coordinator) post(fn func(context.Context)) {
	select {
	case c.calls <- fn:
	case <-c.done:
	}
}

// after runs fn on the loop once d has passed, unless a join or leave
// happened in between.
func (c *Coordinator) after(d time.Duration, fn func()) {
	epoch := c.epoch
	time.AfterFunc(d, func() {
		c.post(func(context.Context) {
			if c.epoch != epoch {
				return
			}
			fn()
		})
	})
}

// receive queues a relay message. Messages from one sender are handled in
// arrival order no matter how far the loop falls behind.
func (c *Coordinator) receive(m *signaling.Message) {
	c.inbound.push(m)
}

// sink takes peer events; the negotiator may call it from the loop itself.
func (c *Coordinator) sink(ev mesh.Event) {
	c.events.push(ev)
}

func (c *Coordinator) dispatch(m *signaling.Message) {
	if err := m.Validate(); err != nil {
		c.log.Warn().Err(err).Str("type", string(m.Type)).Str("from", m.SenderID).Msg("malformed message dropped")
		return
	}
	if !signaling.Accept(m, c.id.ID()) {
		return
	}
	if err := c.router.Dispatch(m); err != nil {
		c.log.Warn().Err(err).Str("from", m.SenderID).Msg("message dropped")
	}
}

func (c *Coordinator) joinedSlot() (int, bool) {
	self := c.id.ID()
	if self == "" {
		return 0, false
	}
	return c.slots.Lookup(self)
}

func (c *Coordinator) localTracks() []webrtc.TrackLocal {
	if _, ok := c.joinedSlot(); !ok {
		return nil
	}
	return c.local.Tracks()
}

func (c *Coordinator) publish(m *signaling.Message) {
	if err := c.transport.Publish(c.ctx, m); err != nil {
		c.log.Warn().Err(err).Stringer("msg", m).Msg("publish failed, message lost")
	}
}

func (c *Coordinator) connected() {
	c.log.Info().Msg("signaling connected")
	if slot, ok := c.joinedSlot(); ok {
		c.publish(signaling.New(c.id.ID(), signaling.JoinSlot{SlotID: slot, PeerID: c.id.ID()}))
	}
	time.AfterFunc(c.opts.StateRequestDelay, func() {
		c.post(func(context.Context) { c.requestState() })
	})
}

func (c *Coordinator) requestState() {
	self := c.id.ID()
	if self == "" {
		return
	}
	c.publish(signaling.New(self, signaling.RequestState{RequesterID: self}))
}

func (c *Coordinator) join(ctx context.Context, slot int) error {
	if !c.slots.Valid(slot) {
		return errs.Wrap("join", errs.ErrInvalidSlot, fmt.Sprintf("slot %d outside 1..%d", slot, c.slots.Capacity()))
	}
	self := c.id.Ensure()
	if cur, ok := c.slots.Lookup(self); ok {
		if cur == slot {
			return nil
		}
		return errs.Wrap("join", errs.ErrAlreadyJoined, fmt.Sprintf("already in slot %d", cur))
	}
	if occ := c.slots.Occupant(slot); occ != "" {
		return errs.Wrap("join", errs.ErrSlotOccupied, fmt.Sprintf("slot %d held by %s", slot, occ))
	}

	local, err := c.source.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, errs.ErrMediaAcquisition) {
			err = errs.Join(errs.ErrMediaAcquisition, err)
		}
		return errs.New("join", err)
	}
	c.local = local
	c.epoch++

	c.occupy(slot, self)
	// The join goes out before any renegotiation offer so receivers know
	// the slot when the tracks arrive.
	c.publish(signaling.New(self, signaling.JoinSlot{SlotID: slot, PeerID: self}))
	c.neg.Attach(c.ctx, local.Tracks())
	c.log.Info().Int("slot", slot).Msg("joined")

	c.after(c.opts.AnnounceDelay, func() {
		if cur, ok := c.joinedSlot(); ok {
			c.publish(signaling.New(self, signaling.AnnounceJoin{SlotID: cur, PeerID: self}))
		}
	})
	return nil
}

// leave broadcasts the departure, closes every connection and only then
// stops local media.
func (c *Coordinator) leave(slot int, resume bool) {
	self := c.id.ID()
	c.publish(signaling.New(self, signaling.LeaveSlot{SlotID: slot, PeerID: self}))

	c.closeAll()
	c.local.Stop()
	c.local = nil

	if vacated, ok := c.slots.Vacate(self); ok {
		c.listener.SlotVacated(vacated, self)
	}
	c.epoch++
	c.log.Info().Int("slot", slot).Msg("left")

	if resume {
		c.after(c.opts.StateRequestDelay, c.requestState)
	}
}

func (c *Coordinator) closeAll() {
	for _, peer := range c.neg.CloseAll() {
		c.detachStream(peer)
		c.listener.ConnectionChanged(mesh.Info{PeerID: peer, State: mesh.StateClosed})
	}
}

// occupy records peer in slot and reports whether the claim was accepted.
// Two peers claiming the same slot settle it by id: the lower id keeps the
// slot and the higher one leaves.
func (c *Coordinator) occupy(slot int, peer string) bool {
	self := c.id.ID()
	if self != "" && peer != self && peer > self && c.slots.Occupant(slot) == self {
		c.log.Warn().Int("slot", slot).Str("peer", peer).Msg("competing slot claim rejected")
		c.publish(signaling.New(self, signaling.JoinSlot{SlotID: slot, PeerID: self}))
		return false
	}
	ch, err := c.slots.Occupy(slot, peer)
	if err != nil {
		c.log.Warn().Err(err).Str("peer", peer).Msg("occupancy ignored")
		return false
	}
	if !ch.Changed {
		return true
	}
	if ch.Moved != 0 {
		c.listener.SlotVacated(ch.Moved, peer)
	}
	if ch.Evicted != "" {
		c.listener.SlotVacated(slot, ch.Evicted)
	}
	c.listener.SlotOccupied(slot, peer, peer == self)

	if ch.Evicted != "" && ch.Evicted == self {
		c.log.Warn().Int("slot", slot).Str("peer", peer).Msg("slot taken over, leaving")
		c.leave(slot, c.opts.ResumeViewing)
	}
	return true
}

func (c *Coordinator) depart(peer string) {
	if peer == c.id.ID() {
		return
	}
	c.detachStream(peer)
	if slot, ok := c.slots.Vacate(peer); ok {
		c.listener.SlotVacated(slot, peer)
	}
	if c.neg.Close(peer) {
		c.listener.ConnectionChanged(mesh.Info{PeerID: peer, State: mesh.StateClosed})
	}
}

func (c *Coordinator) detachStream(peer string) {
	if slot, ok := c.slots.UnbindStream(peer); ok {
		c.listener.StreamDetached(slot, peer)
	}
}

// open creates a connection to peer in role unless one exists.
func (c *Coordinator) open(peer string, role mesh.Role) {
	conn, created, err := c.neg.Open(c.ctx, peer, role, c.localTracks())
	if err != nil {
		c.log.Warn().Err(err).Str("peer", peer).Stringer("role", role).Msg("open connection failed")
		return
	}
	if created {
		c.listener.ConnectionChanged(conn.Info())
	}
}

func (c *Coordinator) handleEvent(ev mesh.Event) {
	conn, ok := c.neg.HandleEvent(c.ctx, ev)
	if !ok {
		return
	}
	switch ev.Kind {
	case mesh.EventTrack:
		c.bindTrack(ev.PeerID, ev.Track)
	case mesh.EventState:
		if conn.State == mesh.StateClosed {
			c.detachStream(ev.PeerID)
		}
		c.listener.ConnectionChanged(conn.Info())
	}
}

// bindTrack attaches a remote track to the slot its sender occupies.
// Tracks from peers without a slot are dropped.
func (c *Coordinator) bindTrack(peer string, track media.RemoteTrack) {
	stream := c.slots.StreamFor(peer)
	if stream == nil || stream.ID != track.StreamID() {
		stream = media.NewRemoteStream(peer, track.StreamID())
	}
	slot, ok := c.slots.BindStream(stream)
	if !ok {
		c.log.Warn().Str("peer", peer).Str("track", track.ID()).Msg("track from peer without slot dropped")
		return
	}
	if stream.Add(track) {
		c.listener.StreamAttached(slot, stream)
	}
}
