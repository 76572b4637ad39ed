// Package mesh holds one negotiation state machine per remote peer and the
// rules deciding who offers to whom.
package mesh

import (
	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/pion/webrtc/v4"
)

type Role int

const (
	Offerer Role = iota + 1
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	default:
		return "unknown"
	}
}

type State int

const (
	StateNone State = iota
	StateCreating
	StateOfferSent
	StateAwaitingOffer
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateCreating:
		return "creating"
	case StateOfferSent:
		return "offer-sent"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is the peer-connection primitive a Connection drives.
// *rtc.Peer implements it over pion; meshtest provides a fake.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	Close() error
}

// Factory builds a Peer for a remote peer id. Every callback of the
// underlying connection must be reported through emit.
type Factory interface {
	NewPeer(peerID string, emit func(Event)) (Peer, error)
}

type EventKind int

const (
	EventCandidate EventKind = iota + 1
	EventTrack
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventCandidate:
		return "candidate"
	case EventTrack:
		return "track"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Event is one callback of a peer connection. Seq identifies the Connection
// that produced it, so events from a replaced connection can be discarded.
type Event struct {
	Kind   EventKind
	PeerID string
	Seq    uint64

	Candidate webrtc.ICECandidateInit
	Track     media.RemoteTrack
	State     webrtc.PeerConnectionState
}

// Connection is the negotiation state for one remote peer.
type Connection struct {
	PeerID string
	Role   Role
	State  State
	Peer   Peer

	seq          uint64
	sending      bool
	offerPending bool
	remoteSet    bool
	lastRemote   string
	pendingICE   []webrtc.ICECandidateInit
	renegotiate  bool
}

// Seq is the sequence number stamped on this connection's events.
func (c *Connection) Seq() uint64 {
	return c.seq
}

// Sending reports whether local tracks are attached.
func (c *Connection) Sending() bool {
	return c.sending
}

// Untouched reports an answerer that has not seen an offer yet.
func (c *Connection) Untouched() bool {
	return c.Role == Answerer && !c.remoteSet && !c.offerPending
}

// Info is a read-only view of a Connection.
type Info struct {
	PeerID  string
	Role    Role
	State   State
	Sending bool
}

func (c *Connection) Info() Info {
	return Info{PeerID: c.PeerID, Role: c.Role, State: c.State, Sending: c.sending}
}
