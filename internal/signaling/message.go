package signaling

import (
	"fmt"
	"time"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/pion/webrtc/v4"
)

// Type names a signaling message on the wire.
type Type string

const (
	TypeJoinSlot       Type = "join-slot"
	TypeLeaveSlot      Type = "leave-slot"
	TypeAnnounceJoin   Type = "announce-join"
	TypeViewerResponse Type = "viewer-response"
	TypeRequestState   Type = "request-state"
	TypeOffer          Type = "offer"
	TypeAnswer         Type = "answer"
	TypeICECandidate   Type = "ice-candidate"

	// TypePresenceLeave is published by the relay, not by peers, when a
	// subscriber's socket goes away.
	TypePresenceLeave Type = "presence-leave"
)

// Payload is the typed body of a Message. Each message type has exactly one
// payload struct.
type Payload interface {
	MessageType() Type
}

type JoinSlot struct {
	SlotID int    `json:"slotId"`
	PeerID string `json:"peerId"`
}

type LeaveSlot struct {
	SlotID int    `json:"slotId"`
	PeerID string `json:"peerId"`
}

type AnnounceJoin struct {
	SlotID int    `json:"slotId"`
	PeerID string `json:"peerId"`
}

type ViewerResponse struct {
	ViewerID string `json:"viewerId"`
}

type RequestState struct {
	RequesterID string `json:"requesterId"`
}

type Offer struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type PresenceLeave struct {
	PeerID string `json:"peerId"`
}

func (JoinSlot) MessageType() Type       { return TypeJoinSlot }
func (LeaveSlot) MessageType() Type      { return TypeLeaveSlot }
func (AnnounceJoin) MessageType() Type   { return TypeAnnounceJoin }
func (ViewerResponse) MessageType() Type { return TypeViewerResponse }
func (RequestState) MessageType() Type   { return TypeRequestState }
func (Offer) MessageType() Type          { return TypeOffer }
func (Answer) MessageType() Type         { return TypeAnswer }
func (ICECandidate) MessageType() Type   { return TypeICECandidate }
func (PresenceLeave) MessageType() Type  { return TypePresenceLeave }

// newPayload returns a pointer to the zero payload for t.
func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeJoinSlot:
		return &JoinSlot{}, nil
	case TypeLeaveSlot:
		return &LeaveSlot{}, nil
	case TypeAnnounceJoin:
		return &AnnounceJoin{}, nil
	case TypeViewerResponse:
		return &ViewerResponse{}, nil
	case TypeRequestState:
		return &RequestState{}, nil
	case TypeOffer:
		return &Offer{}, nil
	case TypeAnswer:
		return &Answer{}, nil
	case TypeICECandidate:
		return &ICECandidate{}, nil
	case TypePresenceLeave:
		return &PresenceLeave{}, nil
	default:
		return nil, errs.Wrap("decode", errs.ErrUnknownType, string(t))
	}
}

// deref turns the pointer produced by decoding back into the value type so
// handlers can type-switch on plain structs.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *JoinSlot:
		return *v
	case *LeaveSlot:
		return *v
	case *AnnounceJoin:
		return *v
	case *ViewerResponse:
		return *v
	case *RequestState:
		return *v
	case *Offer:
		return *v
	case *Answer:
		return *v
	case *ICECandidate:
		return *v
	case *PresenceLeave:
		return *v
	}
	return p
}

// Message is the envelope broadcast on the signaling channel.
type Message struct {
	Type         Type
	Data         Payload
	SenderID     string
	TargetPeerID string // "" broadcasts to everyone
	Timestamp    int64  // unix milliseconds
}

// New builds a broadcast message from sender carrying p.
func New(sender string, p Payload) *Message {
	return &Message{
		Type:      p.MessageType(),
		Data:      p,
		SenderID:  sender,
		Timestamp: time.Now().UnixMilli(),
	}
}

// To addresses m to a single peer.
func (m *Message) To(peer string) *Message {
	m.TargetPeerID = peer
	return m
}

func (m *Message) String() string {
	if m.TargetPeerID != "" {
		return fmt.Sprintf("%s %s->%s", m.Type, m.SenderID, m.TargetPeerID)
	}
	return fmt.Sprintf("%s %s->*", m.Type, m.SenderID)
}

// targeted reports whether messages of type t must name a recipient.
func targeted(t Type) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// Validate checks the envelope is well formed.
func (m *Message) Validate() error {
	if m.Data == nil {
		return errs.Wrap("validate", errs.ErrUnknownType, "missing data")
	}
	if m.Data.MessageType() != m.Type {
		return errs.Wrap("validate", errs.ErrUnknownType,
			fmt.Sprintf("type %q carries %q payload", m.Type, m.Data.MessageType()))
	}
	if m.SenderID == "" && m.Type != TypePresenceLeave {
		return errs.Wrap("validate", errs.ErrNegotiation, "missing sender")
	}
	if targeted(m.Type) && m.TargetPeerID == "" {
		return errs.Wrap("validate", errs.ErrNegotiation, fmt.Sprintf("%s without target", m.Type))
	}
	return nil
}

// Accept applies receiver-side filtering: own messages and messages
// addressed to another peer are dropped.
func Accept(m *Message, self string) bool {
	if m.SenderID != "" && m.SenderID == self {
		return false
	}
	if m.TargetPeerID != "" && m.TargetPeerID != self {
		return false
	}
	return true
}
