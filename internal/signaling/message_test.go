package signaling

import (
	"errors"
	"testing"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessages() []*Message {
	mid := "0"
	idx := uint16(0)
	return []*Message{
		New("a", JoinSlot{SlotID: 1, PeerID: "a"}),
		New("a", LeaveSlot{SlotID: 1, PeerID: "a"}),
		New("a", AnnounceJoin{SlotID: 2, PeerID: "a"}),
		New("b", ViewerResponse{ViewerID: "b"}).To("a"),
		New("b", RequestState{RequesterID: "b"}),
		New("a", Offer{Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}}).To("b"),
		New("b", Answer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}}).To("a"),
		New("a", ICECandidate{Candidate: webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		}}).To("b"),
		{Type: TypePresenceLeave, Data: PresenceLeave{PeerID: "c"}, Timestamp: 1},
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			for _, in := range sampleMessages() {
				frame, err := codec.Encode(in)
				require.NoError(t, err, in.Type)

				out, err := codec.Decode(frame)
				require.NoError(t, err, in.Type)
				assert.Equal(t, in, out)
			}
		})
	}
}

func TestJSONWireShape(t *testing.T) {
	m := New("a", JoinSlot{SlotID: 3, PeerID: "a"})
	m.Timestamp = 1700000000000

	frame, err := JSONCodec{}.Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"join-slot","data":{"slotId":3,"peerId":"a"},"senderId":"a","targetPeerId":null,"timestamp":1700000000000}`,
		string(frame))
}

func TestJSONDecodeRejectsUnknownType(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte(`{"type":"chat","data":{},"senderId":"a","targetPeerId":null,"timestamp":1}`))
	assert.True(t, errors.Is(err, errs.ErrUnknownType))

	_, err = JSONCodec{}.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.Name())

	c, err = CodecByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, CodecMsgpack, c.Name())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, m := range sampleMessages() {
		assert.NoError(t, m.Validate(), m.Type)
	}

	untargeted := New("a", Offer{})
	assert.True(t, errors.Is(untargeted.Validate(), errs.ErrNegotiation))

	anonymous := New("", JoinSlot{SlotID: 1, PeerID: "x"})
	assert.Error(t, anonymous.Validate())

	mismatched := &Message{Type: TypeOffer, Data: JoinSlot{}, SenderID: "a", TargetPeerID: "b"}
	assert.True(t, errors.Is(mismatched.Validate(), errs.ErrUnknownType))
}

func TestAccept(t *testing.T) {
	own := New("me", JoinSlot{SlotID: 1, PeerID: "me"})
	assert.False(t, Accept(own, "me"))

	broadcast := New("other", JoinSlot{SlotID: 1, PeerID: "other"})
	assert.True(t, Accept(broadcast, "me"))

	forMe := New("other", Offer{}).To("me")
	assert.True(t, Accept(forMe, "me"))

	forSomeoneElse := New("other", Offer{}).To("third")
	assert.False(t, Accept(forSomeoneElse, "me"))
}

func TestRouterDispatch(t *testing.T) {
	var got []Type
	r := NewRouter().
		Handle(TypeJoinSlot, func(m *Message) { got = append(got, m.Type) }).
		Handle(TypeLeaveSlot, func(m *Message) { got = append(got, m.Type) })

	require.NoError(t, r.Dispatch(New("a", JoinSlot{})))
	require.NoError(t, r.Dispatch(New("a", LeaveSlot{})))
	err := r.Dispatch(New("a", RequestState{}))
	assert.True(t, errors.Is(err, errs.ErrUnknownType))

	assert.Equal(t, []Type{TypeJoinSlot, TypeLeaveSlot}, got)
}
