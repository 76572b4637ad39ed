// Package meshtest provides deterministic in-memory peers for exercising the
// negotiation logic without ICE or DTLS.
package meshtest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/pion/webrtc/v4"
)

// Factory hands out FakePeers.
type Factory struct {
	// Err, when set, makes NewPeer fail.
	Err error

	mu    sync.Mutex
	peers map[string][]*FakePeer
}

func NewFactory() *Factory {
	return &Factory{peers: make(map[string][]*FakePeer)}
}

func (f *Factory) NewPeer(peerID string, emit func(mesh.Event)) (mesh.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	p := &FakePeer{remote: peerID, emit: emit}
	f.peers[peerID] = append(f.peers[peerID], p)
	return p, nil
}

// Peers returns every peer created toward remote, oldest first.
func (f *Factory) Peers(remote string) []*FakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePeer(nil), f.peers[remote]...)
}

// Last returns the newest peer created toward remote.
func (f *Factory) Last(remote string) *FakePeer {
	ps := f.Peers(remote)
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// Track is a fake received track.
type Track struct {
	TrackID string
	Stream  string
	Type    webrtc.RTPCodecType
}

func (t Track) ID() string                { return t.TrackID }
func (t Track) StreamID() string          { return t.Stream }
func (t Track) Kind() webrtc.RTPCodecType { return t.Type }

// FakePeer fakes a peer connection. Its SDP is a single line naming the
// local stream, the attached track count and a revision. It emits one candidate per
// local description, "connected" once both descriptions are set, and a
// track event per remote track.
type FakePeer struct {
	remote string
	emit   func(mesh.Event)

	mu         sync.Mutex
	rev        int
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	connected  bool
	closed     bool
	offers     int
	answers    int
}

func (p *FakePeer) describe(t webrtc.SDPType) webrtc.SessionDescription {
	p.rev++
	stream := ""
	if len(p.tracks) > 0 {
		stream = p.tracks[0].StreamID()
	}
	return webrtc.SessionDescription{
		Type: t,
		SDP:  fmt.Sprintf("fake stream=%s tracks=%d rev=%d", stream, len(p.tracks), p.rev),
	}
}

func (p *FakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, errors.New("peer closed")
	}
	p.offers++
	return p.describe(webrtc.SDPTypeOffer), nil
}

func (p *FakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, errors.New("peer closed")
	}
	if p.remoteDesc == nil || p.remoteDesc.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	p.answers++
	return p.describe(webrtc.SDPTypeAnswer), nil
}

func (p *FakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer closed")
	}
	p.local = &d
	cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:fake to %s rev %d", p.remote, p.rev)}
	connect := p.readyLocked()
	p.mu.Unlock()

	p.emit(mesh.Event{Kind: mesh.EventCandidate, Candidate: cand})
	if connect {
		p.emit(mesh.Event{Kind: mesh.EventState, State: webrtc.PeerConnectionStateConnected})
	}
	return nil
}

func (p *FakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	stream, tracks, err := parse(d.SDP)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("peer closed")
	}
	p.remoteDesc = &d
	connect := p.readyLocked()
	p.mu.Unlock()

	for i := 0; i < tracks; i++ {
		kind := webrtc.RTPCodecTypeAudio
		if i%2 == 1 {
			kind = webrtc.RTPCodecTypeVideo
		}
		p.emit(mesh.Event{Kind: mesh.EventTrack, Track: Track{
			TrackID: fmt.Sprintf("%s-%s", stream, kind),
			Stream:  stream,
			Type:    kind,
		}})
	}
	if connect {
		p.emit(mesh.Event{Kind: mesh.EventState, State: webrtc.PeerConnectionStateConnected})
	}
	return nil
}

// readyLocked reports the first moment both descriptions are present.
func (p *FakePeer) readyLocked() bool {
	if p.connected || p.local == nil || p.remoteDesc == nil {
		return false
	}
	p.connected = true
	return true
}

func (p *FakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *FakePeer) AddTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *FakePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.emit(mesh.Event{Kind: mesh.EventState, State: webrtc.PeerConnectionStateClosed})
	return nil
}

// Fail simulates an ICE failure.
func (p *FakePeer) Fail() {
	p.emit(mesh.Event{Kind: mesh.EventState, State: webrtc.PeerConnectionStateFailed})
}

func (p *FakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePeer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *FakePeer) TrackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

// Offers counts CreateOffer calls.
func (p *FakePeer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *FakePeer) Answers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers
}

func parse(sdp string) (stream string, tracks int, err error) {
	if !strings.HasPrefix(sdp, "fake ") {
		return "", 0, fmt.Errorf("not a fake sdp: %q", sdp)
	}
	for _, field := range strings.Fields(sdp)[1:] {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "stream":
			stream = v
		case "tracks":
			if tracks, err = strconv.Atoi(v); err != nil {
				return "", 0, err
			}
		}
	}
	return stream, tracks, nil
}
