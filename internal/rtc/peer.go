// Package rtc implements mesh peers on top of pion/webrtc.
package rtc

import (
	"errors"
	"io"
	"time"

	"github.com/BioHazard786/slotmesh/internal/config"
	"github.com/BioHazard786/slotmesh/internal/logging"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/netutil"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PLIInterval is how often receivers ask senders for a keyframe.
const PLIInterval = 3 * time.Second

// Configuration derives the ICE setup from cfg. Relay-only transport is used
// when a TURN server exists and either the user forces it or the network
// looks like a VPN or carrier-grade NAT.
func Configuration(cfg *config.Config) pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || netutil.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewAPI builds a pion API with the default codecs and interceptors plus a
// periodic PLI so late viewers get a keyframe quickly.
func NewAPI() (*pion.API, error) {
	mediaEngine := &pion.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(PLIInterval))
	if err != nil {
		return nil, err
	}
	registry.Add(pli)

	return pion.NewAPI(pion.WithMediaEngine(mediaEngine), pion.WithInterceptorRegistry(registry)), nil
}

// Factory creates pion-backed mesh peers sharing one API.
type Factory struct {
	api  *pion.API
	conf pion.Configuration
	log  zerolog.Logger
}

func NewFactory(cfg *config.Config) (*Factory, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, conf: Configuration(cfg), log: logging.For("rtc")}, nil
}

// NewPeer creates a peer connection toward peerID and reports its
// candidates, tracks and state changes through emit.
func (f *Factory) NewPeer(peerID string, emit func(mesh.Event)) (mesh.Peer, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc, peerID: peerID, log: f.log.With().Str("peer", peerID).Logger()}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		emit(mesh.Event{Kind: mesh.EventCandidate, Candidate: c.ToJSON()})
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		p.log.Debug().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		emit(mesh.Event{Kind: mesh.EventTrack, Track: track})
		go p.drain(track)
	})

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		p.log.Debug().Str("state", s.String()).Msg("peer state")
		emit(mesh.Event{Kind: mesh.EventState, State: s})
	})

	return p, nil
}

var _ mesh.Peer = (*Peer)(nil)

// Peer adapts a pion PeerConnection to mesh.Peer. Offers and answers are
// returned before gathering completes; candidates trickle through events.
type Peer struct {
	pc     *pion.PeerConnection
	peerID string
	log    zerolog.Logger
}

func (p *Peer) CreateOffer() (pion.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (pion.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(d pion.SessionDescription) error {
	return p.pc.SetLocalDescription(d)
}

func (p *Peer) SetRemoteDescription(d pion.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *Peer) AddICECandidate(c pion.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

// AddTrack sends t to the peer. RTCP from the receiver is read and dropped
// so interceptors keep running.
func (p *Peer) AddTrack(t pion.TrackLocal) error {
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

// ConnectionState exposes the pion state for diagnostics.
func (p *Peer) ConnectionState() pion.PeerConnectionState {
	return p.pc.ConnectionState()
}

// drain consumes RTP of a remote track. Rendering and recording happen
// downstream; here packets are only counted.
func (p *Peer) drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	packets := 0
	for {
		if _, _, err := track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Debug().Err(err).Str("track_id", track.ID()).Msg("remote track ended")
			}
			p.log.Debug().Int("packets", packets).Str("track_id", track.ID()).Msg("remote track drained")
			return
		}
		packets++
	}
}
