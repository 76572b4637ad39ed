package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the part of a received track the mesh cares about.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// RemoteStream groups the tracks one remote peer sends under a stream id.
// It is the stream handle bound to a slot and handed to presentation and
// downstream consumers.
type RemoteStream struct {
	PeerID string
	ID     string

	mu     sync.RWMutex
	tracks []RemoteTrack
}

func NewRemoteStream(peerID, id string) *RemoteStream {
	return &RemoteStream{PeerID: peerID, ID: id}
}

// Add records t and reports whether it was new.
func (s *RemoteStream) Add(t RemoteTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			return false
		}
	}
	s.tracks = append(s.tracks, t)
	return true
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RemoteTrack(nil), s.tracks...)
}

func (s *RemoteStream) HasKind(kind webrtc.RTPCodecType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}
