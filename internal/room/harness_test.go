package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/slotmesh/internal/media"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	"github.com/BioHazard786/slotmesh/internal/mesh/meshtest"
	"github.com/BioHazard786/slotmesh/internal/signaling"
	"github.com/BioHazard786/slotmesh/internal/signaling/signalingtest"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func testOptions() Options {
	return Options{
		Capacity:          6,
		SettleDelay:       50 * time.Millisecond,
		AnnounceDelay:     100 * time.Millisecond,
		StateRequestDelay: 20 * time.Millisecond,
	}
}

type fakeSource struct {
	mu       sync.Mutex
	err      error
	acquired int
}

func (s *fakeSource) Acquire(ctx context.Context) (*media.LocalStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	id := fmt.Sprintf("local-%p-%d", s, s.acquired)
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
	if err != nil {
		return nil, err
	}
	return media.NewLocalStream(id, audio, video), nil
}

// recorder is a Listener that logs every callback as a line of text.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recorder) SlotOccupied(slot int, peer string, local bool) {
	r.add("occupied %d %s local=%t", slot, peer, local)
}

func (r *recorder) SlotVacated(slot int, peer string) {
	r.add("vacated %d %s", slot, peer)
}

func (r *recorder) StreamAttached(slot int, stream *media.RemoteStream) {
	r.add("attached %d %s", slot, stream.PeerID)
}

func (r *recorder) StreamDetached(slot int, peer string) {
	r.add("detached %d %s", slot, peer)
}

func (r *recorder) ConnectionChanged(info mesh.Info) {
	r.add("conn %s %s", info.PeerID, info.State)
}

func (r *recorder) count(line string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if l == line {
			n++
		}
	}
	return n
}

type member struct {
	t       *testing.T
	c       *Coordinator
	ep      *signalingtest.Endpoint
	factory *meshtest.Factory
	source  *fakeSource
	rec     *recorder
	cancel  context.CancelFunc
	exited  chan error
}

type testRoom struct {
	t   *testing.T
	bus *signalingtest.Bus
}

func newTestRoom(t *testing.T) *testRoom {
	return &testRoom{t: t, bus: signalingtest.NewBus()}
}

// start runs a coordinator on the bus and waits until it has a peer id.
func (r *testRoom) start(opts Options) *member {
	r.t.Helper()
	m := &member{
		t:       r.t,
		ep:      r.bus.Endpoint(),
		factory: meshtest.NewFactory(),
		source:  &fakeSource{},
		rec:     &recorder{},
		exited:  make(chan error, 1),
	}
	m.c = New(opts, m.ep, m.factory, m.source, m.rec)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func() { m.exited <- m.c.Run(ctx) }()

	r.t.Cleanup(func() {
		cancel()
		select {
		case <-m.exited:
		case <-time.After(waitFor):
		}
		m.ep.Close()
	})

	require.Eventually(r.t, func() bool { return m.c.PeerID() != "" }, waitFor, tick)
	// Wait for the coordinator's own state request so it is fully online.
	id := m.c.PeerID()
	require.Eventually(r.t, func() bool {
		return r.count(signaling.TypeRequestState, id, "") > 0
	}, waitFor, tick)
	return m
}

// count returns the published messages of type t from sender (any sender
// when ""), addressed to target when target is set.
func (r *testRoom) count(t signaling.Type, sender, target string) int {
	return r.bus.Count(func(m *signaling.Message) bool {
		return m.Type == t &&
			(sender == "" || m.SenderID == sender) &&
			(target == "" || m.TargetPeerID == target)
	})
}

func (r *testRoom) find(t signaling.Type, sender, target string) []*signaling.Message {
	var out []*signaling.Message
	for _, m := range r.bus.Published() {
		if m.Type == t && (sender == "" || m.SenderID == sender) && (target == "" || m.TargetPeerID == target) {
			out = append(out, m)
		}
	}
	return out
}

func (m *member) id() string {
	return m.c.PeerID()
}

func (m *member) snapshot() Snapshot {
	m.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snap, err := m.c.Snapshot(ctx)
	require.NoError(m.t, err)
	return snap
}

func (m *member) join(slot int) {
	m.t.Helper()
	require.NoError(m.t, m.c.Join(context.Background(), slot))
}

func (m *member) leave() {
	m.t.Helper()
	require.NoError(m.t, m.c.Leave(context.Background()))
}

// conn returns the connection info toward peer, if any.
func (m *member) conn(peer string) (mesh.Info, bool) {
	for _, info := range m.snapshot().Connections {
		if info.PeerID == peer {
			return info, true
		}
	}
	return mesh.Info{}, false
}

func (m *member) connected(peer string) bool {
	info, ok := m.conn(peer)
	return ok && info.State == mesh.StateConnected
}

func (m *member) occupant(slot int) string {
	return m.snapshot().Slots[slot-1].Occupant
}

func (m *member) slotOf(peer string) int {
	for _, s := range m.snapshot().Slots {
		if s.Occupant == peer {
			return s.ID
		}
	}
	return 0
}

func (m *member) streamIn(slot int) *media.RemoteStream {
	return m.snapshot().Slots[slot-1].Stream
}

func (m *member) stop() error {
	m.cancel()
	select {
	case err := <-m.exited:
		m.exited <- err
		return err
	case <-time.After(waitFor):
		return errors.New("coordinator did not stop")
	}
}
