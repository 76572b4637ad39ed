package rtc

import (
	"strings"
	"sync"
	"testing"

	"github.com/BioHazard786/slotmesh/internal/config"
	"github.com/BioHazard786/slotmesh/internal/mesh"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration(t *testing.T) {
	cfg := &config.Config{STUNServer: "stun:stun.example:3478"}
	conf := Configuration(cfg)
	require.Len(t, conf.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example:3478"}, conf.ICEServers[0].URLs)
	assert.Equal(t, pion.ICETransportPolicyAll, conf.ICETransportPolicy)

	cfg.TURNServer = "turn:turn.example"
	cfg.TURNUser, cfg.TURNPass = "u", "p"
	cfg.ForceRelay = true
	conf = Configuration(cfg)
	require.Len(t, conf.ICEServers, 2)
	assert.Equal(t, "u", conf.ICEServers[1].Username)
	assert.Equal(t, "p", conf.ICEServers[1].Credential)
	assert.Equal(t, pion.ICETransportPolicyRelay, conf.ICETransportPolicy)
}

func TestForceRelayNeedsTURN(t *testing.T) {
	conf := Configuration(&config.Config{ForceRelay: true})
	assert.Empty(t, conf.ICEServers)
	assert.Equal(t, pion.ICETransportPolicyAll, conf.ICETransportPolicy)
}

type recorder struct {
	mu     sync.Mutex
	events []mesh.Event
}

func (r *recorder) emit(ev mesh.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestOfferAnswerExchange(t *testing.T) {
	f, err := NewFactory(&config.Config{})
	require.NoError(t, err)

	var ra, rb recorder
	a, err := f.NewPeer("b", ra.emit)
	require.NoError(t, err)
	defer a.Close()
	b, err := f.NewPeer("a", rb.emit)
	require.NoError(t, err)
	defer b.Close()

	audio, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, "audio", "stream-a")
	require.NoError(t, err)
	video, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", "stream-a")
	require.NoError(t, err)
	require.NoError(t, a.AddTrack(audio))
	require.NoError(t, a.AddTrack(video))

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offer))
	assert.True(t, strings.Contains(offer.SDP, "m=audio"))
	assert.True(t, strings.Contains(offer.SDP, "m=video"))

	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, a.SetRemoteDescription(answer))

	assert.Equal(t, pion.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "a=recvonly")
}
