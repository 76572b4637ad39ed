package cmd

import (
	"context"
	"testing"

	"github.com/BioHazard786/slotmesh/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRejectsRelayWithoutTURN(t *testing.T) {
	t.Setenv("TURN_SERVER", "")
	t.Setenv("SLOTMESH_TURN_SERVER", "")

	_, err := LoadConfig(config.Options{ConfigFile: "", ForceRelay: true, RelayURL: "ws://relay/ws"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TURN")

	cfg, err := LoadConfig(config.Options{ForceRelay: true, TURNServer: "turn:example.org", RelayURL: "ws://relay/ws"})
	require.NoError(t, err)
	assert.True(t, cfg.ForceRelay)
}

func TestJoinRejectsBadSlot(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-1", "99"} {
		t.Run(arg, func(t *testing.T) {
			flags = config.Options{Room: "lobby"}
			rootCmd.SetArgs([]string{"join", "--room", "lobby", "--", arg})
			err := rootCmd.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "slot")
		})
	}
}

func TestWatchNeedsRoom(t *testing.T) {
	t.Setenv("ROOM", "")
	t.Setenv("SLOTMESH_ROOM", "")
	flags = config.Options{}

	rootCmd.SetArgs([]string{"watch"})
	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no room")
}
