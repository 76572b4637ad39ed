package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/slotmesh/internal/config"
	"github.com/BioHazard786/slotmesh/internal/ui"
	"github.com/BioHazard786/slotmesh/internal/version"
	"github.com/spf13/cobra"
)

// flags shared by every command; empty values fall through to the
// environment, the config file and then the defaults.
var flags config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "slotmesh",
	Short: "Fixed-slot peer-to-peer video rooms over WebRTC",
	Long: `slotmesh joins a room of numbered slots. A peer that takes a slot sends
audio and video to everyone in the room; everyone else watches. Media flows
directly between peers over WebRTC; a small relay only carries signaling.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigFile, "config", "c", "", "Config file (default ./slotmesh.yaml or ~/.config/slotmesh/slotmesh.yaml)")
	pf.StringVar(&flags.RelayURL, "relay-url", "", "Signaling relay websocket URL")
	pf.StringVar(&flags.Room, "room", "", "Room name")
	pf.StringVar(&flags.Codec, "codec", "", "Signaling wire codec (json or msgpack)")
	pf.StringVarP(&flags.STUNServer, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&flags.TURNServer, "turn", "t", "", "Custom TURN server")
	pf.StringVarP(&flags.TURNUser, "turn-user", "u", "", "TURN username")
	pf.StringVarP(&flags.TURNPass, "turn-pass", "p", "", "TURN password")
	pf.BoolVarP(&flags.ForceRelay, "relay", "r", false, "Force relay (TURN) mode")
}
