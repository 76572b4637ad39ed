package cmd

import (
	"fmt"
	"strconv"

	"github.com/BioHazard786/slotmesh/internal/relay"
	"github.com/BioHazard786/slotmesh/internal/ui"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <slot>",
	Aliases: []string{"j"},
	Short:   "Take a slot and send audio and video to the room",
	Long: `Take a numbered slot in a room and stream to every other peer.

Without --room a new room name is generated; share it with the others.

Examples:
  slotmesh join 1
  slotmesh join 3 --room kitten-waffle-stardust-happy
  slotmesh join 2 --room demo --video clip.ivf --audio clip.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := strconv.Atoi(args[0])
		if err != nil || slot < 1 {
			return fmt.Errorf("slot must be a positive number, got %q", args[0])
		}

		if flags.Room == "" {
			flags.Room = relay.RoomName()
		}
		cfg, err := LoadConfig(flags)
		if err != nil {
			return err
		}
		if slot > cfg.Capacity {
			return fmt.Errorf("slot %d outside 1..%d", slot, cfg.Capacity)
		}

		ui.PrintInfof("room %s", ui.BoldStyle.Render(cfg.Room))
		session, err := NewSession(cfg)
		if err != nil {
			return err
		}
		return session.Run(cmd.Context(), slot)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flags.VideoFile, "video", "", "IVF (VP8) file to loop as the video track")
	joinCmd.Flags().StringVar(&flags.AudioFile, "audio", "", "Ogg (Opus) file to loop as the audio track")
	joinCmd.Flags().BoolVar(&flags.NoVideo, "no-video", false, "Send audio only")
}
