package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Watch a room without taking a slot",
	Long: `Connect to a room as a viewer and receive every occupied slot.

Examples:
  slotmesh watch --room kitten-waffle-stardust-happy
  ROOM=demo slotmesh watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(flags)
		if err != nil {
			return err
		}
		if cfg.Room == "" {
			return errors.New("no room given (use --room or ROOM)")
		}

		session, err := NewSession(cfg)
		if err != nil {
			return err
		}
		return session.Run(cmd.Context(), 0)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
