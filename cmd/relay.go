package cmd

import (
	"github.com/BioHazard786/slotmesh/internal/relay"
	"github.com/BioHazard786/slotmesh/internal/ui"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the websocket relay peers use to find each other. It forwards
signaling messages within a room and announces departures.

Examples:
  slotmesh relay
  slotmesh relay --addr :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(flags)
		if err != nil {
			return err
		}
		ui.PrintInfof("relay listening on %s", cfg.RelayAddr)
		return relay.Serve(cmd.Context(), cfg.RelayAddr, relay.OptionsFrom(cfg))
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flags.RelayAddr, "addr", "", "Address to listen on")
}
