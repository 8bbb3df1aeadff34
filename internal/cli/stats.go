package cli

import (
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show service-wide stats, or one game's when --game is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cfg.Output)

			if cfg.GameID == "" {
				var result GlobalStats
				if err := client.Get("/v1/stats", &result); err != nil {
					return err
				}
				out.Print(result)
				return nil
			}

			var result GameStats
			if err := client.Get("/v1/games/"+cfg.GameID+"/stats", &result); err != nil {
				return err
			}
			out.Print(result)
			return nil
		},
	}
}
