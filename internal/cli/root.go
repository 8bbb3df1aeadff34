package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "lobbyctl",
		Short: "CLI tool for the lobbyd API",
		Long: `lobbyctl is a CLI tool for interacting with the lobbyd JSON API.

It supports lobby creation and membership, ready state, lobby data,
service stats, and real-time event watching over WebSocket.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load token from file if not provided via flag/env
			if err := cfg.LoadToken(); err != nil {
				return err
			}
			client = NewClient(cfg.ServerURL, cfg.Token)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: LOBBYCTL_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.GameID, "game", cfg.GameID, "Game ID scoping lobby commands (env: LOBBYCTL_GAME)")
	rootCmd.PersistentFlags().StringVar(&cfg.Token, "token", cfg.Token, "Session token (env: LOBBYCTL_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&cfg.TokenFile, "token-file", cfg.TokenFile, "Token file path (env: LOBBYCTL_TOKEN_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")

	// Add subcommands
	rootCmd.AddCommand(newServeTokenCmd())
	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newJoinCmd())
	rootCmd.AddCommand(newLeaveCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newMembersCmd())
	rootCmd.AddCommand(newReadyCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newSetDataCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// gamePath returns the /v1/games/<id> route prefix for lobby commands.
func gamePath() (string, error) {
	if cfg.GameID == "" {
		return "", fmt.Errorf("a game id is required: pass --game or set LOBBYCTL_GAME")
	}
	return "/v1/games/" + cfg.GameID, nil
}
