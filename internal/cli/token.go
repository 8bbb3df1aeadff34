package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quorumgames/lobbyd/internal/auth"
)

func newServeTokenCmd() *cobra.Command {
	var (
		userID      string
		displayName string
		privateKey  string
		publicKey   string
		save        bool
	)

	cmd := &cobra.Command{
		Use:   "serve-token",
		Short: "Mint a session token for development",
		Long: `serve-token mints a session token without talking to the server.

With --private-key and --public-key it signs a JWT the server accepts in
AUTH_MODE=jwt. Without keys it prints a literal token for AUTH_MODE=static.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if displayName == "" {
				displayName = userID
			}

			var token string
			if privateKey != "" || publicKey != "" {
				if privateKey == "" || publicKey == "" {
					return fmt.Errorf("--private-key and --public-key go together")
				}
				j, err := auth.NewJWTFromPath(privateKey, publicKey)
				if err != nil {
					return err
				}
				token, err = j.CreateToken(userID, displayName)
				if err != nil {
					return err
				}
			} else {
				token = fmt.Sprintf("user:%s:%s", userID, displayName)
			}

			if save {
				if err := cfg.SaveToken(token); err != nil {
					return err
				}
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the token identifies (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name (default: the user id)")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "EdDSA private key path for a signed JWT")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "EdDSA public key path matching --private-key")
	cmd.Flags().BoolVar(&save, "save", false, "Also write the token to the token file")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
