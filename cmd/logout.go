package cmd

import (
	"context"
	"fmt"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/config"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the saved session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlatform(cmd.Context(), func(ctx context.Context, cfg *config.Config, platform *backend.Platform) error {
			if err := platform.Auth.SignOut(ctx); err != nil {
				return fmt.Errorf("failed to sign out: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
