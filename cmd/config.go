package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the configuration after merging the config file, .env.local, .env
and the environment, with secrets masked. Exits non-zero when required
values are missing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		redacted := cfg.Redacted()
		text, err := redacted.YAML()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n%s", cfg.Path(), text)

		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(out, "# configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
