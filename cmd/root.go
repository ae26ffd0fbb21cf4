package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/saravenpi/supachat/internal/chat"
	"github.com/saravenpi/supachat/internal/config"
	"github.com/saravenpi/supachat/internal/session"
	"github.com/saravenpi/supachat/internal/ui"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd starts the chat client when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "supachat",
	Short: "One-to-one chat in your terminal",
	Long: `supachat is a terminal chat client for a Supabase project.

Sign in or create an account, browse your threads, start a conversation by
searching for someone's name, and send messages and images that arrive live.

Configuration is read from ~/.supachat/config.yml and from SUPABASE_URL and
SUPABASE_ANON_KEY in the environment or a .env.local file. Set
"backend: local" to run against a database on this machine instead.

Quick Start:
  supachat                  # Open the chat client
  supachat threads          # Print your threads
  supachat config           # Show the resolved configuration
  supachat logout           # Forget the saved session`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.supachat/config.yml)")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func runTUI(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		if !config.IsConfigError(err) {
			return err
		}
		// No platform is constructed without a complete configuration.
		_, runErr := tea.NewProgram(ui.NewConfigRequiredModel(err), tea.WithAltScreen()).Run()
		return runErr
	}

	logger, logFile, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	platform, err := openPlatform(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open platform", "backend", cfg.Backend, "error", err)
		return err
	}
	defer func() {
		if err := platform.Close(); err != nil {
			logger.Warn("failed to close platform", "error", err)
		}
	}()

	provider := session.NewProvider(platform.Auth, platform.Store, logger)
	if err := provider.Start(ctx); err != nil {
		return err
	}
	defer provider.Stop()

	hint, err := chat.ParseTypingHint(cfg.TypingHint)
	if err != nil {
		return err
	}

	app := ui.NewApp(&ui.Deps{
		Session:    provider,
		Store:      platform.Store,
		Realtime:   platform.Realtime,
		Storage:    platform.Storage,
		TypingHint: hint,
		Logger:     logger,
	})

	logger.Info("starting", "version", version, "backend", cfg.Backend)
	final, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
	if model, ok := final.(ui.AppModel); ok {
		model.Close()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}
