package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/backend/local"
	"github.com/saravenpi/supachat/internal/backend/supabase"
	"github.com/saravenpi/supachat/internal/config"
	"github.com/saravenpi/supachat/internal/logging"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openLogger writes to the configured log file; --verbose forces debug.
func openLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return logging.OpenFile(cfg.LogFile, level)
}

// openPlatform builds the backend selected by cfg. The session is persisted
// in cfg.SessionFile for both backends.
func openPlatform(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend.Platform, error) {
	sessions := backend.NewFileSessionStore(cfg.SessionFile)

	switch cfg.Backend {
	case config.BackendSupabase:
		return supabase.New(supabase.ClientConfig{
			URL:      cfg.SupabaseURL,
			AnonKey:  cfg.SupabaseAnonKey,
			Bucket:   cfg.StorageBucket,
			Sessions: sessions,
			Logger:   logger,
		})
	case config.BackendLocal:
		return local.Open(ctx, local.Config{
			Database:   cfg.Local.Database,
			StorageDir: cfg.Local.StorageDir,
			PublicURL:  cfg.Local.PublicURL,
			JWTSecret:  cfg.Local.JWTSecret,
			Sessions:   sessions,
			Logger:     logger,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// withPlatform validates the configuration, opens the platform with a
// logger on the configured file, runs fn and closes everything.
func withPlatform(ctx context.Context, fn func(context.Context, *config.Config, *backend.Platform) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	platform, err := openPlatform(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer platform.Close()

	return fn(ctx, cfg, platform)
}
