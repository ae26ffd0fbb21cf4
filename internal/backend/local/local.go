// Package local runs the chat platform on this machine: accounts, rows and
// realtime in SQLite or PostgreSQL, uploaded files in a directory.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/backend/sqlstore"
	"github.com/saravenpi/supachat/internal/clock"
)

type Config struct {
	// Database is a SQLite file path or a postgres:// URL.
	Database   string
	StorageDir string
	// PublicURL prefixes object paths in PublicURL; empty means file:// URLs.
	PublicURL string
	JWTSecret string

	Sessions backend.SessionStore
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Open connects to the database, applies the schema and wires the four
// platform surfaces together.
func Open(ctx context.Context, cfg Config) (*backend.Platform, error) {
	if cfg.Database == "" {
		return nil, errors.New("local database is not configured")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("local jwt secret is not configured")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = &backend.MemorySessionStore{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "local")

	dialect := sqlstore.DialectFor(cfg.Database)
	db, err := sql.Open(dialect.Driver, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Name == sqlstore.SQLite.Name {
		// One writer at a time; avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	broker := NewBroker()
	auth := newAuth(db, cfg.JWTSecret, cfg.Sessions, cfg.Clock, logger)

	opts := []sqlstore.Option{sqlstore.WithClock(cfg.Clock)}
	if !dialect.Notifies {
		opts = append(opts, sqlstore.WithInsertHook(broker.Publish))
	}
	store := sqlstore.New(db, dialect, auth.CurrentUserID, opts...)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	closers := []io.Closer{broker}
	if dialect.Notifies {
		relay, err := startNotifyRelay(cfg.Database, broker, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		closers = append([]io.Closer{relay}, closers...)
	}
	closers = append(closers, db)

	logger.Info("local platform ready", "dialect", dialect.Name, "storage_dir", cfg.StorageDir)

	storage := NewDirStorage(cfg.StorageDir, cfg.PublicURL)
	return backend.NewPlatform(auth, store, storage, broker, multiCloser(closers)), nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
