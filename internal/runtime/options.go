package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/config"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage/sqldb"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads config from path and reloads the AI routing settings
// whenever the file changes.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		w, err := config.NewWatcher(path, g.logger)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		cfg, err := w.Load()
		if err != nil {
			return err
		}
		g.watcher = w
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses a fixed, already loaded config. No reloading happens.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		g.cfg = cfg
		return nil
	}
}

// WithSQLite stores data in the SQLite database at path, overriding the
// configured storage.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithPostgres stores data in PostgreSQL, overriding the configured storage.
func WithPostgres(dsn string) Option {
	return func(g *Gateway) error {
		store, err := sqldb.NewPostgres(dsn)
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithStore uses a caller-provided store. The gateway closes it on Shutdown.
func WithStore(store storage.Store) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithLogger sets a custom logger. Place it first so that later options log
// through it.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}
