package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/turing-shop/turing-ledger/config"
	"github.com/turing-shop/turing-ledger/internal/domain/ledger"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/fixtures"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/persistence/memory"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/persistence/postgres"
	"github.com/turing-shop/turing-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// setupSlog builds the bootstrap and infrastructure logger.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddSource: cfg.App.Debug || cfg.IsDevelopment(),
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", cfg.App.Name, "version", cfg.App.Version)
}

// setupLedgerLogger gives the engine and the API the same handler as log.
func setupLedgerLogger(log *slog.Logger) *logger.Logger {
	return logger.FromSlog(log)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// connectPostgres opens the pool described by cfg.Database.
func connectPostgres(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	settings := postgres.DefaultPoolSettings()
	settings.MaxConns = int32(cfg.Database.MaxConns)
	settings.MinConns = int32(cfg.Database.MinConns)
	settings.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	settings.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	return postgres.Connect(ctx, cfg.Database.URL, settings)
}

// openStore returns the configured entity store and its release function.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (ledger.Store, func(), error) {
	switch cfg.Ledger.Store {
	case config.StorePostgres:
		log.Info("connecting to database...")
		conn, err := connectPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established")

		if cfg.Database.AutoMigrate {
			if err := migrateUp(ctx, conn, log); err != nil {
				conn.Close()
				return nil, nil, err
			}
		}

		return postgres.NewStore(conn), func() {
			log.Info("closing database connection...", "pool", conn.Stats())
			conn.Close()
		}, nil

	default:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
}

// migrateUp applies pending migrations and logs the resulting status.
func migrateUp(ctx context.Context, conn *postgres.Connection, log *slog.Logger) error {
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
		return nil
	}
	applied := 0
	for _, m := range status {
		if m.IsApplied {
			applied++
		}
	}
	log.Info("migrations completed", "applied", applied, "total", len(status))
	return nil
}

// seedStore loads a fixture file into store.
func seedStore(ctx context.Context, store fixtures.Creator, path string, log *slog.Logger) error {
	f, err := fixtures.Load(path)
	if err != nil {
		return err
	}
	res, err := fixtures.Apply(ctx, store, f)
	if err != nil {
		return err
	}
	log.Info("fixtures applied", "file", path, "created", res.Created, "skipped", res.Skipped)
	return nil
}
