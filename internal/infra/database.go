package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/mobile_ledger/internal/config"
	"github.com/congo-pay/mobile_ledger/internal/ledger"
)

// NewPostgresPool configures and returns a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Backend is the opened ledger store plus the pool behind it, if any.
type Backend struct {
	Store ledger.Store
	Pool  *pgxpool.Pool
}

// Close releases the store and the pool.
func (b Backend) Close() error {
	err := b.Store.Close()
	if b.Pool != nil {
		b.Pool.Close()
	}
	return err
}

// OpenStore opens the ledger backend selected by cfg.StoreBackend. SQL backends are
// migrated before they are returned.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return Backend{}, err
		}
		if err := ledger.MigratePostgres(pool); err != nil {
			pool.Close()
			return Backend{}, err
		}
		logger.Info("ledger store ready", slog.String("backend", cfg.StoreBackend))
		return Backend{Store: ledger.NewPostgresStore(pool), Pool: pool}, nil
	case config.BackendSQLite:
		store, err := ledger.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return Backend{}, err
		}
		logger.Info("ledger store ready", slog.String("backend", cfg.StoreBackend), slog.String("path", cfg.SQLitePath))
		return Backend{Store: store}, nil
	case config.BackendMemory:
		logger.Warn("ledger store is in memory; journals are lost on restart")
		return Backend{Store: ledger.NewInMemory()}, nil
	default:
		return Backend{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
