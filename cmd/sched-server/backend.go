package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/schedengine/internal/config"
	"github.com/ehr/schedengine/internal/domain/scheduling"
	"github.com/ehr/schedengine/internal/platform/db"
	memstore "github.com/ehr/schedengine/internal/platform/scheduling"
)

// backend is the configured appointment store plus its health check.
type backend struct {
	store  scheduling.AppointmentStore
	pinger db.Pinger
	pool   *pgxpool.Pool
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		m := memstore.NewMemoryStore()
		if cfg.SeedFile != "" {
			f, err := os.Open(cfg.SeedFile)
			if err != nil {
				return nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := m.LoadSeed(f); err != nil {
				return nil, fmt.Errorf("load seed file %s: %w", cfg.SeedFile, err)
			}
			logger.Info().Str("file", cfg.SeedFile).Msg("loaded seed data")
		}
		return &backend{store: m, pinger: m}, nil
	default:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
		return &backend{store: scheduling.NewStorePG(pool), pinger: pool, pool: pool}, nil
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
	})
}
