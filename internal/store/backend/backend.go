// Package backend opens the repository named by the configuration.
package backend

import (
	"context"

	"dukani/backend/internal/config"
	"dukani/backend/internal/store"
	"dukani/backend/internal/store/memory"
	pgstore "dukani/backend/internal/store/postgres"
	sqlitestore "dukani/backend/internal/store/sqlite"
)

// Open prefers Postgres, then SQLite, then the in-memory store.
func Open(ctx context.Context, cfg config.Config) (store.Repository, error) {
	switch cfg.Backend() {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "sqlite":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return memory.New(), nil
	}
}
