package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"dukani/backend/internal/store"
	"dukani/backend/internal/store/sqlstore"
)

var dialect = sqlstore.Dialect{
	Name:       "postgres",
	Bind:       sqlx.DOLLAR,
	LockSuffix: " FOR UPDATE",
	TxOptions:  &sql.TxOptions{Isolation: sql.LevelSerializable},
	Classify:   classify,
}

// New connects, verifies the connection and applies the schema.
func New(ctx context.Context, databaseURL string) (*sqlstore.Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := sqlstore.New(db, dialect)
	if err := s.Migrate(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505":
		return store.ErrDuplicate
	case "23503":
		return store.ErrReferentialIntegrity
	case "23514", "23502", "22003":
		return store.ErrValidation
	case "40001", "40P01", "55P03":
		return store.ErrContention
	}
	return nil
}
