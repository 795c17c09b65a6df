// Package postgres is the PostgreSQL adapter for devices, positions and polling status.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

// DB is the shared connection pool. It doubles as the health round-trip probe.
type DB struct {
	*sql.DB
}

var _ core.Pinger = (*DB)(nil)

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, opts *options.PostgresOptions) (*DB, error) {
	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{DB: db}, nil
}

// Ping runs a trivial query so the probe covers a full round trip.
func (db *DB) Ping(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return core.NewError(core.KindDatastore, "ping", err)
	}
	return nil
}
