// Package pgstore bootstraps the Postgres connection pool and applies the
// schema owned by linkstore and analytics.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shortenerhq/shortener/analytics"
	"github.com/shortenerhq/shortener/linkstore"
)

// Open connects a pool and applies every package's schema DDL. Safe to
// call on every startup: all statements are idempotent (CREATE ... IF NOT
// EXISTS).
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	for _, schema := range []string{linkstore.Schema, analytics.Schema} {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}
	return pool, nil
}
