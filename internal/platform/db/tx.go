package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so repositories can run inside or outside
// a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTxIso runs fn at iso, committing when fn returns nil and rolling back otherwise.
// Counter updates use READ COMMITTED: the row locks taken by atomic increments serialise
// sibling writers without serialization failures.
func WithTxIso(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	if err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: iso}, fn); err != nil {
		return fmt.Errorf("platform/db: tx (%s): %w", iso, err)
	}
	return nil
}
