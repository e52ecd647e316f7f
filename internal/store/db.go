package store

import (
	"context"
	"database/sql"
)

// DBTX is the database access surface the stores need. Both *sql.DB and
// *sql.Tx satisfy it, so a store method works the same inside and outside
// a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
