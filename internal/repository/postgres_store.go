package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/database"
)

// querier is satisfied by both the pool wrapper and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore implements Store on PostgreSQL. Envelope, purchase order and
// contract rows are locked with SELECT ... FOR UPDATE for the lifetime of the
// transaction, so concurrent requests on other processes serialize on them.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// InTransaction runs fn inside one database transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

// pgTx implements Tx over a live pgx transaction.
type pgTx struct {
	q querier
}

var _ Tx = (*pgTx)(nil)
