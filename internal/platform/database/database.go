package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/errors"
	"github.com/pesio-ai/be-ap-budgets/internal/platform/logger"
)

// Config holds connection pool settings.
type Config struct {
	// URL, when set, is used as the connection string instead of the
	// discrete fields below.
	URL         string
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration

	// TxTimeout bounds every InTransaction call.
	TxTimeout time.Duration
	// LockTimeout is applied with SET LOCAL lock_timeout inside each transaction.
	LockTimeout time.Duration
}

// DB is an explicitly constructed pool handle passed down to repositories.
type DB struct {
	pool        *pgxpool.Pool
	txTimeout   time.Duration
	lockTimeout time.Duration
	log         *logger.Logger
}

// New opens the pool and verifies connectivity.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnTime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnTime
	}
	if cfg.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	}
	if cfg.HealthCheck > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if log == nil {
		log = logger.Nop()
	}
	return &DB{pool: pool, txTimeout: cfg.TxTimeout, lockTimeout: cfg.LockTimeout, log: log}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// QueryRow runs a single-row query outside a transaction.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Query runs a query outside a transaction.
func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// Exec runs a statement outside a transaction.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

// InTransaction runs fn inside a read-committed transaction bounded by the
// configured timeout. Any error returned by fn rolls the transaction back;
// nothing is committed unless fn returns nil. Driver errors are translated
// into typed errors.
func (db *DB) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if db.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.txTimeout)
		defer cancel()
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Translate(err, "failed to begin transaction")
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if db.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return Translate(err, "failed to set lock timeout")
		}
	}

	if err := fn(tx); err != nil {
		db.log.Debug().Err(err).Msg("transaction rolled back")
		return Translate(err, "transaction failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return Translate(err, "failed to commit transaction")
	}
	return nil
}

// Translate maps driver and context errors onto the service error codes.
// Errors that are already typed pass through unchanged.
func Translate(err error, message string) error {
	if err == nil {
		return nil
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrCodeTimeout, "transaction timed out")
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Wrap(err, errors.ErrCodeConflict, "duplicate record")
		case "23514":
			if IsBalanceConstraint(pgErr.ConstraintName) {
				return errors.Wrap(err, errors.ErrCodeInsufficientFunds, "budget balance constraint violated")
			}
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "check constraint violated")
		case "22003":
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "numeric value out of range")
		case "22P02":
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid input syntax")
		case "23503":
			return errors.Wrap(err, errors.ErrCodeInvalidInput, "referenced record does not exist")
		case "40001", "40P01":
			return errors.Wrap(err, errors.ErrCodeTransactionFailure, "transaction aborted, safe to retry")
		case "55P03", "57014":
			return errors.Wrap(err, errors.ErrCodeTimeout, "lock wait timed out")
		}
	}
	return errors.Wrap(err, errors.ErrCodeTransactionFailure, message)
}

// IsBalanceConstraint reports whether a CHECK constraint guards envelope balances.
func IsBalanceConstraint(name string) bool {
	switch name {
	case "chk_budgets_remaining_nonneg", "chk_budgets_allocated_le_total", "chk_budgets_balance":
		return true
	}
	return false
}
