package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/strata-dw/strata/internal/core/storage"
)

// Dialect names the SQL backend behind the adapter. The schema and every
// query are written to the shared subset of PostgreSQL and SQLite ($N
// placeholders, ON CONFLICT, RETURNING); the dialect only gates the few
// constructs one side lacks, such as row locking.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Adapter implements every warehouse store interface over one *sql.DB.
// The connection is owned by the caller; Close releases it.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
}

// New creates an adapter over an already-opened connection.
// Schema must be initialized separately via migrations.
func New(db *sql.DB, dialect Dialect) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: db must not be nil")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}
	return &Adapter{db: db, dialect: dialect}, nil
}

// Stores bundles the adapter behind every store interface.
func (a *Adapter) Stores() *storage.Stores {
	return &storage.Stores{
		Ledger:     a,
		Dimensions: a,
		Facts:      a,
		Pending:    a,
		Buckets:    a,
		Errors:     a,
		Runs:       a,
	}
}

// DB returns the underlying connection so callers can share it, e.g.
// with the migration runner.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close closes the database connection. Should be called during
// graceful shutdown.
func (a *Adapter) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	slog.Info("[Store] Adapter closed gracefully")
	return nil
}

var (
	_ storage.LedgerStore     = (*Adapter)(nil)
	_ storage.DimensionStore  = (*Adapter)(nil)
	_ storage.FactStore       = (*Adapter)(nil)
	_ storage.PendingStore    = (*Adapter)(nil)
	_ storage.BucketStore     = (*Adapter)(nil)
	_ storage.ErrorQueueStore = (*Adapter)(nil)
	_ storage.ProcessRunStore = (*Adapter)(nil)
)

// inTx runs fn inside one transaction, rolling back on error.
func (a *Adapter) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
