// Package dbx is the database layer shared by the SQLite repositories.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBTX is implemented by both *sql.DB and *sql.Tx, so a repository can be
// built over either.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is the body of a transaction. It may run more than once.
type TxFunc func(ctx context.Context, tx DBTX) error

// busyBackoff paces retries while another process holds the database lock.
var busyBackoff = func() retry.Backoff {
	return retry.WithMaxRetries(5,
		retry.WithJitter(5*time.Millisecond, retry.NewExponential(10*time.Millisecond)))
}

// WithTx runs fn in a transaction that commits when fn returns nil and rolls
// back otherwise. A panic in fn rolls back and keeps unwinding.
//
// If SQLite reports the database busy or locked, the transaction is rolled
// back and run again from the start, a few times, before the error is
// returned.
//
//	err := dbx.WithTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, fn TxFunc) error {
	return retry.Do(ctx, busyBackoff(), func(ctx context.Context) error {
		err := runTx(ctx, db, fn)
		if IsBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func runTx(ctx context.Context, db *sql.DB, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	done = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err is SQLite's SQLITE_BUSY or SQLITE_LOCKED,
// including their extended codes.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// ScanAll runs query and scans every row into a T using `db` struct tags.
// An empty result yields an empty, non-nil slice.
func ScanAll[T any](ctx context.Context, db DBTX, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanOne returns the first row of query, or sql.ErrNoRows.
func ScanOne[T any](ctx context.Context, db DBTX, query string, args ...any) (*T, error) {
	items, err := ScanAll[T](ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	return &items[0], nil
}
