package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const maxBusyRetries = 3

// IsBusy reports whether err is an SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction. A BUSY failure rolls back and
// retries the whole transaction up to 3 times with 100/200/300 ms waits;
// any other error is returned as is.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxBusyRetries {
		if err = runOnce(ctx, db, fn); err == nil || !IsBusy(err) {
			return err
		}
		if i == maxBusyRetries-1 {
			break
		}
		if werr := sleepCtx(ctx, busyWait(i)); werr != nil {
			return fmt.Errorf("dbopen: context cancelled during retry: %w", werr)
		}
	}
	return err
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec executes a single statement with the same BUSY retry as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for i := range maxBusyRetries {
		if res, err = db.ExecContext(ctx, query, args...); err == nil || !IsBusy(err) {
			return res, err
		}
		if i == maxBusyRetries-1 {
			break
		}
		if werr := sleepCtx(ctx, busyWait(i)); werr != nil {
			return nil, fmt.Errorf("dbopen: context cancelled during retry: %w", werr)
		}
	}
	return nil, err
}

func busyWait(attempt int) time.Duration {
	return time.Duration(100*(attempt+1)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
