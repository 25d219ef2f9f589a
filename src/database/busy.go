package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
)

// BusyPolicy bounds how long the store waits on a lock held elsewhere.
type BusyPolicy struct {
	Timeout time.Duration // per-statement SQLite busy_timeout
	Retries int           // extra attempts after the first
	Backoff time.Duration // fixed pause between attempts
}

var DefaultBusyPolicy = BusyPolicy{Timeout: 2 * time.Second, Retries: 3, Backoff: 500 * time.Millisecond}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrStoreBusy) {
		return true
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// extended codes such as SQLITE_BUSY_SNAPSHOT carry the primary code in the low byte
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// RetryOnBusy runs fn, retrying with a fixed backoff while it fails on contention.
// When the attempts are used up the error wraps models.ErrStoreBusy.
func RetryOnBusy(ctx context.Context, policy BusyPolicy, fn func() error) error {
	var err error
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if attempt > 0 {
			logger.L.Warn("Store busy, retrying", "attempt", attempt, "backoff", policy.Backoff, "error", err)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrStoreBusy, ctx.Err())
			case <-time.After(policy.Backoff):
			}
		}
		err = fn()
		if !IsBusy(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", models.ErrStoreBusy, policy.Retries+1, err)
}

// WithConn acquires a connection, runs fn on it and releases it, retrying on contention.
func (s *Store) WithConn(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	return RetryOnBusy(ctx, s.busy, func() error {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(ctx, conn)
	})
}

// WithTx runs fn inside one transaction on a scoped connection. The transaction
// is rolled back when fn fails, so a failed attempt leaves nothing behind.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
