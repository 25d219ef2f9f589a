package database

import (
	"context"
	"database/sql"
	"fmt"
	stdlog "log"
	"net/url"
	"time"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
	_ "modernc.org/sqlite"
)

// Store is the SLIPS relational store. Every operation acquires its own
// connection and releases it before returning.
type Store struct {
	db   *sql.DB
	busy BusyPolicy
}

// InitDB opens the store and ensures the schema, exiting on failure.
func InitDB(databasePath string, busy BusyPolicy) *Store {
	store, err := Open(databasePath, busy)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}
	logger.L.Info("Checking database schema", "databasePath", databasePath)
	if err := store.EnsureSchema(context.Background()); err != nil {
		logger.L.Error("failed to create tables", "error", err)
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	logger.L.Info("Database tables ensured/created.")
	return store
}

// Open opens the SQLite file with a busy timeout so a lock held by another
// process is waited on for a bounded time instead of failing at once.
func Open(databasePath string, busy BusyPolicy) (*Store, error) {
	timeout := busy.Timeout
	if timeout <= 0 {
		timeout = DefaultBusyPolicy.Timeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_txlock", "immediate")
	dsn := "file:" + databasePath + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", databasePath, err)
	}
	db.SetConnMaxIdleTime(time.Minute)
	return &Store{db: db, busy: busy}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

// EnsureSchema creates the six SLIP tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.WithConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		for _, dir := range []models.Direction{models.Inward, models.Outward} {
			if _, err := conn.ExecContext(ctx, schemaFor(dir)); err != nil {
				return fmt.Errorf("create %s tables: %w", dir, err)
			}
		}
		return nil
	})
}

func fileTable(dir models.Direction) string   { return string(dir) + "_file_headers" }
func branchTable(dir models.Direction) string { return string(dir) + "_branch_headers" }
func txTable(dir models.Direction) string     { return string(dir) + "_transactions" }

func schemaFor(dir models.Direction) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL UNIQUE,
		control_id TEXT NOT NULL,
		field_id TEXT NOT NULL,
		file_date TEXT NOT NULL,
		bank_code TEXT NOT NULL,
		num_batches TEXT NOT NULL,
		num_transactions TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS %[2]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		control_id TEXT NOT NULL,
		field_id TEXT NOT NULL,
		file_date TEXT NOT NULL,
		bank_code TEXT NOT NULL,
		branch_code TEXT NOT NULL,
		credit_total TEXT NOT NULL,
		num_credit_items TEXT NOT NULL,
		debit_total TEXT NOT NULL,
		num_debit_items TEXT NOT NULL,
		account_hash_total TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_%[2]s_file ON %[2]s(file_name);

	CREATE TABLE IF NOT EXISTS %[3]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		branch_code TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		dest_bank_no TEXT NOT NULL,
		dest_branch_no TEXT NOT NULL,
		dest_account_no TEXT NOT NULL,
		dest_account_name TEXT NOT NULL,
		tx_code TEXT NOT NULL,
		return_code TEXT,
		orig_tx_date TEXT,
		amount TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		currency_code TEXT NOT NULL,
		orig_bank_no TEXT NOT NULL,
		orig_branch_no TEXT NOT NULL,
		orig_account_no TEXT NOT NULL,
		orig_account_name TEXT NOT NULL,
		particulars TEXT,
		reference TEXT,
		value_date TEXT NOT NULL,
		security_check_field TEXT,
		status TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_%[3]s_file ON %[3]s(file_name, branch_code);
	`, fileTable(dir), branchTable(dir), txTable(dir))
}
