// Package store provides SQLite-backed persistence for the trading engine.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store provides SQLite-based persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// WAL keeps readers unblocked while workers write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		nickname TEXT NOT NULL,
		broker TEXT NOT NULL DEFAULT 'KIS',
		market TEXT NOT NULL DEFAULT 'US',
		enabled INTEGER NOT NULL DEFAULT 0,
		health_status TEXT NOT NULL DEFAULT 'inactive',
		last_heartbeat DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id),
		app_key_encrypted TEXT NOT NULL,
		app_secret_encrypted TEXT NOT NULL,
		account_no_encrypted TEXT NOT NULL,
		sandbox INTEGER NOT NULL DEFAULT 1,
		token_encrypted TEXT NOT NULL DEFAULT '',
		token_expire_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_rules (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL DEFAULT 'NASD',
		buy_amount_usd TEXT NOT NULL,
		max_position_usd TEXT NOT NULL,
		entry_condition TEXT NOT NULL DEFAULT '',
		exit_condition TEXT NOT NULL DEFAULT '',
		time_in_force TEXT NOT NULL DEFAULT 'IOC',
		cooldown_seconds INTEGER NOT NULL DEFAULT 60,
		stop_loss_pct TEXT NOT NULL DEFAULT '0',
		take_profit_pct TEXT NOT NULL DEFAULT '0',
		enabled INTEGER NOT NULL DEFAULT 0,
		last_triggered_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_account ON trade_rules(account_id, enabled);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		rule_id TEXT,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL DEFAULT 'NASD',
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT,
		time_in_force TEXT NOT NULL DEFAULT 'IOC',
		status TEXT NOT NULL,
		broker_order_id TEXT NOT NULL DEFAULT '',
		client_order_id TEXT NOT NULL UNIQUE,
		filled_quantity INTEGER NOT NULL DEFAULT 0,
		avg_fill_price TEXT,
		commission TEXT,
		raw_response TEXT NOT NULL DEFAULT '',
		placed_at DATETIME,
		filled_at DATETIME,
		cancelled_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, status);
	CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		avg_price TEXT NOT NULL,
		current_price TEXT NOT NULL DEFAULT '0',
		unrealized_pnl TEXT NOT NULL DEFAULT '0',
		opened_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_account_symbol ON positions(account_id, symbol);

	CREATE TABLE IF NOT EXISTS execution_logs (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		rule_id TEXT,
		level TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		error_code TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_account ON execution_logs(account_id, created_at);

	CREATE TABLE IF NOT EXISTS worker_checkpoints (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id),
		event_cursor INTEGER NOT NULL DEFAULT 0,
		last_cycle_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nullDecimalString converts an optional decimal to its stored form.
func nullDecimalString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// scanDecimal parses a stored decimal column.
func scanDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// scanNullDecimal parses an optional stored decimal column.
func scanNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
