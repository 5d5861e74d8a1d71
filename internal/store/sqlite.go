// Package store provides data persistence implementations.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements AlertStore, LedgerStore and InstrumentStore using
// SQLite. Money columns are stored as decimal TEXT.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Instrument universe
	CREATE TABLE IF NOT EXISTS instruments (
		instrument_key TEXT PRIMARY KEY,
		token INTEGER NOT NULL DEFAULT 0,
		symbol TEXT NOT NULL,
		name TEXT,
		exchange TEXT NOT NULL,
		sector TEXT,
		avg_volume REAL NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Cached OHLCV candles
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument_key TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(instrument_key, interval, timestamp)
	);

	-- Alerts, one per instrument and strategy
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		score INTEGER NOT NULL,
		details TEXT NOT NULL,
		indicators TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		priority TEXT NOT NULL DEFAULT 'LOW',
		alert_type TEXT NOT NULL DEFAULT 'SCREENING',
		timestamp DATETIME NOT NULL,
		expires_at DATETIME,
		UNIQUE(instrument_key, strategy)
	);

	-- Paper trading wallets
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		balance TEXT NOT NULL,
		total_invested TEXT NOT NULL DEFAULT '0',
		total_pnl TEXT NOT NULL DEFAULT '0',
		total_trades INTEGER NOT NULL DEFAULT 0,
		winning_trades INTEGER NOT NULL DEFAULT 0,
		losing_trades INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Simulated trades
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		alert_id INTEGER,
		instrument_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		entry_price TEXT NOT NULL,
		target_price TEXT,
		stop_loss TEXT,
		status TEXT NOT NULL,
		exit_price TEXT,
		pnl TEXT,
		pnl_percentage TEXT,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME,
		risk_amount TEXT NOT NULL,
		risk_percentage TEXT NOT NULL,
		notes TEXT,
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	);

	-- Open positions, one per wallet and instrument
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id TEXT NOT NULL,
		instrument_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		avg_entry_price TEXT NOT NULL,
		current_price TEXT,
		unrealized_pnl TEXT NOT NULL DEFAULT '0',
		unrealized_pnl_percentage TEXT NOT NULL DEFAULT '0',
		updated_at DATETIME NOT NULL,
		UNIQUE(wallet_id, instrument_key),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_candles_key_interval ON candles(instrument_key, interval);
	CREATE INDEX IF NOT EXISTS idx_instruments_volume ON instruments(avg_volume);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_wallet_status ON trades(wallet_id, status);
	CREATE INDEX IF NOT EXISTS idx_trades_alert ON trades(alert_id);
	CREATE INDEX IF NOT EXISTS idx_positions_wallet ON positions(wallet_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inClause returns "(?, ?, ...)" with n placeholders.
func inClause(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ AlertStore      = (*SQLiteStore)(nil)
	_ LedgerStore     = (*SQLiteStore)(nil)
	_ InstrumentStore = (*SQLiteStore)(nil)
	_ AlertStore      = (*PostgresAlertStore)(nil)
)
