package db

import "fmt"

// Decimal columns are stored as TEXT to keep exact values round-tripping
// through shopspring/decimal.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS positions (
    ticker TEXT PRIMARY KEY,
    quantity INTEGER NOT NULL CHECK(quantity > 0),
    avg_cost TEXT NOT NULL,
    entry_date DATETIME,
    entry_score INTEGER DEFAULT 0,
    target_price TEXT,
    stop_loss TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    ticker TEXT NOT NULL,
    action TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    price TEXT NOT NULL,
    total TEXT NOT NULL,
    score INTEGER DEFAULT 0,
    reason TEXT,
    order_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS score_history (
    date TEXT NOT NULL,
    ticker TEXT NOT NULL,
    composite INTEGER NOT NULL,
    fundamental INTEGER DEFAULT 0,
    technical INTEGER DEFAULT 0,
    sentiment INTEGER DEFAULT 0,
    target_price TEXT,
    PRIMARY KEY(date, ticker)
);

CREATE TABLE IF NOT EXISTS run_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);
CREATE INDEX IF NOT EXISTS idx_scores_ticker ON score_history(ticker, date);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
