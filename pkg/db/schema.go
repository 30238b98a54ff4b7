package db

import (
	"database/sql"
	"fmt"
)

// Monetary columns are stored as TEXT decimal strings; arithmetic happens in
// the engine and the formatted result is written back.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tokens (
    id               TEXT PRIMARY KEY,
    symbol           TEXT NOT NULL,
    name             TEXT NOT NULL,
    image            TEXT NOT NULL DEFAULT '',
    current_price    TEXT NOT NULL DEFAULT '0',
    price_change_24h TEXT NOT NULL DEFAULT '0',
    volume_24h       TEXT NOT NULL DEFAULT '0',
    market_cap       TEXT NOT NULL DEFAULT '0',
    is_pinned        INTEGER NOT NULL DEFAULT 0,
    last_updated     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS balances (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL UNIQUE,
    amount            TEXT NOT NULL DEFAULT '0',
    last_faucet_claim TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS positions (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    token_id          TEXT NOT NULL,
    side              TEXT NOT NULL,
    entry_price       TEXT NOT NULL,
    quantity          TEXT NOT NULL,
    leverage          INTEGER NOT NULL DEFAULT 1,
    margin            TEXT NOT NULL,
    liquidation_price TEXT NOT NULL DEFAULT '0',
    take_profit       TEXT,
    stop_loss         TEXT,
    limit_close_price TEXT,
    unrealized_pnl    TEXT NOT NULL DEFAULT '0',
    realized_pnl      TEXT,
    is_agent_trade    INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'open',
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    closed_at         TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    position_id    TEXT NOT NULL,
    token_id       TEXT NOT NULL,
    side           TEXT NOT NULL,
    type           TEXT NOT NULL,
    price          TEXT NOT NULL,
    quantity       TEXT NOT NULL,
    fee            TEXT NOT NULL DEFAULT '0',
    realized_pnl   TEXT,
    is_agent_trade INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, created_at);

CREATE TABLE IF NOT EXISTS agent_configs (
    id                      TEXT PRIMARY KEY,
    user_id                 TEXT NOT NULL UNIQUE,
    allowed_tokens          TEXT NOT NULL DEFAULT '[]',
    max_capital             TEXT NOT NULL DEFAULT '1000',
    max_leverage            INTEGER NOT NULL DEFAULT 5,
    max_open_positions      INTEGER NOT NULL DEFAULT 3,
    trade_frequency_minutes INTEGER NOT NULL DEFAULT 30,
    strategy                TEXT NOT NULL DEFAULT 'trend',
    use_ema_filter          INTEGER NOT NULL DEFAULT 1,
    use_rsi_filter          INTEGER NOT NULL DEFAULT 1,
    use_volatility_filter   INTEGER NOT NULL DEFAULT 0,
    max_margin_per_trade    TEXT NOT NULL DEFAULT '300',
    max_loss_per_day        TEXT NOT NULL DEFAULT '100',
    use_random_margin       INTEGER NOT NULL DEFAULT 1,
    status                  TEXT NOT NULL DEFAULT 'paused',
    last_run_at             TIMESTAMP,
    created_at              TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at              TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS agent_events (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    event_type TEXT NOT NULL,
    symbol     TEXT,
    message    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_agent_events_user ON agent_events(user_id, created_at);

CREATE TABLE IF NOT EXISTS pnl_snapshots (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    equity     TEXT NOT NULL,
    daily_pnl  TEXT NOT NULL DEFAULT '0',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_pnl_snapshots_user ON pnl_snapshots(user_id, created_at);
`

// ApplyMigrations creates missing tables and patches columns added after the
// first release. Safe to run on every startup.
func (d *Database) ApplyMigrations() error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	migrations := []struct {
		table, column, ddl string
	}{
		{"positions", "limit_close_price", "ALTER TABLE positions ADD COLUMN limit_close_price TEXT"},
		{"agent_configs", "use_random_margin", "ALTER TABLE agent_configs ADD COLUMN use_random_margin INTEGER NOT NULL DEFAULT 1"},
		{"agent_configs", "max_loss_per_day", "ALTER TABLE agent_configs ADD COLUMN max_loss_per_day TEXT NOT NULL DEFAULT '100'"},
		{"tokens", "is_pinned", "ALTER TABLE tokens ADD COLUMN is_pinned INTEGER NOT NULL DEFAULT 0"},
	}
	for _, m := range migrations {
		if err := d.ensureColumn(m.table, m.column, m.ddl); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) ensureColumn(table, column, ddl string) error {
	exists, err := d.columnExists(table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := d.DB.Exec(ddl); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

func (d *Database) columnExists(table, column string) (bool, error) {
	rows, err := d.DB.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
