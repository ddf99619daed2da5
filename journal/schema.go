package journal

// Times are stored as unix nanoseconds so range filters compare numerically.
const Schema = `
CREATE TABLE IF NOT EXISTS challenges (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	account_size REAL NOT NULL,
	daily_drawdown_percent REAL,
	overall_drawdown_percent REAL,
	phase1_target_percent REAL,
	phase2_target_percent REAL,
	min_trading_days INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	challenge_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	phase TEXT NOT NULL,
	status TEXT NOT NULL,
	initial_balance REAL NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	max_equity_to_date REAL NOT NULL,
	today_start_equity REAL NOT NULL,
	min_equity_today REAL NOT NULL,
	min_equity_overall REAL NOT NULL,
	last_daily_reset INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	position_type TEXT NOT NULL,
	volume REAL NOT NULL,
	open_price REAL NOT NULL,
	close_price REAL,
	stop_loss REAL,
	take_profit REAL,
	profit REAL NOT NULL DEFAULT 0,
	leverage REAL NOT NULL DEFAULT 0,
	opened_at INTEGER NOT NULL,
	closed_at INTEGER,
	close_reason TEXT NOT NULL DEFAULT '',
	breach TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, opened_at);
CREATE INDEX IF NOT EXISTS idx_trades_open ON trades(close_price) WHERE close_price IS NULL;

CREATE TABLE IF NOT EXISTS equity_snapshots (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	equity REAL NOT NULL,
	balance REAL NOT NULL,
	time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_account_time ON equity_snapshots(account_id, time);

CREATE TABLE IF NOT EXISTS violations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	value REAL NOT NULL,
	limit_value REAL NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS phase_transitions (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	from_phase TEXT NOT NULL,
	to_phase TEXT NOT NULL,
	at INTEGER NOT NULL
);
`
