package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/propdesk/broker"
)

// SQLite is the Store backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at path and applies Schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY under the
	// monitor and the CLI sharing a file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func (j *SQLite) CreateChallenge(ctx context.Context, c broker.Challenge) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO challenges
		(id, name, account_size, daily_drawdown_percent, overall_drawdown_percent,
		 phase1_target_percent, phase2_target_percent, min_trading_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.AccountSize, nullFloat(c.DailyDrawdownPercent), nullFloat(c.OverallDrawdownPercent),
		nullFloat(c.Phase1TargetPercent), nullFloat(c.Phase2TargetPercent), c.MinTradingDays,
	)
	if err != nil {
		return fmt.Errorf("insert challenge %s: %w", c.ID, err)
	}
	return nil
}

func (j *SQLite) CreateAccount(ctx context.Context, a broker.Account) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, user_id, challenge_id, platform, phase, status, initial_balance, balance, equity,
		 max_equity_to_date, today_start_equity, min_equity_today, min_equity_overall,
		 last_daily_reset, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.ChallengeID, string(a.Platform), string(a.Phase), string(a.Status),
		a.InitialBalance, a.Balance, a.Equity, a.MaxEquityToDate, a.TodayStartEquity,
		a.MinEquityToday, a.MinEquityOverall, nullTime(a.LastDailyReset),
		nanos(a.CreatedAt), nanos(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.ID, err)
	}
	return nil
}

func (j *SQLite) UpdateAccount(ctx context.Context, a broker.Account) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE accounts SET
		 phase = ?, status = ?, balance = ?, equity = ?, max_equity_to_date = ?,
		 today_start_equity = ?, min_equity_today = ?, min_equity_overall = ?,
		 last_daily_reset = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Phase), string(a.Status), a.Balance, a.Equity, a.MaxEquityToDate,
		a.TodayStartEquity, a.MinEquityToday, a.MinEquityOverall,
		nullTime(a.LastDailyReset), nanos(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", a.ID, err)
	}
	return expectRow(res, "account", a.ID)
}

func (j *SQLite) InsertTrade(ctx context.Context, t broker.Trade) error {
	breach, err := encodeBreach(t)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO trades
		(id, account_id, symbol, side, position_type, volume, open_price, close_price,
		 stop_loss, take_profit, profit, leverage, opened_at, closed_at, close_reason, breach)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Symbol, string(t.Side), string(t.PositionType), t.Volume, t.OpenPrice,
		nullFloat(t.ClosePrice), nullFloat(t.StopLoss), nullFloat(t.TakeProfit), t.Profit, t.Leverage,
		nanos(t.OpenedAt), nullTime(t.ClosedAt), string(t.CloseReason), breach,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTrade never replaces a breach snapshot that is already stored.
func (j *SQLite) UpdateTrade(ctx context.Context, t broker.Trade) error {
	breach, err := encodeBreach(t)
	if err != nil {
		return err
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE trades SET
		 close_price = ?, stop_loss = ?, take_profit = ?, profit = ?,
		 closed_at = ?, close_reason = ?, breach = COALESCE(breach, ?)
		WHERE id = ?`,
		nullFloat(t.ClosePrice), nullFloat(t.StopLoss), nullFloat(t.TakeProfit), t.Profit,
		nullTime(t.ClosedAt), string(t.CloseReason), breach, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", t.ID, err)
	}
	return expectRow(res, "trade", t.ID)
}

func (j *SQLite) InsertSnapshot(ctx context.Context, s broker.EquitySnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO equity_snapshots (id, account_id, equity, balance, time)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.Equity, s.Balance, nanos(s.Time),
	)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}
	return nil
}

func (j *SQLite) InsertViolation(ctx context.Context, v broker.Violation) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO violations (id, account_id, type, message, value, limit_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.AccountID, string(v.Type), v.Message, v.Value, v.Limit, nanos(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

func (j *SQLite) InsertPhaseTransition(ctx context.Context, p broker.PhaseTransition) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO phase_transitions (id, account_id, from_phase, to_phase, at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, string(p.From), string(p.To), nanos(p.At),
	)
	if err != nil {
		return fmt.Errorf("insert phase transition: %w", err)
	}
	return nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return broker.NotFound(kind, id)
	}
	return nil
}

func encodeBreach(t broker.Trade) (sql.NullString, error) {
	if !t.Breach.IsSet() {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(t.Breach)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode breach for trade %s: %w", t.ID, err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// nanos maps the zero time to 0 since UnixNano is undefined that far back.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
