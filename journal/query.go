package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/propdesk/broker"
)

const tradeColumns = `id, account_id, symbol, side, position_type, volume, open_price, close_price,
	stop_loss, take_profit, profit, leverage, opened_at, closed_at, close_reason, breach`

const accountColumns = `id, user_id, challenge_id, platform, phase, status, initial_balance, balance, equity,
	max_equity_to_date, today_start_equity, min_equity_today, min_equity_overall,
	last_daily_reset, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (j *SQLite) GetChallenge(ctx context.Context, id string) (broker.Challenge, error) {
	var (
		c                                broker.Challenge
		daily, overall, target1, target2 sql.NullFloat64
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT id, name, account_size, daily_drawdown_percent, overall_drawdown_percent,
		 phase1_target_percent, phase2_target_percent, min_trading_days
		FROM challenges WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.AccountSize, &daily, &overall, &target1, &target2, &c.MinTradingDays)
	if errors.Is(err, sql.ErrNoRows) {
		return broker.Challenge{}, broker.NotFound("challenge", id)
	}
	if err != nil {
		return broker.Challenge{}, fmt.Errorf("get challenge %s: %w", id, err)
	}
	c.DailyDrawdownPercent = floatPtr(daily)
	c.OverallDrawdownPercent = floatPtr(overall)
	c.Phase1TargetPercent = floatPtr(target1)
	c.Phase2TargetPercent = floatPtr(target2)
	return c, nil
}

func scanAccount(row scanner) (broker.Account, error) {
	var (
		a                       broker.Account
		platform, phase, status string
		lastReset               sql.NullInt64
		created, updated        int64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.ChallengeID, &platform, &phase, &status,
		&a.InitialBalance, &a.Balance, &a.Equity, &a.MaxEquityToDate, &a.TodayStartEquity,
		&a.MinEquityToday, &a.MinEquityOverall, &lastReset, &created, &updated)
	if err != nil {
		return broker.Account{}, err
	}
	a.Platform = broker.Platform(platform)
	a.Phase = broker.Phase(phase)
	a.Status = broker.Status(status)
	a.LastDailyReset = timePtr(lastReset)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return a, nil
}

func (j *SQLite) GetAccount(ctx context.Context, id string) (broker.Account, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return broker.Account{}, broker.NotFound("account", id)
	}
	if err != nil {
		return broker.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (j *SQLite) ListAccountsByStatus(ctx context.Context, statuses ...broker.Status) ([]broker.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []broker.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanTrade(row scanner) (broker.Trade, error) {
	var (
		t                                broker.Trade
		side, positionType, reason       string
		closePrice, stopLoss, takeProfit sql.NullFloat64
		opened                           int64
		closed                           sql.NullInt64
		breach                           sql.NullString
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &side, &positionType, &t.Volume, &t.OpenPrice,
		&closePrice, &stopLoss, &takeProfit, &t.Profit, &t.Leverage, &opened, &closed, &reason, &breach)
	if err != nil {
		return broker.Trade{}, err
	}
	t.Side = broker.Side(side)
	t.PositionType = broker.PositionType(positionType)
	t.CloseReason = broker.CloseReason(reason)
	t.ClosePrice = floatPtr(closePrice)
	t.StopLoss = floatPtr(stopLoss)
	t.TakeProfit = floatPtr(takeProfit)
	t.OpenedAt = fromNanos(opened)
	t.ClosedAt = timePtr(closed)
	if breach.Valid {
		if err := json.Unmarshal([]byte(breach.String), &t.Breach); err != nil {
			return broker.Trade{}, fmt.Errorf("decode breach for trade %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func (j *SQLite) GetTrade(ctx context.Context, id string) (broker.Trade, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return broker.Trade{}, broker.NotFound("trade", id)
	}
	if err != nil {
		return broker.Trade{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (j *SQLite) queryTrades(ctx context.Context, where string, args ...any) ([]broker.Trade, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE `+where+` ORDER BY opened_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []broker.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLite) ListTrades(ctx context.Context, accountID string) ([]broker.Trade, error) {
	return j.queryTrades(ctx, `account_id = ?`, accountID)
}

func (j *SQLite) ListOpenTrades(ctx context.Context, accountID string) ([]broker.Trade, error) {
	return j.queryTrades(ctx, `account_id = ? AND close_price IS NULL`, accountID)
}

func (j *SQLite) ListMonitoredPositions(ctx context.Context, excludeAccountID string) ([]broker.Trade, error) {
	return j.queryTrades(ctx, `close_price IS NULL
		AND (stop_loss IS NOT NULL OR take_profit IS NOT NULL)
		AND account_id != ?
		AND account_id IN (SELECT id FROM accounts WHERE status = ?)`,
		excludeAccountID, string(broker.StatusActive))
}

// ListSnapshotsSince returns an account's snapshots taken at or after since.
func (j *SQLite) ListSnapshotsSince(ctx context.Context, accountID string, since time.Time) ([]broker.EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, account_id, equity, balance, time
		FROM equity_snapshots
		WHERE account_id = ? AND time >= ?
		ORDER BY time ASC`, accountID, nanos(since))
	if err != nil {
		return nil, fmt.Errorf("list equity snapshots: %w", err)
	}
	defer rows.Close()

	var out []broker.EquitySnapshot
	for rows.Next() {
		var (
			s  broker.EquitySnapshot
			at int64
		)
		if err := rows.Scan(&s.ID, &s.AccountID, &s.Equity, &s.Balance, &at); err != nil {
			return nil, err
		}
		s.Time = fromNanos(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (j *SQLite) ListViolations(ctx context.Context, accountID string) ([]broker.Violation, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, account_id, type, message, value, limit_value, created_at
		FROM violations WHERE account_id = ?
		ORDER BY created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []broker.Violation
	for rows.Next() {
		var (
			v   broker.Violation
			typ string
			at  int64
		)
		if err := rows.Scan(&v.ID, &v.AccountID, &typ, &v.Message, &v.Value, &v.Limit, &at); err != nil {
			return nil, err
		}
		v.Type = broker.ViolationType(typ)
		v.CreatedAt = fromNanos(at)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (j *SQLite) ListPhaseTransitions(ctx context.Context, accountID string) ([]broker.PhaseTransition, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, account_id, from_phase, to_phase, at
		FROM phase_transitions WHERE account_id = ?
		ORDER BY at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list phase transitions: %w", err)
	}
	defer rows.Close()

	var out []broker.PhaseTransition
	for rows.Next() {
		var (
			p        broker.PhaseTransition
			from, to string
			at       int64
		)
		if err := rows.Scan(&p.ID, &p.AccountID, &from, &to, &at); err != nil {
			return nil, err
		}
		p.From = broker.Phase(from)
		p.To = broker.Phase(to)
		p.At = fromNanos(at)
		out = append(out, p)
	}
	return out, rows.Err()
}
