// Package sim is the trade lifecycle manager. It validates and persists
// trade opens, closes and modifications, keeps account balance and equity
// current, and runs the risk calculator after every change. Mutations of
// one account are serialized; different accounts proceed in parallel.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/events"
	"github.com/rustyeddy/propdesk/journal"
	"github.com/rustyeddy/propdesk/pkg/clock"
	"github.com/rustyeddy/propdesk/pkg/id"
	"github.com/rustyeddy/propdesk/pkg/logging"
	"github.com/rustyeddy/propdesk/pricing"
	"github.com/rustyeddy/propdesk/risk"
)

type Engine struct {
	store  journal.Store
	events events.Publisher
	prices pricing.Feed
	clock  clock.Clock
	log    *slog.Logger
	locks  *accountLocks
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.events = p } }

// WithPrices supplies a feed used when a close request carries no price.
func WithPrices(f pricing.Feed) Option { return func(e *Engine) { e.prices = f } }

func NewEngine(store journal.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		events: events.Nop{},
		clock:  clock.System{},
		locks:  newAccountLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.OrDefault(e.log)
	return e
}

func (e *Engine) Store() journal.Store { return e.store }

func (e *Engine) Now() time.Time { return e.clock.Now() }

// CloseResult is returned by CloseOrModifyTrade. Closed is true only when
// this call closed the trade; a repeat close returns the stored trade with
// Closed false.
type CloseResult struct {
	Trade   broker.Trade
	Account broker.Account
	Closed  bool

	// Evaluation is nil when the account could not be evaluated. EvalErr
	// then holds the reason; the close itself was still recorded.
	Evaluation *risk.Evaluation
	EvalErr    error
}

// OpenAccount starts a PHASE1 account on challengeID funded with the
// challenge's account size.
func (e *Engine) OpenAccount(ctx context.Context, userID, challengeID string, platform broker.Platform) (broker.Account, error) {
	ch, err := e.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return broker.Account{}, err
	}
	if !positive(ch.AccountSize) {
		return broker.Account{}, invalid("challenge %s has no account size", ch.ID)
	}
	now := e.clock.Now()
	a := broker.NewAccount(id.At(now), userID, ch.ID, platform, ch.AccountSize, now)
	if _, err := risk.RulesFor(a, ch); err != nil {
		return broker.Account{}, err
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return broker.Account{}, err
	}
	e.log.Info("account opened", "account", a.ID, "user", userID, "challenge", ch.ID, "platform", platform)
	return a, nil
}

// OpenTrade validates req and records the trade on accountID. Opening
// trades pass the margin gate; back-filled trades that already carry a
// close price skip it and settle their profit into the balance.
func (e *Engine) OpenTrade(ctx context.Context, accountID string, req broker.OpenTradeRequest) (broker.Trade, error) {
	const op = "open trade"

	unlock := e.locks.lock(accountID)
	defer unlock()

	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return broker.Trade{}, err
	}
	if err := broker.StatusError(a.Status); err != nil {
		return broker.Trade{}, e.reject(op, a, err)
	}

	ch, err := e.store.GetChallenge(ctx, a.ChallengeID)
	if err != nil {
		return broker.Trade{}, err
	}
	if _, err := risk.RulesFor(a, ch); err != nil {
		e.log.Error("account cannot be evaluated", "account", a.ID, "challenge", ch.ID, "err", err)
		return broker.Trade{}, err
	}

	now := e.clock.Now()
	t, c, err := newTrade(a, req, now)
	if err != nil {
		return broker.Trade{}, e.reject(op, a, err)
	}

	open, err := e.store.ListOpenTrades(ctx, a.ID)
	if err != nil {
		return broker.Trade{}, err
	}
	if t.IsOpen() {
		if err := checkMargin(a, open, c, t); err != nil {
			return broker.Trade{}, e.reject(op, a, err)
		}
	}
	if err := e.startDay(ctx, &a, now); err != nil {
		return broker.Trade{}, err
	}
	if t.IsOpen() {
		open = append(open, t)
	} else {
		a.Balance += t.Profit
	}

	if err := e.store.InsertTrade(ctx, t); err != nil {
		return broker.Trade{}, err
	}
	e.log.Info("trade opened", "account", a.ID, "trade", t.ID, "symbol", t.Symbol,
		"type", t.Side, "volume", t.Volume, "price", t.OpenPrice, "leverage", t.Leverage)

	risk.ApplyEquity(&a, a.Balance+risk.OpenProfit(open), now)
	if _, err := e.settle(ctx, &a, now); err != nil {
		return t, err
	}
	if !t.IsOpen() {
		if err := e.snapshot(ctx, a, now); err != nil {
			return t, err
		}
	}

	// settle may have captured a breach snapshot on the new trade.
	if stored, err := e.store.GetTrade(ctx, t.ID); err == nil {
		t = stored
	}

	e.publish(ctx, a.ID, events.TradeExecuted, t)
	e.publish(ctx, a.ID, events.AccountUpdate, a)
	return t, nil
}

// CloseOrModifyTrade closes a trade and/or moves its stop-loss and
// take-profit. Closing an already-closed trade is a no-op that returns the
// stored trade; modifying levels on a closed trade is ErrTradeClosed.
func (e *Engine) CloseOrModifyTrade(ctx context.Context, tradeID string, req broker.UpdateTradeRequest) (CloseResult, error) {
	t, err := e.store.GetTrade(ctx, tradeID)
	if err != nil {
		return CloseResult{}, err
	}

	unlock := e.locks.lock(t.AccountID)
	defer unlock()

	// A concurrent close may have won while we waited for the lock.
	if t, err = e.store.GetTrade(ctx, tradeID); err != nil {
		return CloseResult{}, err
	}
	a, err := e.store.GetAccount(ctx, t.AccountID)
	if err != nil {
		return CloseResult{}, err
	}
	res := CloseResult{Trade: t, Account: a}

	if !t.IsOpen() {
		if req.ModifiesLevels() {
			return res, fmt.Errorf("modify trade %s: %w", t.ID, broker.ErrTradeClosed)
		}
		e.log.Debug("trade already closed", "trade", t.ID, "account", t.AccountID)
		return res, nil
	}

	if err := applyLevels(&t, req); err != nil {
		return res, e.reject("modify trade", a, err)
	}
	if req.Breach != nil {
		t.Breach.Set(*req.Breach)
	}

	now := e.clock.Now()
	if !req.Close {
		t.SetCloseReason(req.CloseReason)
		if err := e.store.UpdateTrade(ctx, t); err != nil {
			return res, err
		}
		e.publish(ctx, a.ID, events.TradeUpdated, t)
		res.Trade = t
		return res, nil
	}

	price, err := e.closePrice(ctx, t, req)
	if err != nil {
		return res, err
	}
	profit := Profit(a.Platform, t, price)
	if req.Profit != nil {
		profit = *req.Profit
	}
	closedAt := now
	if req.ClosedAt != nil {
		closedAt = *req.ClosedAt
	}
	reason := req.CloseReason
	if reason == "" {
		reason = broker.UserClose
	}

	if err := e.startDay(ctx, &a, now); err != nil {
		return res, err
	}
	if err := e.closeLocked(ctx, &a, &t, price, profit, closedAt, reason); err != nil {
		return res, err
	}
	res.Trade, res.Account, res.Closed = t, a, true

	ev, err := e.afterClose(ctx, &a, now)
	res.Account = a
	var ce *risk.ConfigError
	switch {
	case errors.As(err, &ce) || errors.Is(err, broker.ErrNotFound):
		res.EvalErr = err
	case err != nil:
		return res, err
	default:
		res.Evaluation = &ev
	}

	e.publish(ctx, a.ID, events.TradeUpdated, t)
	e.publish(ctx, a.ID, events.AccountUpdate, a)
	return res, nil
}

// Evaluate runs the calculator on the stored state of accountID without
// changing anything. A non-nil equity evaluates that figure instead of the
// stored one.
func (e *Engine) Evaluate(ctx context.Context, accountID string, equity *float64) (risk.Evaluation, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return risk.Evaluation{}, err
	}
	in, err := e.input(ctx, a, e.clock.Now())
	if err != nil {
		return risk.Evaluation{}, err
	}
	in.Equity = equity
	return risk.Evaluate(in)
}

// Revalue marks accountID's open trades to quotes, records the new equity
// and a snapshot, and evaluates the account. When the evaluation locks or
// disqualifies the account, its priced positions are closed with
// RISK_AUTO_CLOSE.
func (e *Engine) Revalue(ctx context.Context, accountID string, quotes map[string]pricing.Quote) (risk.Evaluation, error) {
	unlock := e.locks.lock(accountID)
	defer unlock()

	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return risk.Evaluation{}, err
	}
	open, err := e.store.ListOpenTrades(ctx, a.ID)
	if err != nil {
		return risk.Evaluation{}, err
	}

	now := e.clock.Now()
	marks, floating := risk.MarkToMarket(a.Platform, open, quotes)
	priced := make(map[string]risk.Mark, len(marks))
	for _, m := range marks {
		if m.Priced {
			priced[m.TradeID] = m
		}
	}
	for _, t := range open {
		if m, ok := priced[t.ID]; ok && m.Profit != t.Profit {
			t.Profit = m.Profit
			if err := e.store.UpdateTrade(ctx, t); err != nil {
				return risk.Evaluation{}, err
			}
		}
	}

	if err := e.startDay(ctx, &a, now); err != nil {
		return risk.Evaluation{}, err
	}
	from := a.Status
	risk.ApplyEquity(&a, a.Balance+floating, now)
	ev, err := e.settle(ctx, &a, now)
	if err != nil {
		return risk.Evaluation{}, err
	}

	var liquidated []broker.Trade
	if from == broker.StatusActive && !a.Status.Tradeable() {
		if liquidated, err = e.liquidate(ctx, &a, priced, now); err != nil {
			return ev, err
		}
	}
	if err := e.snapshot(ctx, a, now); err != nil {
		return ev, err
	}

	for _, t := range liquidated {
		e.publish(ctx, a.ID, events.PositionClosed, NewPositionClosed(t))
	}
	e.publish(ctx, a.ID, events.AccountMetricsUpdate, NewAccountMetrics(ev))
	return ev, nil
}

// RolloverDay returns DAILY_LOCKED accounts to ACTIVE once the calendar day
// of their lock has passed, re-baselining the day's equity. It returns the
// number of accounts unlocked.
func (e *Engine) RolloverDay(ctx context.Context) (int, error) {
	locked, err := e.store.ListAccountsByStatus(ctx, broker.StatusDailyLocked)
	if err != nil {
		return 0, err
	}

	now := e.clock.Now()
	var (
		n    int
		errs []error
	)
	for _, a := range locked {
		ok, err := e.rollover(ctx, a.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("rollover account %s: %w", a.ID, err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (e *Engine) rollover(ctx context.Context, accountID string, now time.Time) (bool, error) {
	unlock := e.locks.lock(accountID)
	defer unlock()

	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if a.Status != broker.StatusDailyLocked {
		return false, nil
	}

	lockedAt, err := e.lockedAt(ctx, a)
	if err != nil {
		return false, err
	}
	if !lockedAt.IsZero() && clock.SameDay(lockedAt, now) {
		return false, nil
	}

	risk.ResetDaily(&a, now)
	a.Status = broker.StatusActive
	a.UpdatedAt = now
	if err := e.store.UpdateAccount(ctx, a); err != nil {
		return false, err
	}
	// Today's first snapshot sets the daily drawdown baseline.
	if err := e.snapshot(ctx, a, now); err != nil {
		return false, err
	}

	e.log.Info("daily lock lifted", "account", a.ID, "equity", a.Equity)
	e.publish(ctx, a.ID, events.StatusChanged, statusChange{
		AccountID: a.ID, From: broker.StatusDailyLocked, To: broker.StatusActive, Reason: "new trading day",
	})
	return true, nil
}

// lockedAt is the time of the latest daily drawdown violation, falling
// back to the last daily reset.
func (e *Engine) lockedAt(ctx context.Context, a broker.Account) (time.Time, error) {
	vs, err := e.store.ListViolations(ctx, a.ID)
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	for _, v := range vs {
		if v.Type == broker.DailyDrawdown && v.CreatedAt.After(at) {
			at = v.CreatedAt
		}
	}
	if at.IsZero() && a.LastDailyReset != nil {
		at = *a.LastDailyReset
	}
	return at, nil
}

func (e *Engine) closePrice(ctx context.Context, t broker.Trade, req broker.UpdateTradeRequest) (float64, error) {
	if req.ClosePrice != nil {
		if !positive(*req.ClosePrice) {
			return 0, invalid("close price must be a positive number")
		}
		return *req.ClosePrice, nil
	}
	if e.prices == nil {
		return 0, invalid("close price is required")
	}
	quotes, err := e.prices.Quotes(ctx, []string{t.Symbol})
	if err != nil {
		return 0, fmt.Errorf("price %s: %w", t.Symbol, err)
	}
	q, ok := pricing.Resolve(t.Symbol, quotes)
	if !ok {
		return 0, fmt.Errorf("no price for %s", t.Symbol)
	}
	return q.CloseSide(t.Side), nil
}

// closeLocked records the close on t and books profit into the balance.
// The caller holds the account lock and settles the account afterwards.
func (e *Engine) closeLocked(ctx context.Context, a *broker.Account, t *broker.Trade, price, profit float64, at time.Time, reason broker.CloseReason) error {
	t.ClosePrice = &price
	t.ClosedAt = &at
	t.Profit = profit
	t.SetCloseReason(reason)
	if err := e.store.UpdateTrade(ctx, *t); err != nil {
		return err
	}
	a.Balance += profit
	e.log.Info("trade closed", "account", a.ID, "trade", t.ID, "symbol", t.Symbol,
		"price", price, "profit", profit, "reason", t.CloseReason)
	return nil
}

// afterClose recomputes equity from the remaining open trades, settles the
// account and appends an equity snapshot.
func (e *Engine) afterClose(ctx context.Context, a *broker.Account, now time.Time) (risk.Evaluation, error) {
	open, err := e.store.ListOpenTrades(ctx, a.ID)
	if err != nil {
		return risk.Evaluation{}, err
	}
	risk.ApplyEquity(a, a.Balance+risk.OpenProfit(open), now)
	ev, evalErr := e.settle(ctx, a, now)
	if err := e.snapshot(ctx, *a, now); err != nil {
		return ev, err
	}
	return ev, evalErr
}

// liquidate closes every open trade that has a mark at its marked price.
func (e *Engine) liquidate(ctx context.Context, a *broker.Account, marks map[string]risk.Mark, now time.Time) ([]broker.Trade, error) {
	// Re-read: settle may have captured breach snapshots on these trades.
	open, err := e.store.ListOpenTrades(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	var closed []broker.Trade
	for _, t := range open {
		m, ok := marks[t.ID]
		if !ok {
			continue
		}
		if err := e.closeLocked(ctx, a, &t, m.Price, m.Profit, now, broker.RiskAutoClose); err != nil {
			return closed, err
		}
		closed = append(closed, t)
	}
	if len(closed) == 0 {
		return nil, nil
	}

	remaining, err := e.store.ListOpenTrades(ctx, a.ID)
	if err != nil {
		return closed, err
	}
	risk.ApplyEquity(a, a.Balance+risk.OpenProfit(remaining), now)
	e.log.Warn("positions liquidated", "account", a.ID, "count", len(closed), "status", a.Status)
	return closed, e.store.UpdateAccount(ctx, *a)
}

func (e *Engine) input(ctx context.Context, a broker.Account, now time.Time) (risk.Input, error) {
	ch, err := e.store.GetChallenge(ctx, a.ChallengeID)
	if err != nil {
		return risk.Input{}, err
	}
	trades, err := e.store.ListTrades(ctx, a.ID)
	if err != nil {
		return risk.Input{}, err
	}
	snaps, err := e.store.ListSnapshotsSince(ctx, a.ID, clock.StartOfDay(now))
	if err != nil {
		return risk.Input{}, err
	}
	transitions, err := e.store.ListPhaseTransitions(ctx, a.ID)
	if err != nil {
		return risk.Input{}, err
	}
	var phaseStart time.Time
	for _, p := range transitions {
		if p.At.After(phaseStart) {
			phaseStart = p.At
		}
	}
	return risk.Input{
		Account:    a,
		Challenge:  ch,
		Trades:     trades,
		Snapshots:  snaps,
		Now:        now,
		PhaseStart: phaseStart,
	}, nil
}

// settle evaluates a, records any violation or phase transition the
// evaluation calls for, and persists a. The account is persisted even when
// it cannot be evaluated.
func (e *Engine) settle(ctx context.Context, a *broker.Account, now time.Time) (risk.Evaluation, error) {
	in, err := e.input(ctx, *a, now)
	if err == nil {
		var ev risk.Evaluation
		if ev, err = risk.Evaluate(in); err == nil {
			return ev, e.apply(ctx, a, ev, in.Trades, now)
		}
	}

	e.log.Error("risk evaluation failed", "account", a.ID, "challenge", a.ChallengeID, "err", err)
	a.UpdatedAt = now
	if uerr := e.store.UpdateAccount(ctx, *a); uerr != nil {
		return risk.Evaluation{}, uerr
	}
	return risk.Evaluation{}, err
}

func (e *Engine) apply(ctx context.Context, a *broker.Account, ev risk.Evaluation, trades []broker.Trade, now time.Time) error {
	from := a.Status

	var violation *broker.Violation
	if b, ok := ev.Violation(from); ok {
		v, err := e.recordViolation(ctx, *a, b, trades, now)
		if err != nil {
			return err
		}
		violation = &v
	}

	var transition *broker.PhaseTransition
	if ev.Advance {
		p := broker.PhaseTransition{ID: id.At(now), AccountID: a.ID, From: a.Phase, To: ev.Phase, At: now}
		if err := e.store.InsertPhaseTransition(ctx, p); err != nil {
			return err
		}
		a.Phase = ev.Phase
		transition = &p
	}

	a.Status = ev.Status
	a.UpdatedAt = now
	if err := e.store.UpdateAccount(ctx, *a); err != nil {
		return err
	}

	if violation != nil {
		e.log.Warn("risk rule breached", "account", a.ID, "type", violation.Type,
			"value", violation.Value, "limit", violation.Limit, "status", a.Status)
		e.publish(ctx, a.ID, events.ViolationRecorded, violation)
	}
	if ev.StatusChanged(from) {
		change := statusChange{AccountID: a.ID, From: from, To: a.Status}
		if violation != nil {
			change.Reason = violation.Message
		}
		e.publish(ctx, a.ID, events.StatusChanged, change)
	}
	if transition != nil {
		e.log.Info("phase advanced", "account", a.ID, "from", transition.From, "to", transition.To)
		e.publish(ctx, a.ID, events.PhaseChanged, transition)
	}
	return nil
}

// recordViolation appends the violation and captures the breach on every
// open trade that has none yet.
func (e *Engine) recordViolation(ctx context.Context, a broker.Account, b risk.Breach, trades []broker.Trade, now time.Time) (broker.Violation, error) {
	v := broker.Violation{
		ID:        id.At(now),
		AccountID: a.ID,
		Type:      b.Type,
		Message:   b.Message,
		Value:     b.Value,
		Limit:     b.Limit,
		CreatedAt: now,
	}
	if err := e.store.InsertViolation(ctx, v); err != nil {
		return v, err
	}

	snap := broker.BreachSnapshot{Type: b.Type, Equity: a.Equity, Balance: a.Balance, DrawdownPercent: b.Value, At: now}
	for _, t := range trades {
		if !t.IsOpen() || !t.Breach.Set(snap) {
			continue
		}
		if err := e.store.UpdateTrade(ctx, t); err != nil {
			return v, err
		}
	}
	return v, nil
}

// startDay runs the daily reset ahead of the day's first mutation and
// records the equity carried into the day as its first snapshot. The
// caller persists a.
func (e *Engine) startDay(ctx context.Context, a *broker.Account, now time.Time) error {
	if !risk.ResetDaily(a, now) {
		return nil
	}
	e.log.Debug("trading day started", "account", a.ID, "equity", a.Equity)
	return e.snapshot(ctx, *a, now)
}

func (e *Engine) snapshot(ctx context.Context, a broker.Account, now time.Time) error {
	return e.store.InsertSnapshot(ctx, broker.EquitySnapshot{
		ID:        id.At(now),
		AccountID: a.ID,
		Equity:    a.Equity,
		Balance:   a.Balance,
		Time:      now,
	})
}

func (e *Engine) reject(op string, a broker.Account, err error) error {
	r := broker.Reject(op, a.ID, err)
	e.log.Info("request rejected", "op", op, "account", a.ID, "status", a.Status, "reason", r.Reason)
	return r
}

func (e *Engine) publish(ctx context.Context, accountID string, name events.Name, payload any) {
	if err := e.events.Publish(ctx, accountID, name, payload); err != nil {
		e.log.Warn("publish failed", "event", name, "account", accountID, "err", err)
	}
}
