package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/events"
	"github.com/rustyeddy/propdesk/journal"
	"github.com/rustyeddy/propdesk/pkg/clock"
	"github.com/rustyeddy/propdesk/pkg/logging"
	"github.com/rustyeddy/propdesk/pricing"
	"github.com/rustyeddy/propdesk/risk"
)

var start = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	eng   *Engine
	store *journal.Memory
	clk   *clock.Manual
	rec   *events.Recorder
	acct  broker.Account
}

func newFixture(t *testing.T, platform broker.Platform, opts ...Option) *fixture {
	t.Helper()

	ctx := context.Background()
	f := &fixture{
		store: journal.NewMemory(),
		clk:   clock.NewManual(start),
		rec:   &events.Recorder{},
	}
	require.NoError(t, f.store.CreateChallenge(ctx, broker.Challenge{
		ID:                     "C1",
		AccountSize:            10000,
		DailyDrawdownPercent:   broker.Float(5),
		OverallDrawdownPercent: broker.Float(10),
		Phase1TargetPercent:    broker.Float(8),
		Phase2TargetPercent:    broker.Float(5),
		MinTradingDays:         1,
	}))

	opts = append([]Option{WithClock(f.clk), WithPublisher(f.rec), WithLogger(logging.Discard())}, opts...)
	f.eng = NewEngine(f.store, opts...)

	a, err := f.eng.OpenAccount(ctx, "U1", "C1", platform)
	require.NoError(t, err)
	f.acct = a
	return f
}

func (f *fixture) account(t *testing.T) broker.Account {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), f.acct.ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) open(t *testing.T, req broker.OpenTradeRequest) broker.Trade {
	t.Helper()
	tr, err := f.eng.OpenTrade(context.Background(), f.acct.ID, req)
	require.NoError(t, err)
	return tr
}

func (f *fixture) close(t *testing.T, tradeID string, price float64, profit *float64) CloseResult {
	t.Helper()
	res, err := f.eng.CloseOrModifyTrade(context.Background(), tradeID, broker.UpdateTradeRequest{
		Close:      true,
		ClosePrice: broker.Float(price),
		Profit:     profit,
	})
	require.NoError(t, err)
	return res
}

func eurusd(volume, price float64) broker.OpenTradeRequest {
	return broker.OpenTradeRequest{Symbol: "EURUSD", Side: broker.Buy, Volume: volume, OpenPrice: price, Leverage: 100}
}

func TestOpenAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	a := f.account(t)
	assert.Equal(t, broker.Phase1, a.Phase)
	assert.Equal(t, broker.StatusActive, a.Status)
	assert.Equal(t, 10000.0, a.Balance)
	assert.Equal(t, 10000.0, a.MaxEquityToDate)

	_, err := f.eng.OpenAccount(context.Background(), "U2", "missing", broker.PlatformMT5)
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestMarginGateAtForexContractSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	_, err := f.eng.OpenTrade(context.Background(), f.acct.ID, eurusd(1, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrInsufficientMargin)

	var me *broker.MarginError
	require.True(t, errors.As(err, &me))
	assert.InDelta(t, 100000.0, me.Required, 1e-9)
	assert.InDelta(t, 10000.0, me.Available, 1e-9)

	var re *broker.RejectError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, f.acct.ID, re.AccountID)
	assert.Contains(t, re.Reason, "required 100000.00, available 10000.00")

	trades, err := f.store.ListTrades(context.Background(), f.acct.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestMarginGateBoundary(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	f.open(t, eurusd(1, 1.0)) // holds 1000

	tr := f.open(t, eurusd(9, 1.0)) // needs exactly the remaining 9000
	assert.Equal(t, 9.0, tr.Volume)

	_, err := f.eng.OpenTrade(context.Background(), f.acct.ID, eurusd(0.01, 1.0))
	assert.ErrorIs(t, err, broker.ErrInsufficientMargin)
}

func TestBackfilledTradeSkipsMarginGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	req := eurusd(1, 100)
	req.ClosePrice = broker.Float(100.001)
	req.CloseReason = broker.TPHit

	tr := f.open(t, req)
	assert.False(t, tr.IsOpen())
	assert.Equal(t, broker.TPHit, tr.CloseReason)
	assert.InDelta(t, 100.0, tr.Profit, 1e-6)

	a := f.account(t)
	assert.InDelta(t, 10100.0, a.Balance, 1e-6)
	assert.InDelta(t, 10100.0, a.Equity, 1e-6)
	assert.InDelta(t, 10100.0, a.MaxEquityToDate, 1e-6)
}

func TestOpenRejectedByStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status broker.Status
		want   error
	}{
		{broker.StatusDailyLocked, broker.ErrAccountDailyLocked},
		{broker.StatusDisqualified, broker.ErrAccountDisqualified},
		{broker.StatusClosed, broker.ErrAccountClosed},
		{broker.StatusPaused, broker.ErrAccountPaused},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, broker.PlatformMT5)
			a := f.account(t)
			a.Status = tt.status
			require.NoError(t, f.store.UpdateAccount(context.Background(), a))

			_, err := f.eng.OpenTrade(context.Background(), a.ID, eurusd(0.1, 1.1))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var re *broker.RejectError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.want.Error(), re.Reason)
		})
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  broker.OpenTradeRequest
		want error
	}{
		{"no symbol", broker.OpenTradeRequest{Side: broker.Buy, Volume: 1, OpenPrice: 1}, broker.ErrInvalidRequest},
		{"bad side", broker.OpenTradeRequest{Symbol: "EURUSD", Side: "HOLD", Volume: 1, OpenPrice: 1}, broker.ErrInvalidRequest},
		{"zero volume", broker.OpenTradeRequest{Symbol: "EURUSD", Side: broker.Buy, OpenPrice: 1}, broker.ErrInvalidRequest},
		{"below min volume", broker.OpenTradeRequest{Symbol: "EURUSD", Side: broker.Buy, Volume: 0.001, OpenPrice: 1}, broker.ErrInvalidRequest},
		{"negative price", broker.OpenTradeRequest{Symbol: "EURUSD", Side: broker.Buy, Volume: 1, OpenPrice: -1}, broker.ErrInvalidRequest},
		{"bad stop", broker.OpenTradeRequest{Symbol: "EURUSD", Side: broker.Buy, Volume: 0.1, OpenPrice: 1, StopLoss: broker.Float(0)}, broker.ErrInvalidRequest},
	}

	f := newFixture(t, broker.PlatformMT5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.OpenTrade(context.Background(), f.acct.ID, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSpotAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformSpot)

	_, err := f.eng.OpenTrade(context.Background(), f.acct.ID, eurusd(1, 1.1))
	assert.ErrorIs(t, err, broker.ErrUnsupportedSymbol)

	tr := f.open(t, broker.OpenTradeRequest{Symbol: "btc/usdt", Side: broker.Buy, Volume: 0.1, OpenPrice: 60000, Leverage: 50})
	assert.Equal(t, broker.Spot, tr.PositionType)
	assert.Equal(t, 1.0, tr.Leverage)
	assert.Equal(t, "BTC/USDT", tr.Symbol)

	// 6000 is held without leverage, so 0.1 more does not fit.
	_, err = f.eng.OpenTrade(context.Background(), f.acct.ID, broker.OpenTradeRequest{Symbol: "BTCUSDT", Side: broker.Buy, Volume: 0.1, OpenPrice: 60000})
	assert.ErrorIs(t, err, broker.ErrInsufficientMargin)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	tr := f.open(t, eurusd(1, 1.1))

	first := f.close(t, tr.ID, 1.105, nil)
	assert.True(t, first.Closed)
	assert.Equal(t, broker.UserClose, first.Trade.CloseReason)
	assert.InDelta(t, 500.0, first.Trade.Profit, 1e-6)
	require.NotNil(t, first.Evaluation)
	assert.InDelta(t, 10500.0, first.Account.Balance, 1e-6)

	second := f.close(t, tr.ID, 2.0, broker.Float(99999))
	assert.False(t, second.Closed)
	assert.Equal(t, first.Trade, second.Trade)

	stored, err := f.store.GetTrade(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Trade, stored)

	a := f.account(t)
	assert.InDelta(t, 10500.0, a.Balance, 1e-6)

	snaps, err := f.store.ListSnapshotsSince(context.Background(), a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "one snapshot per actual close")
}

func TestConcurrentClosesApplyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	tr := f.open(t, eurusd(1, 1.1))

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.eng.CloseOrModifyTrade(context.Background(), tr.ID, broker.UpdateTradeRequest{
				Close:      true,
				ClosePrice: broker.Float(1.101),
			})
			assert.NoError(t, err)
			if res.Closed {
				mu.Lock()
				closed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
	assert.InDelta(t, 10100.0, f.account(t).Balance, 1e-6)
	assert.Equal(t, 0, f.eng.locks.size())
}

func TestModifyLevels(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	tr := f.open(t, eurusd(0.1, 1.1))

	res, err := f.eng.CloseOrModifyTrade(context.Background(), tr.ID, broker.UpdateTradeRequest{
		StopLoss:   broker.Float(1.09),
		TakeProfit: broker.Float(1.12),
	})
	require.NoError(t, err)
	assert.False(t, res.Closed)
	assert.Equal(t, 1.09, *res.Trade.StopLoss)
	assert.Equal(t, 1.12, *res.Trade.TakeProfit)
	assert.Equal(t, 1, f.rec.Count(events.TradeUpdated))

	_, err = f.eng.CloseOrModifyTrade(context.Background(), tr.ID, broker.UpdateTradeRequest{StopLoss: broker.Float(-1)})
	assert.ErrorIs(t, err, broker.ErrInvalidRequest)

	f.close(t, tr.ID, 1.1, nil)
	_, err = f.eng.CloseOrModifyTrade(context.Background(), tr.ID, broker.UpdateTradeRequest{StopLoss: broker.Float(1.0)})
	assert.ErrorIs(t, err, broker.ErrTradeClosed)

	_, err = f.eng.CloseOrModifyTrade(context.Background(), "missing", broker.UpdateTradeRequest{Close: true})
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestCloseReasonPrecedence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()

	kept := f.open(t, eurusd(0.1, 1.1))
	_, err := f.eng.CloseOrModifyTrade(ctx, kept.ID, broker.UpdateTradeRequest{CloseReason: broker.SLHit})
	require.NoError(t, err)
	res := f.close(t, kept.ID, 1.1, nil)
	assert.Equal(t, broker.SLHit, res.Trade.CloseReason, "user close does not replace a recorded reason")

	forced := f.open(t, eurusd(0.1, 1.1))
	_, err = f.eng.CloseOrModifyTrade(ctx, forced.ID, broker.UpdateTradeRequest{CloseReason: broker.TPHit})
	require.NoError(t, err)
	res, err = f.eng.CloseOrModifyTrade(ctx, forced.ID, broker.UpdateTradeRequest{
		Close: true, ClosePrice: broker.Float(1.1), CloseReason: broker.RiskAutoClose,
	})
	require.NoError(t, err)
	assert.Equal(t, broker.RiskAutoClose, res.Trade.CloseReason)
}

func TestMaxEquityNeverDecreases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	peak := f.account(t).MaxEquityToDate

	for i, profit := range []float64{300, -200, 500, -400, 100} {
		f.clk.Advance(time.Minute)
		tr := f.open(t, eurusd(0.1, 1.1))
		res := f.close(t, tr.ID, 1.1, broker.Float(profit))
		require.True(t, res.Closed, "close %d", i)

		a := f.account(t)
		assert.GreaterOrEqual(t, a.MaxEquityToDate, peak)
		assert.GreaterOrEqual(t, a.MaxEquityToDate, a.Equity)
		peak = a.MaxEquityToDate
	}

	a := f.account(t)
	assert.InDelta(t, 10300.0, a.Balance, 1e-9)
	assert.InDelta(t, 10600.0, a.MaxEquityToDate, 1e-9)
	assert.InDelta(t, 10000.0, a.MinEquityToday, 1e-9)
}

func TestDailyBreachLocksAndCapturesBreach(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()

	loser := f.open(t, eurusd(0.1, 1.1))
	other := f.open(t, eurusd(0.1, 1.1))

	res := f.close(t, loser.ID, 1.04, broker.Float(-600))
	require.NotNil(t, res.Evaluation)
	assert.InDelta(t, 6.0, res.Evaluation.DailyDrawdownPercent, 1e-9)
	assert.Equal(t, broker.StatusDailyLocked, res.Account.Status)

	vs, err := f.store.ListViolations(ctx, f.acct.ID)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, broker.DailyDrawdown, vs[0].Type)
	assert.Equal(t, 5.0, vs[0].Limit)

	stored, err := f.store.GetTrade(ctx, other.ID)
	require.NoError(t, err)
	breach, ok := stored.Breach.Get()
	require.True(t, ok)
	assert.Equal(t, broker.DailyDrawdown, breach.Type)
	assert.InDelta(t, 9400.0, breach.Equity, 1e-9)

	assert.Equal(t, 1, f.rec.Count(events.ViolationRecorded))
	assert.Equal(t, 1, f.rec.Count(events.StatusChanged))

	_, err = f.eng.OpenTrade(ctx, f.acct.ID, eurusd(0.1, 1.1))
	assert.ErrorIs(t, err, broker.ErrAccountDailyLocked)

	// Closing on a locked account is allowed and records nothing new.
	f.close(t, other.ID, 1.1, broker.Float(0))
	vs, err = f.store.ListViolations(ctx, f.acct.ID)
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	again, err := f.store.GetTrade(ctx, other.ID)
	require.NoError(t, err)
	kept, _ := again.Breach.Get()
	assert.Equal(t, breach, kept)
}

func TestLosingClosesAccumulateAgainstDailyLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()

	first := f.open(t, eurusd(0.1, 1.1))
	res := f.close(t, first.ID, 1.06, broker.Float(-400))
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, 10000.0, res.Evaluation.DailyBaseline)
	assert.Equal(t, broker.StatusActive, res.Account.Status)

	second := f.open(t, eurusd(0.1, 1.1))
	res = f.close(t, second.ID, 1.08, broker.Float(-200))
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, 10000.0, res.Evaluation.DailyBaseline, "earlier loss stays in the baseline")
	assert.InDelta(t, 6.0, res.Evaluation.DailyDrawdownPercent, 1e-9)
	assert.Equal(t, broker.StatusDailyLocked, res.Account.Status)

	a := f.account(t)
	assert.InDelta(t, 9400.0, a.Equity, 1e-9)
	assert.Equal(t, 10000.0, a.TodayStartEquity)

	ev, err := f.eng.Evaluate(ctx, f.acct.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, ev.DailyBaseline)
}

func TestNewDayBaselineIsCarriedEquity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()

	tr := f.open(t, eurusd(0.1, 1.1))
	f.close(t, tr.ID, 1.09, broker.Float(-100))

	f.clk.Advance(24 * time.Hour)
	dayStart := f.clk.Now()

	tr = f.open(t, eurusd(0.1, 1.1))
	a := f.account(t)
	assert.InDelta(t, 9900.0, a.TodayStartEquity, 1e-9)
	assert.True(t, a.LastDailyReset.Equal(dayStart))

	snaps, err := f.store.ListSnapshotsSince(ctx, a.ID, dayStart)
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	assert.InDelta(t, 9900.0, snaps[0].Equity, 1e-9, "the day opens with the equity carried over")

	res := f.close(t, tr.ID, 1.055, broker.Float(-450))
	require.NotNil(t, res.Evaluation)
	assert.InDelta(t, 9900.0, res.Evaluation.DailyBaseline, 1e-9)
	assert.Equal(t, broker.StatusActive, res.Account.Status)

	tr = f.open(t, eurusd(0.1, 1.1))
	res = f.close(t, tr.ID, 1.09, broker.Float(-100))
	require.NotNil(t, res.Evaluation)
	assert.InDelta(t, 550.0/9900*100, res.Evaluation.DailyDrawdownPercent, 1e-6)
	assert.Equal(t, broker.StatusDailyLocked, res.Account.Status)
}

func TestRolloverDayUnlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()

	tr := f.open(t, eurusd(0.1, 1.1))
	f.close(t, tr.ID, 1.04, broker.Float(-600))
	require.Equal(t, broker.StatusDailyLocked, f.account(t).Status)

	n, err := f.eng.RolloverDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "same day stays locked")

	f.clk.Advance(24 * time.Hour)
	n, err = f.eng.RolloverDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a := f.account(t)
	assert.Equal(t, broker.StatusActive, a.Status)
	assert.Equal(t, 9400.0, a.TodayStartEquity)
	assert.True(t, a.LastDailyReset.Equal(f.clk.Now()))
	assert.Equal(t, 2, f.rec.Count(events.StatusChanged))

	// The rollover snapshot is today's baseline, so trading resumes.
	tr = f.open(t, eurusd(0.1, 1.1))
	res := f.close(t, tr.ID, 1.1, broker.Float(-100))
	assert.Equal(t, broker.StatusActive, res.Account.Status)
}

func TestOverallBreachDisqualifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	tr := f.open(t, eurusd(0.1, 1.1))
	res := f.close(t, tr.ID, 1.0, broker.Float(-1000))

	assert.Equal(t, broker.StatusDisqualified, res.Account.Status)
	vs, err := f.store.ListViolations(context.Background(), f.acct.ID)
	require.NoError(t, err)
	require.Len(t, vs, 1, "only the deciding breach is recorded")
	assert.Equal(t, broker.OverallDrawdown, vs[0].Type)
}

func TestPhaseAdvance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()

	tr := f.open(t, eurusd(0.1, 1.1))
	f.clk.Advance(time.Minute)
	res := f.close(t, tr.ID, 1.18, broker.Float(800))
	require.NotNil(t, res.Evaluation)
	assert.True(t, res.Evaluation.Advance)
	assert.Equal(t, broker.Phase2, res.Account.Phase)

	ps, err := f.store.ListPhaseTransitions(ctx, f.acct.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, broker.Phase1, ps[0].From)
	assert.Equal(t, broker.Phase2, ps[0].To)
	assert.Equal(t, 1, f.rec.Count(events.PhaseChanged))

	// Phase two needs its own trading day before it can advance.
	ev, err := f.eng.Evaluate(ctx, f.acct.ID, nil)
	require.NoError(t, err)
	assert.True(t, ev.TargetReached)
	assert.False(t, ev.Advance)
}

func TestEvaluateIsReadOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	before := f.account(t)

	live := 9300.0
	ev, err := f.eng.Evaluate(context.Background(), f.acct.ID, &live)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, ev.OverallDrawdownPercent, 1e-9)
	assert.Equal(t, broker.StatusDailyLocked, ev.Status)

	assert.Equal(t, before, f.account(t))
	vs, err := f.store.ListViolations(context.Background(), f.acct.ID)
	require.NoError(t, err)
	assert.Empty(t, vs)
	assert.Empty(t, f.rec.Names())
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()
	tr := f.open(t, eurusd(0.1, 1.1))

	// The challenge loses a rule after the account opened.
	require.NoError(t, f.store.CreateChallenge(ctx, broker.Challenge{ID: "BROKEN", AccountSize: 10000}))
	a := f.account(t)
	a.ChallengeID = "BROKEN"
	require.NoError(t, f.store.UpdateAccount(ctx, a))

	_, err := f.eng.OpenTrade(ctx, a.ID, eurusd(0.1, 1.1))
	var ce *risk.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "BROKEN", ce.ChallengeID)
	assert.Equal(t, "dailyDrawdownPercent", ce.Field)

	res, err := f.eng.CloseOrModifyTrade(ctx, tr.ID, broker.UpdateTradeRequest{Close: true, ClosePrice: broker.Float(1.11)})
	require.NoError(t, err, "the close is still recorded")
	assert.True(t, res.Closed)
	assert.Nil(t, res.Evaluation)
	assert.True(t, errors.As(res.EvalErr, &ce))
	assert.InDelta(t, 10100.0, f.account(t).Balance, 1e-6)
}

func TestCloseUsesFeedWithoutPrice(t *testing.T) {
	t.Parallel()

	quotes := pricing.NewQuoteStore()
	f := newFixture(t, broker.PlatformMT5, WithPrices(quotes))
	ctx := context.Background()

	long := f.open(t, eurusd(1, 1.1))
	_, err := f.eng.CloseOrModifyTrade(ctx, long.ID, broker.UpdateTradeRequest{Close: true})
	require.Error(t, err, "no quote yet")

	quotes.Set("EUR/USD", pricing.Quote{Bid: 1.102, Ask: 1.1022})
	res, err := f.eng.CloseOrModifyTrade(ctx, long.ID, broker.UpdateTradeRequest{Close: true})
	require.NoError(t, err)
	assert.Equal(t, 1.102, *res.Trade.ClosePrice, "long closes at bid")
}

func TestCloseWithoutPriceOrFeed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	tr := f.open(t, eurusd(0.1, 1.1))
	_, err := f.eng.CloseOrModifyTrade(context.Background(), tr.ID, broker.UpdateTradeRequest{Close: true})
	assert.ErrorIs(t, err, broker.ErrInvalidRequest)
}

func TestRevalue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()
	tr := f.open(t, eurusd(1, 1.1))

	ev, err := f.eng.Revalue(ctx, f.acct.ID, map[string]pricing.Quote{"EURUSD": {Bid: 1.099, Ask: 1.0992}})
	require.NoError(t, err)
	assert.InDelta(t, 9900.0, ev.Equity, 1e-6)

	stored, err := f.store.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.InDelta(t, -100.0, stored.Profit, 1e-6)
	assert.True(t, stored.IsOpen())

	a := f.account(t)
	assert.InDelta(t, 10000.0, a.Balance, 1e-9)
	assert.InDelta(t, 9900.0, a.Equity, 1e-6)
	assert.Equal(t, 1, f.rec.Count(events.AccountMetricsUpdate))

	snaps, err := f.store.ListSnapshotsSince(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRevalueLiquidatesOnBreach(t *testing.T) {
	t.Parallel()

	f := newFixture(t, broker.PlatformMT5)
	ctx := context.Background()
	tr := f.open(t, eurusd(1, 1.1))

	ev, err := f.eng.Revalue(ctx, f.acct.ID, map[string]pricing.Quote{"EURUSD": {Bid: 1.085, Ask: 1.0852}})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusDisqualified, ev.Status)

	stored, err := f.store.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
	assert.Equal(t, broker.RiskAutoClose, stored.CloseReason)
	assert.Equal(t, 1.085, *stored.ClosePrice)
	breach, ok := stored.Breach.Get()
	require.True(t, ok, "breach captured before the forced close")
	assert.Equal(t, broker.OverallDrawdown, breach.Type)

	a := f.account(t)
	assert.InDelta(t, 8500.0, a.Balance, 1e-6)
	assert.InDelta(t, 8500.0, a.Equity, 1e-6)
	assert.Equal(t, 1, f.rec.Count(events.PositionClosed))
}
