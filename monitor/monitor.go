// Package monitor watches open positions against their stop-loss and
// take-profit levels and closes them through the trade lifecycle manager.
// It also hosts the periodic equity snapshotter and day rollover jobs.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/events"
	"github.com/rustyeddy/propdesk/journal"
	"github.com/rustyeddy/propdesk/pkg/clock"
	"github.com/rustyeddy/propdesk/pkg/logging"
	"github.com/rustyeddy/propdesk/pricing"
	"github.com/rustyeddy/propdesk/sim"
)

type Config struct {
	Interval         time.Duration
	FetchTimeout     time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	// DemoAccountID is never monitored.
	DemoAccountID string
}

func DefaultConfig() Config {
	return Config{
		Interval:         time.Second,
		FetchTimeout:     5 * time.Second,
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// Trades closes positions. *sim.Engine implements it.
type Trades interface {
	CloseOrModifyTrade(ctx context.Context, tradeID string, req broker.UpdateTradeRequest) (sim.CloseResult, error)
}

// Skip says why a tick did not run.
type Skip string

const (
	SkipBreaker Skip = "skipped_breaker"
	SkipBusy    Skip = "skipped_busy"
)

// Stats summarizes one tick.
type Stats struct {
	Skipped   Skip
	Positions int
	Priced    int
	Triggered int
	Closed    int
	Raced     int
	Failed    int
	// Err is the tick-level failure counted by the breaker, if any.
	Err error
}

type Monitor struct {
	cfg     Config
	store   journal.Store
	feed    pricing.Feed
	trades  Trades
	events  events.Publisher
	clock   clock.Clock
	log     *slog.Logger
	metrics *Metrics
	breaker *Breaker
	running atomic.Bool
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.log = l } }

func WithPublisher(p events.Publisher) Option { return func(m *Monitor) { m.events = p } }

func WithMetrics(mt *Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

func New(cfg Config, store journal.Store, feed pricing.Feed, trades Trades, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}

	m := &Monitor{
		cfg:     cfg,
		store:   store,
		feed:    feed,
		trades:  trades,
		events:  events.Nop{},
		clock:   clock.System{},
		breaker: NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.OrDefault(m.log)
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

func (m *Monitor) Breaker() *Breaker { return m.breaker }

// Run ticks every cfg.Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("position monitor started", "interval", m.cfg.Interval, "exclude", m.cfg.DemoAccountID)
	return NewScheduler("position monitor", m.cfg.Interval, TaskFunc(func(ctx context.Context) error {
		m.Tick(ctx)
		return nil
	}), m.log).Start(ctx)
}

// Tick runs one monitoring pass. It never panics and never overlaps with
// another tick; an overlapping call returns immediately with SkipBusy.
func (m *Monitor) Tick(ctx context.Context) (st Stats) {
	now := m.clock.Now()
	ok, closed := m.breaker.Allow(now)
	if closed {
		m.metrics.BreakerOpen.Set(0)
		m.log.Warn("price fetch breaker closed", "cooldown", m.cfg.Cooldown)
	}
	if !ok {
		m.log.Debug("tick skipped, breaker open", "until", m.breaker.OpenUntil())
		m.metrics.Ticks.WithLabelValues(string(SkipBreaker)).Inc()
		return Stats{Skipped: SkipBreaker}
	}

	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug("tick skipped, previous tick still running")
		m.metrics.Ticks.WithLabelValues(string(SkipBusy)).Inc()
		return Stats{Skipped: SkipBusy}
	}
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			st.Err = fmt.Errorf("tick panic: %v", r)
		}
		result := "ok"
		if st.Err != nil {
			result = "failed"
			m.fail(st.Err)
		}
		m.metrics.Ticks.WithLabelValues(result).Inc()
		m.metrics.TickSeconds.Observe(time.Since(started).Seconds())
		m.running.Store(false)
	}()

	st = m.tick(ctx)
	return st
}

func (m *Monitor) tick(ctx context.Context) Stats {
	var st Stats

	positions, err := m.store.ListMonitoredPositions(ctx, m.cfg.DemoAccountID)
	if err != nil {
		st.Err = fmt.Errorf("list positions: %w", err)
		return st
	}
	st.Positions = len(positions)
	m.metrics.Positions.Set(float64(len(positions)))
	if len(positions) == 0 {
		return st
	}

	quotes, err := m.fetch(ctx, symbols(positions))
	if err != nil {
		m.metrics.FetchFailures.Inc()
		st.Err = err
		return st
	}
	m.breaker.Success()

	for _, t := range positions {
		q, ok := pricing.Resolve(t.Symbol, quotes)
		if !ok {
			continue
		}
		st.Priced++

		price := q.CloseSide(t.Side)
		reason, hit := sim.Trigger(t, price)
		if !hit {
			continue
		}
		st.Triggered++
		m.metrics.Triggers.WithLabelValues(string(reason)).Inc()

		switch closed, err := m.close(ctx, t, price, reason); {
		case err != nil:
			st.Failed++
			m.metrics.Closes.WithLabelValues("failed").Inc()
			m.log.Error("auto close failed", "trade", t.ID, "account", t.AccountID, "reason", reason, "err", err)
		case closed:
			st.Closed++
			m.metrics.Closes.WithLabelValues("closed").Inc()
		default:
			st.Raced++
			m.metrics.Closes.WithLabelValues("raced").Inc()
		}
	}
	return st
}

// fetch requests every symbol in one call. The feed runs in its own
// goroutine so a feed that ignores ctx still cannot hold the tick past the
// timeout.
func (m *Monitor) fetch(ctx context.Context, syms []string) (map[string]pricing.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		quotes map[string]pricing.Quote
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("price feed panic: %v", r)}
			}
		}()
		q, err := m.feed.Quotes(ctx, syms)
		done <- result{q, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %d prices: %w", len(syms), ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("fetch %d prices: %w", len(syms), r.err)
		}
		return r.quotes, nil
	}
}

// close issues the close and publishes the outcome. A close that lost a
// race with another closer returns false and no error.
func (m *Monitor) close(ctx context.Context, t broker.Trade, price float64, reason broker.CloseReason) (bool, error) {
	a, err := m.store.GetAccount(ctx, t.AccountID)
	if err != nil {
		return false, err
	}
	profit := sim.Profit(a.Platform, t, price)

	res, err := m.trades.CloseOrModifyTrade(ctx, t.ID, broker.UpdateTradeRequest{
		Close:       true,
		ClosePrice:  &price,
		Profit:      &profit,
		CloseReason: reason,
	})
	switch {
	case errors.Is(err, broker.ErrTradeClosed):
		return false, nil
	case err != nil:
		return false, err
	case !res.Closed:
		m.log.Debug("position already closed", "trade", t.ID, "account", t.AccountID)
		return false, nil
	}

	m.log.Info("position auto closed", "trade", t.ID, "account", t.AccountID, "symbol", t.Symbol,
		"reason", res.Trade.CloseReason, "price", price, "profit", res.Trade.Profit)
	if res.EvalErr != nil {
		m.log.Error("account not evaluated after auto close", "account", t.AccountID, "err", res.EvalErr)
	}
	m.publish(ctx, t.AccountID, events.PositionClosed, sim.NewPositionClosed(res.Trade))
	m.publish(ctx, t.AccountID, events.AccountMetricsUpdate, res.Metrics())
	return true, nil
}

func (m *Monitor) fail(err error) {
	m.log.Error("monitor tick failed", "err", err, "failures", m.breaker.Failures()+1)
	if m.breaker.Failure(m.clock.Now()) {
		m.metrics.BreakerOpen.Set(1)
		m.log.Warn("price fetch breaker opened", "until", m.breaker.OpenUntil(), "threshold", m.cfg.FailureThreshold)
	}
}

func (m *Monitor) publish(ctx context.Context, accountID string, name events.Name, payload any) {
	if err := m.events.Publish(ctx, accountID, name, payload); err != nil {
		m.log.Warn("publish failed", "event", name, "account", accountID, "err", err)
	}
}

// symbols returns the distinct symbols of trades in sorted order.
func symbols(trades []broker.Trade) []string {
	seen := make(map[string]bool, len(trades))
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			out = append(out, t.Symbol)
		}
	}
	sort.Strings(out)
	return out
}
