package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/journal"
	"github.com/rustyeddy/propdesk/pkg/logging"
	"github.com/rustyeddy/propdesk/pricing"
	"github.com/rustyeddy/propdesk/risk"
)

// Revaluer marks an account to market. *sim.Engine implements it.
type Revaluer interface {
	Revalue(ctx context.Context, accountID string, quotes map[string]pricing.Quote) (risk.Evaluation, error)
}

// Snapshotter revalues every ACTIVE account holding open trades and so
// produces the equity snapshots the daily drawdown baseline is read from.
type Snapshotter struct {
	store   journal.Store
	feed    pricing.Feed
	engine  Revaluer
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics
}

func NewSnapshotter(store journal.Store, feed pricing.Feed, engine Revaluer, timeout time.Duration, log *slog.Logger, metrics *Metrics) *Snapshotter {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if timeout <= 0 {
		timeout = DefaultConfig().FetchTimeout
	}
	return &Snapshotter{
		store:   store,
		feed:    feed,
		engine:  engine,
		timeout: timeout,
		log:     logging.OrDefault(log),
		metrics: metrics,
	}
}

func (s *Snapshotter) Execute(ctx context.Context) error {
	_, err := s.Snapshot(ctx)
	return err
}

// Snapshot revalues once and returns the number of accounts revalued.
func (s *Snapshotter) Snapshot(ctx context.Context) (int, error) {
	accounts, err := s.store.ListAccountsByStatus(ctx, broker.StatusActive)
	if err != nil {
		return 0, err
	}

	held := make(map[string][]broker.Trade)
	var all []broker.Trade
	for _, a := range accounts {
		open, err := s.store.ListOpenTrades(ctx, a.ID)
		if err != nil {
			return 0, err
		}
		if len(open) > 0 {
			held[a.ID] = open
			all = append(all, open...)
		}
	}
	if len(held) == 0 {
		return 0, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	quotes, err := s.feed.Quotes(fctx, symbols(all))
	cancel()
	if err != nil {
		s.metrics.Snapshots.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("snapshot prices: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, a := range accounts {
		if _, ok := held[a.ID]; !ok {
			continue
		}
		ev, err := s.engine.Revalue(ctx, a.ID, quotes)
		if err != nil {
			s.metrics.Snapshots.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("revalue %s: %w", a.ID, err))
			continue
		}
		n++
		s.metrics.Snapshots.WithLabelValues("ok").Inc()
		s.log.Debug("account revalued", "account", a.ID, "equity", ev.Equity, "status", ev.Status)
	}
	return n, errors.Join(errs...)
}

// Roller unlocks daily-locked accounts. *sim.Engine implements it.
type Roller interface {
	RolloverDay(ctx context.Context) (int, error)
}

// Rollover wraps r as a scheduled task.
func Rollover(r Roller, log *slog.Logger, metrics *Metrics) Task {
	log = logging.OrDefault(log)
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return TaskFunc(func(ctx context.Context) error {
		n, err := r.RolloverDay(ctx)
		if n > 0 {
			metrics.Unlocked.Add(float64(n))
			log.Info("day rollover", "unlocked", n)
		}
		return err
	})
}
