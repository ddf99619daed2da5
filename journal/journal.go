// Package journal persists accounts, challenges, trades and the append-only
// risk history (equity snapshots, violations, phase transitions).
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/propdesk/broker"
)

// Store is the persistence layer used by the lifecycle manager, the
// calculator and the position monitor. Getters return copies and report a
// missing record with an error wrapping broker.ErrNotFound.
type Store interface {
	CreateChallenge(ctx context.Context, c broker.Challenge) error
	GetChallenge(ctx context.Context, id string) (broker.Challenge, error)

	CreateAccount(ctx context.Context, a broker.Account) error
	GetAccount(ctx context.Context, id string) (broker.Account, error)
	UpdateAccount(ctx context.Context, a broker.Account) error
	// ListAccountsByStatus returns every account when no status is given.
	ListAccountsByStatus(ctx context.Context, statuses ...broker.Status) ([]broker.Account, error)

	InsertTrade(ctx context.Context, t broker.Trade) error
	GetTrade(ctx context.Context, id string) (broker.Trade, error)
	UpdateTrade(ctx context.Context, t broker.Trade) error
	ListTrades(ctx context.Context, accountID string) ([]broker.Trade, error)
	ListOpenTrades(ctx context.Context, accountID string) ([]broker.Trade, error)
	// ListMonitoredPositions returns open trades with a stop-loss or
	// take-profit on ACTIVE accounts, skipping excludeAccountID.
	ListMonitoredPositions(ctx context.Context, excludeAccountID string) ([]broker.Trade, error)

	InsertSnapshot(ctx context.Context, s broker.EquitySnapshot) error
	ListSnapshotsSince(ctx context.Context, accountID string, since time.Time) ([]broker.EquitySnapshot, error)

	InsertViolation(ctx context.Context, v broker.Violation) error
	ListViolations(ctx context.Context, accountID string) ([]broker.Violation, error)

	InsertPhaseTransition(ctx context.Context, p broker.PhaseTransition) error
	ListPhaseTransitions(ctx context.Context, accountID string) ([]broker.PhaseTransition, error)

	Close() error
}

func monitored(t broker.Trade) bool {
	return t.IsOpen() && (t.StopLoss != nil || t.TakeProfit != nil)
}
