package journal

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/propdesk/broker"
)

// Memory is a Store kept entirely in process. It is used by tests and by
// short-lived CLI sessions that do not need a database file.
type Memory struct {
	mu          sync.RWMutex
	challenges  map[string]broker.Challenge
	accounts    map[string]broker.Account
	trades      map[string]broker.Trade
	tradeOrder  []string
	snapshots   []broker.EquitySnapshot
	violations  []broker.Violation
	transitions []broker.PhaseTransition
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		challenges: make(map[string]broker.Challenge),
		accounts:   make(map[string]broker.Account),
		trades:     make(map[string]broker.Trade),
	}
}

func (m *Memory) CreateChallenge(_ context.Context, c broker.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[c.ID]; ok {
		return fmt.Errorf("challenge %q already exists", c.ID)
	}
	m.challenges[c.ID] = c
	return nil
}

func (m *Memory) GetChallenge(_ context.Context, id string) (broker.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return broker.Challenge{}, broker.NotFound("challenge", id)
	}
	return c, nil
}

func (m *Memory) CreateAccount(_ context.Context, a broker.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return fmt.Errorf("account %q already exists", a.ID)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (broker.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return broker.Account{}, broker.NotFound("account", id)
	}
	return a, nil
}

func (m *Memory) UpdateAccount(_ context.Context, a broker.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; !ok {
		return broker.NotFound("account", a.ID)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) ListAccountsByStatus(_ context.Context, statuses ...broker.Status) ([]broker.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Account
	for _, a := range m.accounts {
		if len(statuses) == 0 || slices.Contains(statuses, a.Status) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) InsertTrade(_ context.Context, t broker.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[t.ID]; ok {
		return fmt.Errorf("trade %q already exists", t.ID)
	}
	m.trades[t.ID] = t
	m.tradeOrder = append(m.tradeOrder, t.ID)
	return nil
}

func (m *Memory) GetTrade(_ context.Context, id string) (broker.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return broker.Trade{}, broker.NotFound("trade", id)
	}
	return t, nil
}

// UpdateTrade never replaces a breach snapshot that is already stored.
func (m *Memory) UpdateTrade(_ context.Context, t broker.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.trades[t.ID]
	if !ok {
		return broker.NotFound("trade", t.ID)
	}
	if prev.Breach.IsSet() {
		t.Breach = prev.Breach
	}
	m.trades[t.ID] = t
	return nil
}

func (m *Memory) ListTrades(_ context.Context, accountID string) ([]broker.Trade, error) {
	return m.filterTrades(func(t broker.Trade) bool { return t.AccountID == accountID }), nil
}

func (m *Memory) ListOpenTrades(_ context.Context, accountID string) ([]broker.Trade, error) {
	return m.filterTrades(func(t broker.Trade) bool {
		return t.AccountID == accountID && t.IsOpen()
	}), nil
}

func (m *Memory) ListMonitoredPositions(_ context.Context, excludeAccountID string) ([]broker.Trade, error) {
	m.mu.RLock()
	active := make(map[string]bool, len(m.accounts))
	for id, a := range m.accounts {
		active[id] = a.Status == broker.StatusActive && id != excludeAccountID
	}
	m.mu.RUnlock()

	return m.filterTrades(func(t broker.Trade) bool {
		return active[t.AccountID] && monitored(t)
	}), nil
}

// filterTrades walks trades in insertion order, ordered by open time.
func (m *Memory) filterTrades(keep func(broker.Trade) bool) []broker.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Trade
	for _, id := range m.tradeOrder {
		if t := m.trades[id]; keep(t) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (m *Memory) InsertSnapshot(_ context.Context, s broker.EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *Memory) ListSnapshotsSince(_ context.Context, accountID string, since time.Time) ([]broker.EquitySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.EquitySnapshot
	for _, s := range m.snapshots {
		if s.AccountID == accountID && !s.Time.Before(since) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (m *Memory) InsertViolation(_ context.Context, v broker.Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, v)
	return nil
}

func (m *Memory) ListViolations(_ context.Context, accountID string) ([]broker.Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.Violation
	for _, v := range m.violations {
		if v.AccountID == accountID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) InsertPhaseTransition(_ context.Context, p broker.PhaseTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, p)
	return nil
}

func (m *Memory) ListPhaseTransitions(_ context.Context, accountID string) ([]broker.PhaseTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []broker.PhaseTransition
	for _, p := range m.transitions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
