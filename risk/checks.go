// Package risk is the equity and compliance calculator. Evaluate is pure:
// it reads an account, its challenge, trade history and equity snapshots
// and reports metrics, rule breaches and the status or phase the account
// should move to. Applying that outcome is the caller's job.
package risk

import (
	"fmt"
	"time"

	"github.com/rustyeddy/propdesk/broker"
)

type Input struct {
	Account   broker.Account
	Challenge broker.Challenge
	// Trades is the account's full trade history, used for trading days.
	Trades []broker.Trade
	// Snapshots should cover at least Now's calendar day.
	Snapshots []broker.EquitySnapshot
	Now       time.Time
	// PhaseStart is when the current phase began. Trades opened before it
	// do not count toward the phase's trading days.
	PhaseStart time.Time

	// Equity overrides Account.Equity for what-if checks against a live
	// price. Nil evaluates the stored equity.
	Equity *float64
}

// Breach is a rule whose limit has been met or exceeded.
type Breach struct {
	Type    broker.ViolationType
	Value   float64
	Limit   float64
	Message string
}

type Evaluation struct {
	AccountID string
	Rules     Rules

	Balance                float64
	Equity                 float64
	PeakEquity             float64
	DailyBaseline          float64
	ProfitPercent          float64
	DailyDrawdownPercent   float64
	OverallDrawdownPercent float64
	TradingDays            int

	TargetReached bool
	MinDaysMet    bool
	Breaches      []Breach

	// Status is where the account's status should be after this
	// evaluation; it equals the input status when nothing changes.
	Status broker.Status
	// Phase is the phase to advance to when Advance is true.
	Phase   broker.Phase
	Advance bool
}

func (e *Evaluation) add(typ broker.ViolationType, value, limit float64, label string) {
	e.Breaches = append(e.Breaches, Breach{
		Type:    typ,
		Value:   value,
		Limit:   limit,
		Message: fmt.Sprintf("%s drawdown %.2f%% reached limit %.2f%%", label, value, limit),
	})
}

// Breached reports whether a breach of type typ was found.
func (e Evaluation) Breached(typ broker.ViolationType) (Breach, bool) {
	for _, b := range e.Breaches {
		if b.Type == typ {
			return b, true
		}
	}
	return Breach{}, false
}

// Evaluate computes metrics and compliance for in. It returns a
// *ConfigError when the challenge lacks a rule the account needs.
func Evaluate(in Input) (Evaluation, error) {
	a := in.Account
	rules, err := RulesFor(a, in.Challenge)
	if err != nil {
		return Evaluation{}, err
	}

	equity := a.Equity
	if in.Equity != nil {
		equity = *in.Equity
	}

	e := Evaluation{
		AccountID:     a.ID,
		Rules:         rules,
		Balance:       a.Balance,
		Equity:        equity,
		PeakEquity:    PeakEquity(a, equity),
		DailyBaseline: DailyBaseline(a, in.Snapshots, in.Now),
		ProfitPercent: ProfitPercent(equity, a.InitialBalance),
		TradingDays:   TradingDays(openedSince(in.Trades, in.PhaseStart), in.Now.Location()),
		Status:        a.Status,
		Phase:         a.Phase,
	}
	e.OverallDrawdownPercent = DrawdownPercent(e.PeakEquity, equity)
	e.DailyDrawdownPercent = DrawdownPercent(e.DailyBaseline, equity)

	if e.DailyDrawdownPercent >= rules.DailyDrawdownLimit {
		e.add(broker.DailyDrawdown, e.DailyDrawdownPercent, rules.DailyDrawdownLimit, "daily")
	}
	if e.OverallDrawdownPercent >= rules.OverallDrawdownLimit {
		e.add(broker.OverallDrawdown, e.OverallDrawdownPercent, rules.OverallDrawdownLimit, "overall")
	}

	// Overall breach outranks daily. Only live accounts move.
	_, overall := e.Breached(broker.OverallDrawdown)
	_, daily := e.Breached(broker.DailyDrawdown)
	switch {
	case overall && (a.Status == broker.StatusActive || a.Status == broker.StatusDailyLocked):
		e.Status = broker.StatusDisqualified
	case daily && a.Status == broker.StatusActive:
		e.Status = broker.StatusDailyLocked
	}

	e.MinDaysMet = e.TradingDays >= rules.MinTradingDays
	if rules.HasTarget {
		e.TargetReached = e.ProfitPercent >= rules.ProfitTarget
	}
	if e.TargetReached && e.MinDaysMet && len(e.Breaches) == 0 && a.Status == broker.StatusActive {
		if next, ok := a.Phase.Next(); ok {
			e.Phase = next
			e.Advance = true
		}
	}
	return e, nil
}

// StatusChanged reports whether the evaluation moves the account's status.
func (e Evaluation) StatusChanged(from broker.Status) bool {
	return e.Status != from
}

// Violation returns the breach behind a status change, or false when the
// status does not change to a locked state.
func (e Evaluation) Violation(from broker.Status) (Breach, bool) {
	if !e.StatusChanged(from) {
		return Breach{}, false
	}
	switch e.Status {
	case broker.StatusDisqualified:
		return e.Breached(broker.OverallDrawdown)
	case broker.StatusDailyLocked:
		return e.Breached(broker.DailyDrawdown)
	}
	return Breach{}, false
}

func openedSince(trades []broker.Trade, since time.Time) []broker.Trade {
	if since.IsZero() {
		return trades
	}
	out := make([]broker.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.OpenedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out
}
