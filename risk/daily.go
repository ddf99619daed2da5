package risk

import (
	"math"
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/pkg/clock"
)

// ResetDaily re-baselines the day's equity figures the first time it is
// called on a new calendar day and reports whether it did.
func ResetDaily(a *broker.Account, now time.Time) bool {
	if a.LastDailyReset != nil && clock.SameDay(*a.LastDailyReset, now) {
		return false
	}
	a.TodayStartEquity = a.Equity
	a.MinEquityToday = a.Equity
	stamp := now
	a.LastDailyReset = &stamp
	return true
}

// ApplyEquity records a new equity figure on a, running the daily reset
// first and then moving the peak and the minimums. The reset sees the
// equity carried into the day, not the new figure. MaxEquityToDate never
// decreases.
func ApplyEquity(a *broker.Account, equity float64, now time.Time) {
	ResetDaily(a, now)
	a.Equity = equity

	a.MaxEquityToDate = math.Max(a.MaxEquityToDate, equity)
	a.MinEquityToday = math.Min(a.MinEquityToday, equity)
	if a.MinEquityOverall <= 0 {
		a.MinEquityOverall = equity
	}
	a.MinEquityOverall = math.Min(a.MinEquityOverall, equity)
	a.UpdatedAt = now
}

// TradingDays counts the distinct calendar dates, in loc, on which at least
// one trade was opened.
func TradingDays(trades []broker.Trade, loc *time.Location) int {
	days := make(map[string]struct{})
	for _, t := range trades {
		if t.OpenedAt.IsZero() {
			continue
		}
		days[clock.DateKey(t.OpenedAt, loc)] = struct{}{}
	}
	return len(days)
}
