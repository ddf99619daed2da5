package risk

import (
	"math"
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/pkg/clock"
)

// Percentages are rounded to this many decimals so that threshold checks
// are not decided by float noise.
const percentDecimals = 8

func roundPct(x float64) float64 {
	p := math.Pow(10, percentDecimals)
	return math.Round(x*p) / p
}

// ProfitPercent is the gain of equity over the initial balance.
func ProfitPercent(equity, initialBalance float64) float64 {
	if initialBalance <= 0 {
		return 0
	}
	return roundPct((equity - initialBalance) / initialBalance * 100)
}

// DrawdownPercent is the decline of equity from peak, floored at zero.
func DrawdownPercent(peak, equity float64) float64 {
	if peak <= 0 {
		return 0
	}
	return roundPct(math.Max(0, (peak-equity)/peak*100))
}

// PeakEquity is the all-time peak including the equity being evaluated.
func PeakEquity(a broker.Account, equity float64) float64 {
	peak := a.MaxEquityToDate
	if peak <= 0 {
		peak = a.InitialBalance
	}
	return math.Max(peak, equity)
}

// DailyBaseline is the highest of the day's start equity and every
// snapshot equity recorded on now's calendar day. Snapshots taken after a
// losing close are lower than the start, so losses already taken today
// stay counted. With neither it falls back to max(balance, initialBalance).
func DailyBaseline(a broker.Account, snapshots []broker.EquitySnapshot, now time.Time) float64 {
	baseline, found := 0.0, false
	if a.LastDailyReset != nil && clock.SameDay(*a.LastDailyReset, now) && a.TodayStartEquity > 0 {
		baseline, found = a.TodayStartEquity, true
	}
	for _, s := range snapshots {
		if s.AccountID != "" && s.AccountID != a.ID {
			continue
		}
		if !clock.SameDay(s.Time, now) {
			continue
		}
		if !found || s.Equity > baseline {
			baseline, found = s.Equity, true
		}
	}
	if found {
		return baseline
	}
	return math.Max(a.Balance, a.InitialBalance)
}
