package sim

import (
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/risk"
)

// PositionClosed is the payload of events.PositionClosed.
type PositionClosed struct {
	TradeID     string             `json:"tradeId"`
	AccountID   string             `json:"accountId"`
	Symbol      string             `json:"symbol"`
	Side        broker.Side        `json:"type"`
	ClosePrice  float64            `json:"closePrice"`
	Profit      float64            `json:"profit"`
	CloseReason broker.CloseReason `json:"closeReason"`
	ClosedAt    time.Time          `json:"closedAt"`
}

func NewPositionClosed(t broker.Trade) PositionClosed {
	p := PositionClosed{
		TradeID:     t.ID,
		AccountID:   t.AccountID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Profit:      t.Profit,
		CloseReason: t.CloseReason,
	}
	if t.ClosePrice != nil {
		p.ClosePrice = *t.ClosePrice
	}
	if t.ClosedAt != nil {
		p.ClosedAt = *t.ClosedAt
	}
	return p
}

// AccountMetrics is the payload of events.AccountMetricsUpdate.
type AccountMetrics struct {
	AccountID              string        `json:"accountId"`
	Status                 broker.Status `json:"status"`
	Phase                  broker.Phase  `json:"phase"`
	Balance                float64       `json:"balance"`
	Equity                 float64       `json:"equity"`
	ProfitPercent          float64       `json:"profitPercent"`
	DailyDrawdownPercent   float64       `json:"dailyDrawdownPercent"`
	OverallDrawdownPercent float64       `json:"overallDrawdownPercent"`
	TradingDays            int           `json:"tradingDays"`
}

func NewAccountMetrics(ev risk.Evaluation) AccountMetrics {
	return AccountMetrics{
		AccountID:              ev.AccountID,
		Status:                 ev.Status,
		Phase:                  ev.Phase,
		Balance:                ev.Balance,
		Equity:                 ev.Equity,
		ProfitPercent:          ev.ProfitPercent,
		DailyDrawdownPercent:   ev.DailyDrawdownPercent,
		OverallDrawdownPercent: ev.OverallDrawdownPercent,
		TradingDays:            ev.TradingDays,
	}
}

// Metrics is the account metrics payload after a close. Without an
// evaluation it carries the stored account figures only.
func (r CloseResult) Metrics() AccountMetrics {
	if r.Evaluation != nil {
		return NewAccountMetrics(*r.Evaluation)
	}
	a := r.Account
	return AccountMetrics{
		AccountID: a.ID,
		Status:    a.Status,
		Phase:     a.Phase,
		Balance:   a.Balance,
		Equity:    a.Equity,
	}
}

type statusChange struct {
	AccountID string        `json:"accountId"`
	From      broker.Status `json:"from"`
	To        broker.Status `json:"to"`
	Reason    string        `json:"reason,omitempty"`
}
