package risk

import (
	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/market"
	"github.com/rustyeddy/propdesk/pricing"
)

// PositionMargin is the margin held by one open trade, priced at its open
// price. Unset leverage falls back to market.DefaultLeverage.
func PositionMargin(platform broker.Platform, t broker.Trade) float64 {
	c := market.ForTrade(platform, t.PositionType)
	return c.RequiredMargin(t.Symbol, t.Volume, t.OpenPrice, c.Leverage(t.Leverage))
}

// MarginInUse sums PositionMargin over the open trades.
func MarginInUse(platform broker.Platform, trades []broker.Trade) float64 {
	var used float64
	for _, t := range trades {
		if t.IsOpen() {
			used += PositionMargin(platform, t)
		}
	}
	return used
}

// FreeMargin is balance less the margin in use.
func FreeMargin(a broker.Account, trades []broker.Trade) float64 {
	return a.Balance - MarginInUse(a.Platform, trades)
}

// Mark is the result of pricing one open trade.
type Mark struct {
	TradeID string
	Price   float64
	Profit  float64
	Priced  bool
}

// MarkToMarket prices each open trade at its close side. Trades without a
// quote keep their last stored profit. Floating is the sum over all open
// trades.
func MarkToMarket(platform broker.Platform, trades []broker.Trade, quotes map[string]pricing.Quote) (marks []Mark, floating float64) {
	for _, t := range trades {
		if !t.IsOpen() {
			continue
		}
		m := Mark{TradeID: t.ID, Profit: t.Profit}
		if q, ok := pricing.Resolve(t.Symbol, quotes); ok {
			m.Price = q.CloseSide(t.Side)
			m.Profit = market.ForTrade(platform, t.PositionType).PnL(t.Symbol, t.Side, t.Volume, t.OpenPrice, m.Price)
			m.Priced = true
		}
		marks = append(marks, m)
		floating += m.Profit
	}
	return marks, floating
}

// OpenProfit sums the stored profit of open trades.
func OpenProfit(trades []broker.Trade) float64 {
	var sum float64
	for _, t := range trades {
		if t.IsOpen() {
			sum += t.Profit
		}
	}
	return sum
}
