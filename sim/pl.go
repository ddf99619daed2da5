package sim

import (
	"math"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/market"
)

// Profit is the P&L of t if closed at price, using the contract model of
// the account's platform and the trade's position type.
func Profit(platform broker.Platform, t broker.Trade, price float64) float64 {
	return market.ForTrade(platform, t.PositionType).PnL(t.Symbol, t.Side, t.Volume, t.OpenPrice, price)
}

func positive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}
