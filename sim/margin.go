package sim

import (
	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/market"
	"github.com/rustyeddy/propdesk/risk"
)

// checkMargin rejects a new position whose required margin exceeds the
// balance left after the margin held by the open positions. A position
// exactly at the boundary is accepted.
func checkMargin(a broker.Account, open []broker.Trade, c market.Contracts, t broker.Trade) error {
	required := c.RequiredMargin(t.Symbol, t.Volume, t.OpenPrice, t.Leverage)
	available := a.Balance - risk.MarginInUse(a.Platform, open)
	if required > available {
		return &broker.MarginError{Required: required, Available: available}
	}
	return nil
}
