package sim

import "github.com/rustyeddy/propdesk/broker"

func hitStopLoss(t broker.Trade, price float64) bool {
	if t.StopLoss == nil {
		return false
	}
	if t.Side == broker.Sell {
		return price >= *t.StopLoss
	}
	return price <= *t.StopLoss
}

func hitTakeProfit(t broker.Trade, price float64) bool {
	if t.TakeProfit == nil {
		return false
	}
	if t.Side == broker.Sell {
		return price <= *t.TakeProfit
	}
	return price >= *t.TakeProfit
}

// Trigger tests an open trade against its close-side price. Take-profit is
// checked first; stop-loss only when take-profit did not fire.
func Trigger(t broker.Trade, closeSidePrice float64) (broker.CloseReason, bool) {
	if !t.IsOpen() || !positive(closeSidePrice) {
		return "", false
	}
	if hitTakeProfit(t, closeSidePrice) {
		return broker.TPHit, true
	}
	if hitStopLoss(t, closeSidePrice) {
		return broker.SLHit, true
	}
	return "", false
}
