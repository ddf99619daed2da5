package broker

import "time"

// OpenTradeRequest opens a position. When ClosePrice is set the trade is a
// back-filled, already-closed trade and skips the margin gate.
type OpenTradeRequest struct {
	Symbol       string       `json:"symbol"`
	Side         Side         `json:"type"`
	PositionType PositionType `json:"positionType"`
	Volume       float64      `json:"volume"`
	OpenPrice    float64      `json:"openPrice"`
	StopLoss     *float64     `json:"stopLoss,omitempty"`
	TakeProfit   *float64     `json:"takeProfit,omitempty"`
	Leverage     float64      `json:"leverage,omitempty"`
	OpenedAt     *time.Time   `json:"openedAt,omitempty"`

	ClosePrice  *float64    `json:"closePrice,omitempty"`
	ClosedAt    *time.Time  `json:"closedAt,omitempty"`
	Profit      *float64    `json:"profit,omitempty"`
	CloseReason CloseReason `json:"closeReason,omitempty"`
}

// UpdateTradeRequest closes a trade and/or moves its stop-loss and
// take-profit. A caller-supplied Profit wins over the computed one.
type UpdateTradeRequest struct {
	Close       bool            `json:"close"`
	ClosePrice  *float64        `json:"closePrice,omitempty"`
	ClosedAt    *time.Time      `json:"closedAt,omitempty"`
	Profit      *float64        `json:"profit,omitempty"`
	CloseReason CloseReason     `json:"closeReason,omitempty"`
	StopLoss    *float64        `json:"stopLoss,omitempty"`
	TakeProfit  *float64        `json:"takeProfit,omitempty"`
	Breach      *BreachSnapshot `json:"breach,omitempty"`
}

func (r UpdateTradeRequest) ModifiesLevels() bool {
	return r.StopLoss != nil || r.TakeProfit != nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
