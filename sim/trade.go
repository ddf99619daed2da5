package sim

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/rustyeddy/propdesk/market"
	"github.com/rustyeddy/propdesk/pkg/id"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", broker.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// newTrade validates req against the account's platform and builds the
// trade to persist. Spot positions get leverage 1 and must be on the spot
// whitelist.
func newTrade(a broker.Account, req broker.OpenTradeRequest, now time.Time) (broker.Trade, market.Contracts, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return broker.Trade{}, nil, invalid("symbol is required")
	}
	if !req.Side.Valid() {
		return broker.Trade{}, nil, invalid("type must be BUY or SELL, got %q", req.Side)
	}
	if !positive(req.OpenPrice) {
		return broker.Trade{}, nil, invalid("open price must be a positive number")
	}

	pt := req.PositionType
	switch {
	case a.Platform == broker.PlatformSpot:
		pt = broker.Spot
	case pt == "":
		pt = broker.CFD
	}
	if pt != broker.CFD && pt != broker.Spot {
		return broker.Trade{}, nil, invalid("unknown position type %q", req.PositionType)
	}

	c := market.ForTrade(a.Platform, pt)
	if !c.Supports(symbol) {
		return broker.Trade{}, nil, fmt.Errorf("%w: %s is not tradeable on %s", broker.ErrUnsupportedSymbol, symbol, c.Platform())
	}

	spec := c.Spec(symbol)
	if !positive(req.Volume) {
		return broker.Trade{}, nil, invalid("volume must be a positive number")
	}
	volume := market.NormalizeVolume(spec, req.Volume)
	if err := market.ValidateVolume(spec, volume); err != nil {
		return broker.Trade{}, nil, invalid("%v", err)
	}

	if err := applyLevels(&broker.Trade{}, broker.UpdateTradeRequest{StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}); err != nil {
		return broker.Trade{}, nil, err
	}

	openedAt := now
	if req.OpenedAt != nil {
		openedAt = *req.OpenedAt
	}

	t := broker.Trade{
		ID:           id.At(now),
		AccountID:    a.ID,
		Symbol:       symbol,
		Side:         req.Side,
		PositionType: pt,
		Volume:       volume,
		OpenPrice:    req.OpenPrice,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Leverage:     c.Leverage(req.Leverage),
		OpenedAt:     openedAt,
	}

	if req.ClosePrice != nil {
		if !positive(*req.ClosePrice) {
			return broker.Trade{}, nil, invalid("close price must be a positive number")
		}
		closedAt := now
		if req.ClosedAt != nil {
			closedAt = *req.ClosedAt
		}
		t.ClosePrice = req.ClosePrice
		t.ClosedAt = &closedAt
		t.Profit = c.PnL(symbol, t.Side, volume, t.OpenPrice, *req.ClosePrice)
		t.SetCloseReason(req.CloseReason)
	}
	if req.Profit != nil {
		t.Profit = *req.Profit
	}
	return t, c, nil
}

// applyLevels moves stop-loss and take-profit on an open trade.
func applyLevels(t *broker.Trade, req broker.UpdateTradeRequest) error {
	if req.StopLoss != nil {
		if !positive(*req.StopLoss) {
			return invalid("stop loss must be a positive number")
		}
		t.StopLoss = req.StopLoss
	}
	if req.TakeProfit != nil {
		if !positive(*req.TakeProfit) {
			return invalid("take profit must be a positive number")
		}
		t.TakeProfit = req.TakeProfit
	}
	return nil
}
