package market

import (
	"math"
	"testing"

	"github.com/rustyeddy/propdesk/broker"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol string
		want   AssetClass
	}{
		{"EURUSD", Forex},
		{"eur/usd", Forex},
		{"CADAUD", Forex},
		{"XAUUSD", Metal},
		{"XAG/USD", Metal},
		{"BTCUSD", Crypto},
		{"ETH/USDT", Crypto},
		{"PEPEUSDT", Crypto},
		{"dogeusd", Crypto},
		{"ETHBTC", Crypto},
		// tickers only count at the start of the symbol
		{"USDBTC", Forex},
		{"WBTCUSD", Forex},
		{"WBTCUSDT", Crypto},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.symbol), tt.symbol)
	}
}

func TestGetContractSpec(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ForexContractSize, GetContractSpec("EURUSD", broker.PlatformMT5).ContractSize)
	assert.Equal(t, GoldContractSize, GetContractSpec("XAUUSD", broker.PlatformMT5).ContractSize)
	assert.Equal(t, SilverContractSize, GetContractSpec("XAGUSD", broker.PlatformMT5).ContractSize)
	assert.Equal(t, CryptoContractSize, GetContractSpec("BTCUSD", broker.PlatformMT5).ContractSize)

	// Linear perpetuals denominate volume in base units for every symbol.
	for _, s := range []string{"EURUSD", "XAUUSD", "BTCUSDT"} {
		assert.Equal(t, 1.0, GetContractSpec(s, broker.PlatformBybit).ContractSize, s)
	}

	// Unknown platforms fall back to lots.
	assert.Equal(t, ForexContractSize, GetContractSpec("EURUSD", broker.Platform("other")).ContractSize)
}

func TestCalculatePnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		symbol   string
		side     broker.Side
		volume   float64
		open     float64
		current  float64
		platform broker.Platform
		want     float64
	}{
		{"forex buy gain", "EURUSD", broker.Buy, 1, 1.1000, 1.1010, broker.PlatformMT5, 100},
		{"forex sell gain", "EURUSD", broker.Sell, 0.5, 1.1000, 1.0990, broker.PlatformMT5, 50},
		{"gold buy loss", "XAUUSD", broker.Buy, 0.1, 2000, 1990, broker.PlatformMT5, -100},
		{"crypto lots", "BTCUSD", broker.Buy, 2, 60000, 60500, broker.PlatformMT5, 1000},
		{"perp ignores contract size", "EURUSD", broker.Buy, 1000, 1.1, 1.2, broker.PlatformBybit, 100},
		{"perp sell", "BTCUSDT", broker.Sell, 0.5, 60000, 59000, broker.PlatformBybit, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePnL(tt.symbol, tt.side, tt.volume, tt.open, tt.current, tt.platform)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestCalculatePnLInvalidInputsReturnZero(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	inf := math.Inf(1)

	cases := []struct {
		name    string
		symbol  string
		side    broker.Side
		volume  float64
		open    float64
		current float64
	}{
		{"empty symbol", "", broker.Buy, 1, 1, 2},
		{"bad side", "EURUSD", broker.Side("HOLD"), 1, 1, 2},
		{"zero volume", "EURUSD", broker.Buy, 0, 1, 2},
		{"negative volume", "EURUSD", broker.Buy, -1, 1, 2},
		{"nan volume", "EURUSD", broker.Buy, nan, 1, 2},
		{"inf open", "EURUSD", broker.Buy, 1, inf, 2},
		{"zero open", "EURUSD", broker.Buy, 1, 0, 2},
		{"nan current", "EURUSD", broker.Buy, 1, 1, nan},
		{"negative current", "EURUSD", broker.Buy, 1, 1, -2},
	}
	for _, c := range cases {
		for _, p := range []broker.Platform{broker.PlatformMT5, broker.PlatformBybit, broker.PlatformSpot} {
			got := CalculatePnL(c.symbol, c.side, c.volume, c.open, c.current, p)
			assert.Equal(t, 0.0, got, "%s on %s", c.name, p)
		}
	}

	// Overflow is mapped to zero rather than Inf.
	got := CalculatePnL("EURUSD", broker.Buy, math.MaxFloat64, 1, math.MaxFloat64, broker.PlatformMT5)
	assert.Equal(t, 0.0, got)
}

func TestCalculateRequiredMargin(t *testing.T) {
	t.Parallel()

	// 1 lot EURUSD-style symbol at 100 with 1:100 -> 100000.
	assert.InDelta(t, 100000.0, CalculateRequiredMargin("EURUSD", 1, 100, 100), 1e-9)
	assert.InDelta(t, 1100.0, CalculateRequiredMargin("EURUSD", 1, 1.1, 100), 1e-9)
	assert.InDelta(t, 2000.0, CalculateRequiredMargin("XAUUSD", 1, 2000, 100), 1e-9)

	// Leverage fallback: non-finite or non-positive means 100.
	want := CalculateRequiredMargin("EURUSD", 1, 1.1, 100)
	for _, lev := range []float64{0, -5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.InDelta(t, want, CalculateRequiredMargin("EURUSD", 1, 1.1, lev), 1e-9, "leverage %v", lev)
	}

	// Fractional leverage is floored at 1.
	assert.InDelta(t, 110000.0, CalculateRequiredMargin("EURUSD", 1, 1.1, 0.5), 1e-9)

	// Invalid volume/price.
	assert.Equal(t, 0.0, CalculateRequiredMargin("EURUSD", 0, 1.1, 100))
	assert.Equal(t, 0.0, CalculateRequiredMargin("EURUSD", 1, math.NaN(), 100))
}

func TestSpotContracts(t *testing.T) {
	t.Parallel()

	c := ForPlatform(broker.PlatformSpot)
	assert.True(t, c.Supports("BTCUSDT"))
	assert.True(t, c.Supports("eth/usdt"))
	assert.True(t, c.Supports("SOLUSD"))
	assert.False(t, c.Supports("EURUSD"))
	assert.False(t, c.Supports("PEPEUSDT"))

	assert.Equal(t, 1.0, c.Leverage(50))
	// Spot margin is the full notional whatever leverage is passed.
	assert.InDelta(t, 30000.0, c.RequiredMargin("BTCUSDT", 0.5, 60000, 100), 1e-9)

	assert.Equal(t, c, ForTrade(broker.PlatformMT5, broker.Spot))
	assert.Equal(t, ForPlatform(broker.PlatformBybit), ForTrade(broker.PlatformBybit, broker.CFD))
}

func TestNormalizeLeverage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100.0, NormalizeLeverage(0))
	assert.Equal(t, 100.0, NormalizeLeverage(math.NaN()))
	assert.Equal(t, 1.0, NormalizeLeverage(0.25))
	assert.Equal(t, 30.0, NormalizeLeverage(30))
}

func TestPnLAndMarginNeverNonFinite(t *testing.T) {
	t.Parallel()

	values := []float64{0, -1, 1e-12, 1, 1.1, 100, 1e9, math.MaxFloat64, math.NaN(), math.Inf(1), math.Inf(-1)}
	for _, p := range []broker.Platform{broker.PlatformMT5, broker.PlatformBybit, broker.PlatformSpot} {
		c := ForPlatform(p)
		for _, v := range values {
			for _, px := range values {
				pl := c.PnL("XAUUSD", broker.Buy, v, px, 1.5)
				m := c.RequiredMargin("XAUUSD", v, px, v)
				assert.True(t, finite(pl), "pnl %v %v", v, px)
				assert.True(t, finite(m), "margin %v %v", v, px)
			}
		}
	}
}
