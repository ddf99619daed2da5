// Package market maps (symbol, platform) to contract specifications and
// computes P&L, required margin and display precision.
//
// Every function here is pure. Invalid numeric input yields 0, never NaN,
// Inf or a panic.
package market

import (
	"math"
	"strings"

	"github.com/rustyeddy/propdesk/broker"
)

// DefaultLeverage is used whenever a leverage is missing, non-finite or not
// positive.
const DefaultLeverage = 100.0

const (
	ForexContractSize  = 100_000.0
	GoldContractSize   = 100.0  // troy ounces per lot
	SilverContractSize = 5_000.0 // troy ounces per lot
	CryptoContractSize = 1.0
)

type ContractSpec struct {
	ContractSize    float64
	MinVolume       float64
	VolumeStep      float64
	VolumePrecision int
}

// Contracts is the per-platform contract model.
type Contracts interface {
	Platform() broker.Platform
	Spec(symbol string) ContractSpec
	// Supports reports whether the platform accepts symbol at all.
	Supports(symbol string) bool
	// Leverage returns the leverage the platform actually applies.
	Leverage(requested float64) float64
	PnL(symbol string, side broker.Side, volume, openPrice, currentPrice float64) float64
	RequiredMargin(symbol string, volume, price, leverage float64) float64
}

var (
	mt5   Contracts = lots{}
	bybit Contracts = perpetual{}
	spot  Contracts = spotMarket{}
)

// ForPlatform returns the contract model for p. Unknown platforms use the
// MT5 lot model.
func ForPlatform(p broker.Platform) Contracts {
	switch broker.Platform(strings.ToLower(string(p))) {
	case broker.PlatformBybit:
		return bybit
	case broker.PlatformSpot:
		return spot
	}
	return mt5
}

// ForTrade picks the model for a trade: SPOT positions always use the spot
// model, everything else the account's platform.
func ForTrade(p broker.Platform, pt broker.PositionType) Contracts {
	if pt == broker.Spot {
		return spot
	}
	return ForPlatform(p)
}

func GetContractSpec(symbol string, p broker.Platform) ContractSpec {
	return ForPlatform(p).Spec(symbol)
}

func CalculatePnL(symbol string, side broker.Side, volume, openPrice, currentPrice float64, p broker.Platform) float64 {
	return ForPlatform(p).PnL(symbol, side, volume, openPrice, currentPrice)
}

// CalculateRequiredMargin uses the MT5 lot model.
func CalculateRequiredMargin(symbol string, volume, price, leverage float64) float64 {
	return mt5.RequiredMargin(symbol, volume, price, leverage)
}

// NormalizeLeverage falls back to DefaultLeverage for non-finite or
// non-positive input and never returns less than 1.
func NormalizeLeverage(leverage float64) float64 {
	if !finite(leverage) || leverage <= 0 {
		return DefaultLeverage
	}
	return math.Max(leverage, 1)
}

// lots is the MT5 model: volume is in lots.
type lots struct{}

func (lots) Platform() broker.Platform { return broker.PlatformMT5 }

func (lots) Spec(symbol string) ContractSpec {
	s := Compact(symbol)
	switch {
	case Classify(s) == Crypto:
		return ContractSpec{ContractSize: CryptoContractSize, MinVolume: 0.01, VolumeStep: 0.01, VolumePrecision: 2}
	case strings.HasPrefix(s, "XAU"):
		return ContractSpec{ContractSize: GoldContractSize, MinVolume: 0.01, VolumeStep: 0.01, VolumePrecision: 2}
	case strings.HasPrefix(s, "XAG"):
		return ContractSpec{ContractSize: SilverContractSize, MinVolume: 0.01, VolumeStep: 0.01, VolumePrecision: 2}
	}
	return ContractSpec{ContractSize: ForexContractSize, MinVolume: 0.01, VolumeStep: 0.01, VolumePrecision: 2}
}

func (lots) Supports(symbol string) bool { return Compact(symbol) != "" }

func (lots) Leverage(requested float64) float64 { return NormalizeLeverage(requested) }

func (l lots) PnL(symbol string, side broker.Side, volume, openPrice, currentPrice float64) float64 {
	if !validPnLInput(symbol, side, volume, openPrice, currentPrice) {
		return 0
	}
	return guard((currentPrice - openPrice) * side.Direction() * volume * l.Spec(symbol).ContractSize)
}

func (l lots) RequiredMargin(symbol string, volume, price, leverage float64) float64 {
	return margin(l.Spec(symbol).ContractSize, volume, price, NormalizeLeverage(leverage))
}

// perpetual is the linear-perpetual model: volume is already in base units.
type perpetual struct{}

func (perpetual) Platform() broker.Platform { return broker.PlatformBybit }

func (perpetual) Spec(string) ContractSpec {
	return ContractSpec{ContractSize: 1, MinVolume: 0.001, VolumeStep: 0.001, VolumePrecision: 3}
}

func (perpetual) Supports(symbol string) bool { return Compact(symbol) != "" }

func (perpetual) Leverage(requested float64) float64 { return NormalizeLeverage(requested) }

func (perpetual) PnL(symbol string, side broker.Side, volume, openPrice, currentPrice float64) float64 {
	if !validPnLInput(symbol, side, volume, openPrice, currentPrice) {
		return 0
	}
	return guard((currentPrice - openPrice) * side.Direction() * volume)
}

func (p perpetual) RequiredMargin(symbol string, volume, price, leverage float64) float64 {
	return margin(p.Spec(symbol).ContractSize, volume, price, NormalizeLeverage(leverage))
}

// spotMarket trades the whitelist only and never applies leverage.
type spotMarket struct{}

func (spotMarket) Platform() broker.Platform { return broker.PlatformSpot }

func (spotMarket) Spec(string) ContractSpec {
	return ContractSpec{ContractSize: 1, MinVolume: 0.0001, VolumeStep: 0.0001, VolumePrecision: 4}
}

func (spotMarket) Supports(symbol string) bool {
	s := Compact(symbol)
	if spotSymbols[s] {
		return true
	}
	return strings.HasSuffix(s, "USD") && spotSymbols[s+"T"]
}

func (spotMarket) Leverage(float64) float64 { return 1 }

func (s spotMarket) PnL(symbol string, side broker.Side, volume, openPrice, currentPrice float64) float64 {
	if !validPnLInput(symbol, side, volume, openPrice, currentPrice) {
		return 0
	}
	return guard((currentPrice - openPrice) * side.Direction() * volume * s.Spec(symbol).ContractSize)
}

func (s spotMarket) RequiredMargin(symbol string, volume, price, _ float64) float64 {
	return margin(s.Spec(symbol).ContractSize, volume, price, 1)
}

func margin(contractSize, volume, price, leverage float64) float64 {
	if !positive(volume) || !positive(price) {
		return 0
	}
	return guard((volume * contractSize * price) / math.Max(leverage, 1))
}

func validPnLInput(symbol string, side broker.Side, volume, openPrice, currentPrice float64) bool {
	return strings.TrimSpace(symbol) != "" &&
		side.Valid() &&
		positive(volume) &&
		positive(openPrice) &&
		positive(currentPrice)
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func positive(x float64) bool { return finite(x) && x > 0 }

// guard maps overflow to 0.
func guard(x float64) float64 {
	if !finite(x) {
		return 0
	}
	return x
}
