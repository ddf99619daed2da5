package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PricePrecision is the number of decimals a price is displayed with.
// Forex always uses 5. Crypto and metals are tiered by magnitude: 2 at or
// above 1000, 4 at or above 1, otherwise 6.
func PricePrecision(symbol string, price float64) int {
	if Classify(symbol) == Forex {
		return 5
	}
	switch {
	case price >= 1000:
		return 2
	case price >= 1:
		return 4
	}
	return 6
}

func FormatPrice(symbol string, price float64) string {
	if !finite(price) {
		price = 0
	}
	places := int32(PricePrecision(symbol, price))
	return decimal.NewFromFloat(price).StringFixed(places)
}

// NormalizeVolume floors volume to the contract's volume step.
func NormalizeVolume(spec ContractSpec, volume float64) float64 {
	if !positive(volume) || !positive(spec.VolumeStep) {
		return 0
	}
	step := decimal.NewFromFloat(spec.VolumeStep)
	v := decimal.NewFromFloat(volume).Div(step).Floor().Mul(step)
	return v.InexactFloat64()
}

// ValidateVolume rejects non-positive volumes and volumes below the minimum.
func ValidateVolume(spec ContractSpec, volume float64) error {
	if !positive(volume) {
		return fmt.Errorf("volume must be a positive number")
	}
	if decimal.NewFromFloat(volume).LessThan(decimal.NewFromFloat(spec.MinVolume)) {
		return fmt.Errorf("volume %s is below the minimum %s",
			FormatVolume(spec, volume), FormatVolume(spec, spec.MinVolume))
	}
	return nil
}

// FormatVolume truncates to the spec's precision.
func FormatVolume(spec ContractSpec, volume float64) string {
	if !finite(volume) {
		volume = 0
	}
	p := int32(spec.VolumePrecision)
	return decimal.NewFromFloat(volume).Truncate(p).StringFixed(p)
}
