package market

import (
	"regexp"
	"strings"
)

type AssetClass int

const (
	Forex AssetClass = iota
	Metal
	Crypto
)

func (c AssetClass) String() string {
	switch c {
	case Metal:
		return "metal"
	case Crypto:
		return "crypto"
	}
	return "forex"
}

// Crypto tickers are matched as a prefix so forex crosses such as CADAUD
// are not mistaken for ADA pairs.
var cryptoPattern = regexp.MustCompile(`^(BTC|ETH|SOL|XRP|ADA|DOGE|BNB|AVAX|DOT|LINK)|USDT$`)

// Compact upper-cases a symbol and strips everything but letters and digits,
// so "eur/usd", "EUR_USD" and "EURUSD" all become "EURUSD".
func Compact(symbol string) string {
	var b strings.Builder
	b.Grow(len(symbol))
	for _, r := range strings.ToUpper(symbol) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Classify checks crypto first, then metals, and treats the rest as forex.
func Classify(symbol string) AssetClass {
	s := Compact(symbol)
	switch {
	case cryptoPattern.MatchString(s):
		return Crypto
	case strings.HasPrefix(s, "XAU"), strings.HasPrefix(s, "XAG"):
		return Metal
	}
	return Forex
}

// spotSymbols is the spot-trading whitelist.
var spotSymbols = map[string]bool{
	"BTCUSDT":  true,
	"ETHUSDT":  true,
	"SOLUSDT":  true,
	"XRPUSDT":  true,
	"ADAUSDT":  true,
	"DOGEUSDT": true,
	"BNBUSDT":  true,
	"AVAXUSDT": true,
	"DOTUSDT":  true,
	"LINKUSDT": true,
}

// SpotSymbols lists the whitelisted spot pairs in compact form.
func SpotSymbols() []string {
	out := make([]string, 0, len(spotSymbols))
	for s := range spotSymbols {
		out = append(out, s)
	}
	return out
}
