package pricing

import (
	"strings"
	"unicode"
)

// Candidates lists the keys a symbol may be stored under, most specific
// first: the raw spelling, upper case, alphanumeric-compacted, a 3+3 slash
// pair, then USD/USDT suffix swaps. The list is deterministic and has no
// duplicates.
func Candidates(symbol string) []string {
	seen := make(map[string]bool, 8)
	out := make([]string, 0, 8)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	add(symbol)
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	add(upper)

	compact := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, upper)
	add(compact)
	add(slashed(compact))

	switch {
	case strings.HasSuffix(compact, "USDT"):
		base := strings.TrimSuffix(compact, "USDT")
		if base != "" {
			add(base + "USD")
			add(base + "/USDT")
			add(base + "/USD")
		}
	case strings.HasSuffix(compact, "USD"):
		base := strings.TrimSuffix(compact, "USD")
		if base != "" {
			add(base + "USDT")
			add(base + "/USD")
			add(base + "/USDT")
		}
	}
	return out
}

func slashed(compact string) string {
	if len(compact) != 6 {
		return ""
	}
	return compact[:3] + "/" + compact[3:]
}

// Resolve returns the first candidate key whose quote has both sides. A
// missing price is a normal outcome; callers skip the symbol for this round.
func Resolve(symbol string, prices map[string]Quote) (Quote, bool) {
	if len(prices) == 0 {
		return Quote{}, false
	}
	for _, key := range Candidates(symbol) {
		if q, ok := prices[key]; ok && q.Valid() {
			return q, true
		}
	}
	return Quote{}, false
}
