// Package pricing resolves heterogeneous symbol spellings against price-feed
// keys and defines the price-feed collaborator.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/propdesk/broker"
)

// Feed fetches current quotes for a batch of symbols. Symbols the feed has
// no price for are simply absent from the result.
type Feed interface {
	Quotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

type Quote struct {
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Time time.Time `json:"time,omitempty"`
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// Valid reports whether both sides are present.
func (q Quote) Valid() bool {
	return present(q.Bid) && present(q.Ask)
}

// CloseSide is the price a position closes at: longs sell at the bid,
// shorts buy back at the ask.
func (q Quote) CloseSide(side broker.Side) float64 {
	if side == broker.Sell {
		return q.Ask
	}
	return q.Bid
}

func present(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}

// QuoteStore is an in-memory Feed. The demo command and tests push prices
// into it directly.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

func (s *QuoteStore) Set(symbol string, q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = q
}

func (s *QuoteStore) Get(symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %q", symbol)
	}
	return q, nil
}

// Snapshot copies every stored quote.
func (s *QuoteStore) Snapshot() map[string]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// Quotes returns the stored quote for every requested symbol that resolves.
// Results are keyed by the requested spelling.
func (s *QuoteStore) Quotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all := s.Snapshot()
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := Resolve(sym, all); ok {
			out[sym] = q
		}
	}
	return out, nil
}
