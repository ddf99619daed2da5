// Package feed is an HTTP client for the upstream price service.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyeddy/propdesk/pricing"
)

const (
	DefaultTimeout = 5 * time.Second
	pricesPath     = "/v1/prices"
)

// Options configures a Client. Zero values pick sensible defaults.
type Options struct {
	Token         string
	Timeout       time.Duration
	RatePerSecond float64 // 0 disables client-side rate limiting
	Burst         int
}

// Client fetches batched bid/ask quotes.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ pricing.Feed = (*Client)(nil)

func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return c
}

// apiPrice is one entry in the price response. Numbers arrive as strings.
type apiPrice struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Time   string `json:"time"`
}

type pricesResponse struct {
	Prices []apiPrice        `json:"prices"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Quotes requests all symbols in one call. Entries with an unparsable or
// missing side are dropped; the upstream's per-symbol errors are ignored so
// one bad symbol never fails the batch.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]pricing.Quote, error) {
	if len(symbols) == 0 {
		return map[string]pricing.Quote{}, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	uniq := dedupe(symbols)
	params := url.Values{}
	params.Set("symbols", strings.Join(uniq, ","))
	apiURL := fmt.Sprintf("%s%s?%s", c.baseURL, pricesPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("price feed error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp pricesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make(map[string]pricing.Quote, len(apiResp.Prices))
	for _, p := range apiResp.Prices {
		bid, err1 := parseFloat(p.Bid)
		ask, err2 := parseFloat(p.Ask)
		if p.Symbol == "" || err1 != nil || err2 != nil {
			continue
		}
		q := pricing.Quote{Bid: bid, Ask: ask}
		if ts, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
			q.Time = ts
		}
		if !q.Valid() {
			continue
		}
		out[p.Symbol] = q
	}
	return out, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
