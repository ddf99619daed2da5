package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyeddy/propdesk/pricing"
)

const (
	OandaPracticeURL       = "https://api-fxpractice.oanda.com"
	OandaLiveURL           = "https://api-fxtrade.oanda.com"
	OandaStreamPracticeURL = "https://stream-fxpractice.oanda.com"
	OandaStreamLiveURL     = "https://stream-fxtrade.oanda.com"
)

// OandaBaseURLs maps an environment name to the REST and streaming hosts.
func OandaBaseURLs(env string) (rest, stream string, err error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "practice", "demo":
		return OandaPracticeURL, OandaStreamPracticeURL, nil
	case "live":
		return OandaLiveURL, OandaStreamLiveURL, nil
	default:
		return "", "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Oanda reads bid/ask prices from the OANDA v20 pricing endpoints. Quotes
// are keyed by the compact symbol (EUR_USD becomes EURUSD) so the price
// resolver can match platform spellings against them.
type Oanda struct {
	restURL    string
	streamURL  string
	token      string
	accountID  string
	httpClient *http.Client
	stream     *http.Client
	limiter    *rate.Limiter
}

var _ pricing.Feed = (*Oanda)(nil)

type OandaOptions struct {
	AccountID     string
	Token         string
	RestURL       string
	StreamURL     string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

func NewOanda(opts OandaOptions) *Oanda {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RestURL == "" {
		opts.RestURL = OandaPracticeURL
	}
	if opts.StreamURL == "" {
		opts.StreamURL = OandaStreamPracticeURL
	}
	o := &Oanda{
		restURL:    strings.TrimRight(opts.RestURL, "/"),
		streamURL:  strings.TrimRight(opts.StreamURL, "/"),
		token:      opts.Token,
		accountID:  opts.AccountID,
		httpClient: &http.Client{Timeout: opts.Timeout},
		// streams stay open; the caller's context bounds them
		stream: &http.Client{},
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return o
}

type oandaPrice struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Instrument string `json:"instrument"`
	Bids       []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

func (p oandaPrice) quote() (string, pricing.Quote, bool) {
	if p.Instrument == "" || len(p.Bids) == 0 || len(p.Asks) == 0 {
		return "", pricing.Quote{}, false
	}
	bid, err1 := parseFloat(p.Bids[0].Price)
	ask, err2 := parseFloat(p.Asks[0].Price)
	if err1 != nil || err2 != nil {
		return "", pricing.Quote{}, false
	}
	q := pricing.Quote{Bid: bid, Ask: ask}
	if ts, err := time.Parse(time.RFC3339Nano, p.Time); err == nil {
		q.Time = ts
	}
	if !q.Valid() {
		return "", pricing.Quote{}, false
	}
	return strings.ReplaceAll(p.Instrument, "_", ""), q, true
}

// Instrument converts a symbol to OANDA's BASE_QUOTE spelling. Only
// six-letter currency and metal pairs have one.
func Instrument(symbol string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "_", "", "-", "").Replace(s)
	if len(s) != 6 {
		return "", false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", false
		}
	}
	return s[:3] + "_" + s[3:], true
}

func instruments(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if inst, ok := Instrument(s); ok {
			out = append(out, inst)
		}
	}
	return dedupe(out)
}

func (o *Oanda) get(ctx context.Context, client *http.Client, base, path string, params url.Values) (io.ReadCloser, error) {
	if o.token == "" {
		return nil, fmt.Errorf("oanda: missing token")
	}
	if o.accountID == "" {
		return nil, fmt.Errorf("oanda: missing account id")
	}
	u := fmt.Sprintf("%s%s?%s", base, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("oanda http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

// Quotes fetches a pricing snapshot for every symbol OANDA can quote.
// Symbols without an OANDA instrument are left out of the result.
func (o *Oanda) Quotes(ctx context.Context, symbols []string) (map[string]pricing.Quote, error) {
	insts := instruments(symbols)
	if len(insts) == 0 {
		return map[string]pricing.Quote{}, nil
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	params := url.Values{}
	params.Set("instruments", strings.Join(insts, ","))
	body, err := o.get(ctx, o.httpClient, o.restURL, fmt.Sprintf("/v3/accounts/%s/pricing", o.accountID), params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp struct {
		Prices []oandaPrice `json:"prices"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := make(map[string]pricing.Quote, len(resp.Prices))
	for _, p := range resp.Prices {
		if sym, q, ok := p.quote(); ok {
			out[sym] = q
		}
	}
	return out, nil
}

// Stream follows the pricing stream for symbols and stores every PRICE
// message in store. Heartbeats are skipped. It returns the number of quotes
// stored when ctx is done, the stream ends, or maxTicks (if positive) is
// reached.
func (o *Oanda) Stream(ctx context.Context, symbols []string, store *pricing.QuoteStore, maxTicks int) (int, error) {
	insts := instruments(symbols)
	if len(insts) == 0 {
		return 0, fmt.Errorf("oanda: no streamable instruments in %v", symbols)
	}
	params := url.Values{}
	params.Set("instruments", strings.Join(insts, ","))
	body, err := o.get(ctx, o.stream, o.streamURL, fmt.Sprintf("/v3/accounts/%s/pricing/stream", o.accountID), params)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	stored := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var msg oandaPrice
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return stored, fmt.Errorf("oanda: bad json: %w (line=%q)", err, trimForErr(line))
		}
		if !strings.EqualFold(msg.Type, "PRICE") {
			continue
		}
		sym, q, ok := msg.quote()
		if !ok {
			continue
		}
		store.Set(sym, q)
		stored++
		if maxTicks > 0 && stored >= maxTicks {
			return stored, nil
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}
		return stored, err
	}
	return stored, nil
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
