package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/propdesk/config"
	"github.com/rustyeddy/propdesk/events"
	"github.com/rustyeddy/propdesk/feed"
	"github.com/rustyeddy/propdesk/journal"
	"github.com/rustyeddy/propdesk/pkg/clock"
	"github.com/rustyeddy/propdesk/pkg/logging"
	"github.com/rustyeddy/propdesk/pricing"
	"github.com/rustyeddy/propdesk/sim"
)

var rootCmd = &cobra.Command{
	Use:   "propdesk",
	Short: "Risk and position engine for prop-trading challenge accounts",
	Long: `Propdesk tracks simulated prop-firm challenge accounts.

It provides tools for:
  - Creating challenges and the accounts that attempt them
  - Opening, closing and modifying trades with margin checks
  - Daily and overall drawdown enforcement and phase advancement
  - A position monitor that closes trades at stop-loss or take-profit
  - Exporting account history to CSV`,
	SilenceUsage: true,
}

var (
	configPath string
	envFiles   []string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env)")
}

// app is what most commands need: loaded config, a logger and an engine
// over the SQLite journal.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *journal.SQLite
	clock  clock.Clock
	feed   pricing.Feed
	engine *sim.Engine
	// stream is set when quotes arrive over a long-lived connection and
	// must be running for feed to have prices.
	stream func(ctx context.Context) error
}

func newApp(pub events.Publisher) (*app, error) {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Trading.Location()
	if err != nil {
		return nil, err
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	store, err := journal.NewSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	clk := clock.System{Loc: loc}
	prices, stream, err := newFeed(cfg.PriceFeed, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	if pub == nil {
		pub = events.Nop{}
	}
	eng := sim.NewEngine(store,
		sim.WithClock(clk),
		sim.WithLogger(log),
		sim.WithPublisher(pub),
		sim.WithPrices(prices),
	)
	return &app{cfg: cfg, log: log, store: store, clock: clk, feed: prices, engine: eng, stream: stream}, nil
}

func newFeed(pf config.PriceFeedConfig, log *slog.Logger) (pricing.Feed, func(context.Context) error, error) {
	switch pf.Provider {
	case config.ProviderOanda, config.ProviderOandaStream:
		rest, streamURL, err := feed.OandaBaseURLs(pf.OandaEnv)
		if err != nil {
			return nil, nil, err
		}
		oa := feed.NewOanda(feed.OandaOptions{
			AccountID:     pf.OandaAccountID,
			Token:         pf.Token,
			RestURL:       rest,
			StreamURL:     streamURL,
			Timeout:       pf.Timeout,
			RatePerSecond: pf.RatePerSecond,
			Burst:         pf.Burst,
		})
		if pf.Provider == config.ProviderOanda {
			return oa, nil, nil
		}
		quotes := pricing.NewQuoteStore()
		return quotes, func(ctx context.Context) error {
			for {
				n, err := oa.Stream(ctx, pf.Symbols, quotes, 0)
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("price stream ended, reconnecting", "quotes", n, "error", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(5 * time.Second):
				}
			}
		}, nil
	default:
		return feed.NewClient(pf.URL, feed.Options{
			Token:         pf.Token,
			Timeout:       pf.Timeout,
			RatePerSecond: pf.RatePerSecond,
			Burst:         pf.Burst,
		}), nil, nil
	}
}

func (a *app) Close() error { return a.store.Close() }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
