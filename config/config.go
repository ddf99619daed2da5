// Package config loads propdesk settings from a YAML (or JSON) file, an
// optional .env file and PROPDESK_* environment variables, in that order of
// increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/propdesk/broker"
)

// EnvPrefix prefixes every environment override, e.g.
// PROPDESK_MONITOR_INTERVAL or PROPDESK_DATABASE_PATH.
const EnvPrefix = "PROPDESK"

type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
	PriceFeed PriceFeedConfig `json:"price_feed" yaml:"price_feed" split_words:"true"`
	Trading   TradingConfig   `json:"trading" yaml:"trading"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

type MonitorConfig struct {
	Interval         time.Duration `json:"interval" yaml:"interval"`
	FetchTimeout     time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" split_words:"true"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" split_words:"true"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
	DemoAccountID    string        `json:"demo_account_id,omitempty" yaml:"demo_account_id,omitempty" split_words:"true"`
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval" split_words:"true"`
	RolloverInterval time.Duration `json:"rollover_interval" yaml:"rollover_interval" split_words:"true"`
}

// Feed providers.
const (
	ProviderHTTP        = "http"
	ProviderOanda       = "oanda"
	ProviderOandaStream = "oanda_stream"
)

type PriceFeedConfig struct {
	// Provider is http (the batched price service), oanda (pricing
	// snapshots) or oanda_stream (streamed into an in-memory quote store).
	Provider      string        `json:"provider" yaml:"provider"`
	URL           string        `json:"url" yaml:"url"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	RatePerSecond float64       `json:"rate_per_second" yaml:"rate_per_second" split_words:"true"`
	Burst         int           `json:"burst" yaml:"burst"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`

	OandaAccountID string `json:"oanda_account_id,omitempty" yaml:"oanda_account_id,omitempty" split_words:"true"`
	OandaEnv       string `json:"oanda_env,omitempty" yaml:"oanda_env,omitempty" split_words:"true"`
	// Symbols the stream subscribes to.
	Symbols []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
}

type TradingConfig struct {
	// Platform is the default for new accounts: mt5, bybit or spot.
	Platform string `json:"platform" yaml:"platform"`
	// Timezone decides where a trading day starts and ends.
	Timezone string `json:"timezone" yaml:"timezone"`
}

// Location loads Timezone; empty means UTC.
func (t TradingConfig) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(t.Timezone)
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics; empty disables the endpoint.
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./propdesk.db"},
		Monitor: MonitorConfig{
			Interval:         time.Second,
			FetchTimeout:     5 * time.Second,
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
			SnapshotInterval: time.Minute,
			RolloverInterval: time.Minute,
		},
		PriceFeed: PriceFeedConfig{
			Provider:      ProviderHTTP,
			URL:           "http://localhost:8081",
			RatePerSecond: 5,
			Burst:         5,
			Timeout:       5 * time.Second,
		},
		Trading: TradingConfig{
			Platform: string(broker.PlatformMT5),
			Timezone: "UTC",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load builds the configuration: defaults, then path if non-empty, then
// envFiles (".env" when none are given; a missing file is not an error),
// then PROPDESK_* variables.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (YAML, or JSON as fallback)
// over the defaults. The environment is not consulted.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := readFile(path, Default())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	m := c.Monitor
	if m.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if m.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be positive")
	}
	if m.FailureThreshold < 1 {
		return fmt.Errorf("monitor.failure_threshold must be at least 1")
	}
	if m.Cooldown <= 0 {
		return fmt.Errorf("monitor.cooldown must be positive")
	}
	if m.SnapshotInterval <= 0 || m.RolloverInterval <= 0 {
		return fmt.Errorf("monitor snapshot_interval and rollover_interval must be positive")
	}

	pf := c.PriceFeed
	switch pf.Provider {
	case "", ProviderHTTP:
		if pf.URL == "" {
			return fmt.Errorf("price_feed.url is required")
		}
	case ProviderOanda, ProviderOandaStream:
		if pf.OandaAccountID == "" || pf.Token == "" {
			return fmt.Errorf("price_feed.oanda_account_id and price_feed.token are required for %s", pf.Provider)
		}
		switch strings.ToLower(pf.OandaEnv) {
		case "", "practice", "demo", "live":
		default:
			return fmt.Errorf("price_feed.oanda_env must be practice or live")
		}
		if pf.Provider == ProviderOandaStream && len(pf.Symbols) == 0 {
			return fmt.Errorf("price_feed.symbols is required for %s", pf.Provider)
		}
	default:
		return fmt.Errorf("price_feed.provider must be one of http, oanda, oanda_stream; got %q", pf.Provider)
	}
	if c.PriceFeed.RatePerSecond < 0 {
		return fmt.Errorf("price_feed.rate_per_second must not be negative")
	}

	switch broker.Platform(c.Trading.Platform) {
	case broker.PlatformMT5, broker.PlatformBybit, broker.PlatformSpot:
	default:
		return fmt.Errorf("trading.platform must be one of mt5, bybit, spot; got %q", c.Trading.Platform)
	}
	if _, err := c.Trading.Location(); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}
	return nil
}
