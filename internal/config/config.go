package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Trading   TradingConfig   `yaml:"trading"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Markets   []MarketConfig  `yaml:"markets"`
	Feed      FeedConfig      `yaml:"feed"`
	Venue     VenueConfig     `yaml:"venue"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TradingConfig struct {
	Active   *bool               `yaml:"active"`
	Interval time.Duration       `yaml:"interval"`
	Threads  int                 `yaml:"threads"`
	Targets  map[string][]string `yaml:"targets"`
	Defaults ParamsConfig        `yaml:"defaults"`
	// Sites and Instruments override Defaults; Instruments are keyed
	// "site:instrument" and win over Sites.
	Sites       map[string]ParamsConfig `yaml:"sites"`
	Instruments map[string]ParamsConfig `yaml:"instruments"`
}

func (c TradingConfig) ActiveValue() bool {
	if c.Active == nil {
		return true
	}
	return *c.Active
}

// ParamsConfig holds the per-cycle request parameters. Nil fields fall back
// to the next layer. Decimals are strings to keep them exact.
type ParamsConfig struct {
	Spread                    *string           `yaml:"spread"`
	SpreadAsk                 *string           `yaml:"spread_ask"`
	SpreadBid                 *string           `yaml:"spread_bid"`
	Exposure                  *string           `yaml:"exposure"`
	Aversion                  *string           `yaml:"aversion"`
	Sigma                     *string           `yaml:"sigma"`
	Samples                   *int              `yaml:"samples"`
	Split                     *int              `yaml:"split"`
	Duration                  *time.Duration    `yaml:"duration"`
	FundingOffset             *string           `yaml:"funding_offset"`
	FundingPositiveMultiplier *string           `yaml:"funding_positive_multiplier"`
	FundingNegativeMultiplier *string           `yaml:"funding_negative_multiplier"`
	FundingMultiplierProducts map[string]string `yaml:"funding_multiplier_products"`
	HedgeProducts             map[string]string `yaml:"hedge_products"`
}

// EstimatorConfig selects the fair price estimator. Without components a
// single mid estimator is used; otherwise the components are blended.
type EstimatorConfig struct {
	Confidence string                     `yaml:"confidence"`
	MaxAge     time.Duration              `yaml:"max_age"`
	Components []EstimatorComponentConfig `yaml:"components"`
}

type EstimatorComponentConfig struct {
	Type       string `yaml:"type"`
	Weight     string `yaml:"weight"`
	Confidence string `yaml:"confidence"`
}

// MarketConfig describes one tradable pair and its opening balances.
type MarketConfig struct {
	Site       string `yaml:"site"`
	Instrument string `yaml:"instrument"`
	Tick       string `yaml:"tick"`
	Lot        string `yaml:"lot"`
	Commission string `yaml:"commission"`
	Marginable bool   `yaml:"marginable"`
	Funding    string `yaml:"funding"`
	Position   string `yaml:"position"`
}

type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type VenueConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	// OrderRetention bounds how long placement records survive a restart.
	OrderRetention time.Duration `yaml:"order_retention"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (c MetricsConfig) EnabledValue() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Trading.Interval == 0 {
		cfg.Trading.Interval = 5 * time.Second
	}
	if cfg.Trading.Threads == 0 {
		cfg.Trading.Threads = 4
	}
	if cfg.Estimator.Confidence == "" {
		cfg.Estimator.Confidence = "1"
	}
	for i := range cfg.Estimator.Components {
		component := &cfg.Estimator.Components[i]
		if component.Weight == "" {
			component.Weight = "1"
		}
		if component.Confidence == "" {
			component.Confidence = cfg.Estimator.Confidence
		}
	}
	if cfg.Venue.OrderRetention == 0 {
		cfg.Venue.OrderRetention = 24 * time.Hour
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Venue.RetryAttempts == 0 {
		cfg.Venue.RetryAttempts = 3
	}
	if cfg.Venue.RetryBackoff == 0 {
		cfg.Venue.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/mm-quote-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.Interval < 0 {
		return errors.New("trading.interval must be >= 0")
	}
	if cfg.Trading.Threads < 0 {
		return errors.New("trading.threads must be >= 0")
	}
	if len(cfg.Trading.Targets) == 0 {
		return errors.New("trading.targets is required")
	}
	if err := validateParams("trading.defaults", cfg.Trading.Defaults); err != nil {
		return err
	}
	for site, params := range cfg.Trading.Sites {
		if err := validateParams("trading.sites."+site, params); err != nil {
			return err
		}
	}
	for key, params := range cfg.Trading.Instruments {
		if !strings.Contains(key, ":") {
			return fmt.Errorf("trading.instruments key %q must be site:instrument", key)
		}
		if err := validateParams("trading.instruments."+key, params); err != nil {
			return err
		}
	}
	if err := validateEstimator(cfg.Estimator); err != nil {
		return err
	}
	if cfg.Venue.OrderRetention < 0 {
		return errors.New("venue.order_retention must be >= 0")
	}
	seen := make(map[string]bool, len(cfg.Markets))
	for i, m := range cfg.Markets {
		if strings.TrimSpace(m.Site) == "" || strings.TrimSpace(m.Instrument) == "" {
			return fmt.Errorf("markets[%d]: site and instrument are required", i)
		}
		id := m.Site + ":" + m.Instrument
		if seen[id] {
			return fmt.Errorf("markets[%d]: duplicate market %s", i, id)
		}
		seen[id] = true
		for _, field := range []struct {
			name     string
			value    string
			positive bool
		}{
			{"tick", m.Tick, true},
			{"lot", m.Lot, true},
			{"commission", m.Commission, false},
			{"funding", m.Funding, false},
			{"position", m.Position, false},
		} {
			if field.value == "" && !field.positive {
				continue
			}
			v, err := decimal.NewFromString(field.value)
			if err != nil {
				return fmt.Errorf("markets[%d].%s: %w", i, field.name, err)
			}
			if field.positive && v.Sign() <= 0 {
				return fmt.Errorf("markets[%d].%s must be > 0", i, field.name)
			}
		}
	}
	for site, instruments := range cfg.Trading.Targets {
		for _, instrument := range instruments {
			if !seen[site+":"+instrument] {
				return fmt.Errorf("trading target %s:%s has no market", site, instrument)
			}
		}
	}
	if cfg.Feed.Enabled && strings.TrimSpace(cfg.Feed.URL) == "" {
		return errors.New("feed.url is required when feed is enabled")
	}
	return nil
}

func validateParams(path string, p ParamsConfig) error {
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"spread", p.Spread},
		{"spread_ask", p.SpreadAsk},
		{"spread_bid", p.SpreadBid},
		{"exposure", p.Exposure},
		{"aversion", p.Aversion},
		{"sigma", p.Sigma},
		{"funding_offset", p.FundingOffset},
		{"funding_positive_multiplier", p.FundingPositiveMultiplier},
		{"funding_negative_multiplier", p.FundingNegativeMultiplier},
	} {
		if field.value == nil {
			continue
		}
		if _, err := decimal.NewFromString(*field.value); err != nil {
			return fmt.Errorf("%s.%s: %w", path, field.name, err)
		}
	}
	if p.Split != nil && *p.Split < 1 {
		return fmt.Errorf("%s.split must be >= 1", path)
	}
	if p.Duration != nil && *p.Duration < 0 {
		return fmt.Errorf("%s.duration must be >= 0", path)
	}
	return nil
}

// Estimator component types.
const (
	EstimatorMid  = "mid"
	EstimatorLast = "last"
)

func validateEstimator(cfg EstimatorConfig) error {
	if err := validateConfidence("estimator.confidence", cfg.Confidence); err != nil {
		return err
	}
	if cfg.MaxAge < 0 {
		return errors.New("estimator.max_age must be >= 0")
	}
	for i, component := range cfg.Components {
		name := fmt.Sprintf("estimator.components[%d]", i)
		switch component.Type {
		case EstimatorMid, EstimatorLast:
		default:
			return fmt.Errorf("%s: unknown type %q", name, component.Type)
		}
		weight, err := decimal.NewFromString(component.Weight)
		if err != nil {
			return fmt.Errorf("%s.weight: %w", name, err)
		}
		if weight.Sign() < 0 {
			return fmt.Errorf("%s.weight must be >= 0", name)
		}
		if err := validateConfidence(name+".confidence", component.Confidence); err != nil {
			return err
		}
	}
	return nil
}

func validateConfidence(name, raw string) error {
	confidence, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if confidence.Sign() <= 0 || confidence.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in (0, 1]", name)
	}
	return nil
}
