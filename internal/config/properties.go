package config

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Properties serves the loaded configuration to the trading loop, the
// pipeline and the agent dispatcher. Parameters resolve instrument first,
// then site, then defaults.
type Properties struct {
	cfg    *Config
	active atomic.Bool
	now    func() time.Time
}

func NewProperties(cfg *Config) *Properties {
	p := &Properties{cfg: cfg, now: time.Now}
	p.active.Store(cfg.Trading.ActiveValue())
	return p
}

func (p *Properties) Now() time.Time {
	return p.now()
}

func (p *Properties) TradingActive() bool {
	return p.active.Load()
}

// SetTradingActive flips the global trading switch at runtime.
func (p *Properties) SetTradingActive(active bool) {
	p.active.Store(active)
}

func (p *Properties) TradingInterval() (time.Duration, bool) {
	if p.cfg.Trading.Interval <= 0 {
		return 0, false
	}
	return p.cfg.Trading.Interval, true
}

func (p *Properties) TradingThreads() int {
	return p.cfg.Trading.Threads
}

// TradingTargets returns a copy of the configured site to instruments map.
func (p *Properties) TradingTargets() map[string][]string {
	out := make(map[string][]string, len(p.cfg.Trading.Targets))
	for site, instruments := range p.cfg.Trading.Targets {
		out[site] = append([]string(nil), instruments...)
	}
	return out
}

// Sites lists the configured target sites in order.
func (p *Properties) Sites() []string {
	sites := make([]string, 0, len(p.cfg.Trading.Targets))
	for site := range p.cfg.Trading.Targets {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}

func (p *Properties) layers(site, instrument string) []ParamsConfig {
	layers := make([]ParamsConfig, 0, 3)
	if params, ok := p.cfg.Trading.Instruments[site+":"+instrument]; ok {
		layers = append(layers, params)
	}
	if params, ok := p.cfg.Trading.Sites[site]; ok {
		layers = append(layers, params)
	}
	return append(layers, p.cfg.Trading.Defaults)
}

func (p *Properties) decimalParam(site, instrument string, field func(ParamsConfig) *string) (decimal.Decimal, bool) {
	for _, layer := range p.layers(site, instrument) {
		if raw := field(layer); raw != nil {
			v, err := decimal.NewFromString(*raw)
			if err != nil {
				return decimal.Zero, false
			}
			return v, true
		}
	}
	return decimal.Zero, false
}

func (p *Properties) intParam(site, instrument string, field func(ParamsConfig) *int) (int, bool) {
	for _, layer := range p.layers(site, instrument) {
		if v := field(layer); v != nil {
			return *v, true
		}
	}
	return 0, false
}

func (p *Properties) productsParam(site, instrument string, field func(ParamsConfig) map[string]string) (map[string]string, bool) {
	for _, layer := range p.layers(site, instrument) {
		if v := field(layer); v != nil {
			return v, true
		}
	}
	// An unconfigured mapping is an empty mapping.
	return map[string]string{}, true
}

func (p *Properties) TradingSpread(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.Spread })
}

func (p *Properties) TradingSpreadAsk(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.SpreadAsk })
}

func (p *Properties) TradingSpreadBid(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.SpreadBid })
}

func (p *Properties) TradingExposure(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.Exposure })
}

func (p *Properties) TradingAversion(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.Aversion })
}

func (p *Properties) TradingSigma(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.Sigma })
}

func (p *Properties) TradingSamples(site, instrument string) (int, bool) {
	return p.intParam(site, instrument, func(c ParamsConfig) *int { return c.Samples })
}

func (p *Properties) TradingSplit(site, instrument string) (int, bool) {
	return p.intParam(site, instrument, func(c ParamsConfig) *int { return c.Split })
}

func (p *Properties) TradingDuration(site, instrument string) (time.Duration, bool) {
	for _, layer := range p.layers(site, instrument) {
		if layer.Duration != nil {
			return *layer.Duration, true
		}
	}
	return 0, false
}

func (p *Properties) FundingOffset(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.FundingOffset })
}

func (p *Properties) FundingPositiveMultiplier(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.FundingPositiveMultiplier })
}

func (p *Properties) FundingNegativeMultiplier(site, instrument string) (decimal.Decimal, bool) {
	return p.decimalParam(site, instrument, func(c ParamsConfig) *string { return c.FundingNegativeMultiplier })
}

func (p *Properties) FundingMultiplierProducts(site, instrument string) (map[string]string, bool) {
	return p.productsParam(site, instrument, func(c ParamsConfig) map[string]string { return c.FundingMultiplierProducts })
}

func (p *Properties) HedgeProducts(site, instrument string) (map[string]string, bool) {
	return p.productsParam(site, instrument, func(c ParamsConfig) map[string]string { return c.HedgeProducts })
}
