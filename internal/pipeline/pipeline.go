// Package pipeline runs one quoting cycle for a single site and instrument:
// estimate, advise, instruct, manage and reconcile, strictly in that order.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"mm-quote-bot/internal/metrics"
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Properties supplies every request field for a site and instrument. A false
// second return means the value is not configured; a zero Now means the clock
// is unavailable.
type Properties interface {
	Now() time.Time
	TradingSpread(site, instrument string) (decimal.Decimal, bool)
	TradingSpreadAsk(site, instrument string) (decimal.Decimal, bool)
	TradingSpreadBid(site, instrument string) (decimal.Decimal, bool)
	TradingExposure(site, instrument string) (decimal.Decimal, bool)
	TradingAversion(site, instrument string) (decimal.Decimal, bool)
	TradingSigma(site, instrument string) (decimal.Decimal, bool)
	TradingSamples(site, instrument string) (int, bool)
	TradingSplit(site, instrument string) (int, bool)
	TradingDuration(site, instrument string) (time.Duration, bool)
	FundingOffset(site, instrument string) (decimal.Decimal, bool)
	FundingMultiplierProducts(site, instrument string) (map[string]string, bool)
	FundingPositiveMultiplier(site, instrument string) (decimal.Decimal, bool)
	FundingNegativeMultiplier(site, instrument string) (decimal.Decimal, bool)
	HedgeProducts(site, instrument string) (map[string]string, bool)
}

// Cycle summarises one completed pipeline run.
type Cycle struct {
	Request      *trading.Request
	Estimation   trading.Estimation
	Advice       trading.Advice
	Instructions int
	Managed      int
	Reconciled   int
}

// Recorder observes completed cycles. Implementations must not block.
type Recorder interface {
	Record(ctx context.Context, cycle Cycle)
}

type Stages struct {
	Estimator  trading.Estimator
	Adviser    trading.Adviser
	Instructor trading.Instructor
	Agent      trading.Agent
}

type Pipeline struct {
	props     Properties
	market    trading.Market
	stages    Stages
	recorders []Recorder
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(props Properties, market trading.Market, stages Stages, m *metrics.Metrics, log *zap.Logger) (*Pipeline, error) {
	if props == nil {
		return nil, errors.New("pipeline properties are required")
	}
	if stages.Estimator == nil || stages.Adviser == nil || stages.Instructor == nil || stages.Agent == nil {
		return nil, errors.New("pipeline requires estimator, adviser, instructor and agent")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		props:   props,
		market:  market,
		stages:  stages,
		metrics: metrics.OrNoop(m),
		log:     log,
	}, nil
}

// AddRecorder registers r. It must be called before the first Process.
func (p *Pipeline) AddRecorder(r Recorder) {
	if r != nil {
		p.recorders = append(p.recorders, r)
	}
}

// Process runs one cycle. Incomplete configuration or inputs skip the cycle
// without touching any stage.
func (p *Pipeline) Process(ctx context.Context, target time.Time, site, instrument string) {
	req, ok := p.CreateRequest(target, site, instrument)
	if !ok {
		p.metrics.RequestsSkipped.Inc()
		p.log.Debug("request skipped",
			zap.String("site", site),
			zap.String("instrument", instrument),
			zap.Time("target", target),
		)
		return
	}

	estimation := p.stages.Estimator.Estimate(ctx, p.market, req)
	advice := p.stages.Adviser.Advise(p.market, req, estimation)
	if advice.BuyLimitPrice.Valid || advice.SellLimitPrice.Valid {
		p.metrics.QuotesAdvised.Inc()
	}
	instructions := p.stages.Instructor.Instruct(ctx, p.market, req, advice)
	managed := p.stages.Agent.Manage(ctx, p.market, req, instructions)
	reconciled := p.stages.Agent.Reconcile(ctx, p.market, req, managed)

	done := 0
	for _, ok := range reconciled {
		if ok {
			done++
		}
	}
	p.metrics.InstructionsManaged.Add(float64(len(managed)))
	p.metrics.InstructionsReconciled.Add(float64(done))

	cycle := Cycle{
		Request:      req,
		Estimation:   estimation,
		Advice:       advice,
		Instructions: len(instructions),
		Managed:      len(managed),
		Reconciled:   done,
	}
	for _, r := range p.recorders {
		r.Record(ctx, cycle)
	}
	p.log.Debug("cycle processed",
		zap.Stringer("key", req.Key()),
		zap.Int("instructions", cycle.Instructions),
		zap.Int("managed", cycle.Managed),
		zap.Int("reconciled", cycle.Reconciled),
	)
}

// CreateRequest snapshots the configuration for one cycle. Every field is
// required; any missing value yields no request.
func (p *Pipeline) CreateRequest(target time.Time, site, instrument string) (*trading.Request, bool) {
	if target.IsZero() || strings.TrimSpace(site) == "" || strings.TrimSpace(instrument) == "" {
		return nil, false
	}
	now := p.props.Now()
	if now.IsZero() {
		return nil, false
	}
	req := &trading.Request{
		Site:        site,
		Instrument:  instrument,
		CurrentTime: now,
		TargetTime:  target,
	}
	var valid bool
	if req.TradingSpread, valid = required(p.props.TradingSpread(site, instrument)); !valid {
		return nil, false
	}
	if req.TradingSpreadAsk, valid = required(p.props.TradingSpreadAsk(site, instrument)); !valid {
		return nil, false
	}
	if req.TradingSpreadBid, valid = required(p.props.TradingSpreadBid(site, instrument)); !valid {
		return nil, false
	}
	if req.TradingExposure, valid = required(p.props.TradingExposure(site, instrument)); !valid {
		return nil, false
	}
	if req.TradingAversion, valid = required(p.props.TradingAversion(site, instrument)); !valid {
		return nil, false
	}
	if req.TradingSigma, valid = required(p.props.TradingSigma(site, instrument)); !valid {
		return nil, false
	}
	if req.TradingSamples, valid = p.props.TradingSamples(site, instrument); !valid {
		return nil, false
	}
	if req.TradingSplit, valid = p.props.TradingSplit(site, instrument); !valid {
		return nil, false
	}
	if req.TradingDuration, valid = p.props.TradingDuration(site, instrument); !valid {
		return nil, false
	}
	if req.FundingOffset, valid = required(p.props.FundingOffset(site, instrument)); !valid {
		return nil, false
	}
	products, valid := p.props.FundingMultiplierProducts(site, instrument)
	if !valid {
		return nil, false
	}
	req.FundingMultiplierProducts = copyProducts(products)
	if req.FundingPositiveMultiplier, valid = required(p.props.FundingPositiveMultiplier(site, instrument)); !valid {
		return nil, false
	}
	if req.FundingNegativeMultiplier, valid = required(p.props.FundingNegativeMultiplier(site, instrument)); !valid {
		return nil, false
	}
	hedges, valid := p.props.HedgeProducts(site, instrument)
	if !valid {
		return nil, false
	}
	req.HedgeProducts = copyProducts(hedges)
	return req, true
}

func required(value decimal.Decimal, ok bool) (decimal.NullDecimal, bool) {
	if !ok {
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(value), true
}

func copyProducts(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
