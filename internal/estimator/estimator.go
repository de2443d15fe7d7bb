// Package estimator produces fair price estimates consumed by the adviser.
package estimator

import (
	"context"
	"time"

	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UpdateTracker is implemented by markets that know when a pair's book last
// changed.
type UpdateTracker interface {
	LastUpdate(key trading.Key) (time.Time, bool)
}

// Mid estimates the fair price as the current mid with a fixed confidence.
// With a positive max age the estimate is absent once the book is older than
// that, so a dead feed stops quoting.
type Mid struct {
	confidence decimal.Decimal
	maxAge     time.Duration
	now        func() time.Time
}

func NewMid(confidence decimal.Decimal, maxAge time.Duration) *Mid {
	return &Mid{confidence: confidence, maxAge: maxAge, now: time.Now}
}

func (m *Mid) Estimate(_ context.Context, market trading.Market, req *trading.Request) trading.Estimation {
	if market == nil || trading.IsInvalid(req) {
		return trading.Estimation{}
	}
	key := req.Key()
	if m.stale(market, key) {
		return trading.Estimation{}
	}
	mid, ok := market.MidPrice(key)
	if !ok {
		return trading.Estimation{}
	}
	return trading.Estimation{
		Price:      decimal.NewNullDecimal(mid),
		Confidence: decimal.NewNullDecimal(m.confidence),
	}
}

func (m *Mid) stale(market trading.Market, key trading.Key) bool {
	if m.maxAge <= 0 {
		return false
	}
	tracker, ok := market.(UpdateTracker)
	if !ok {
		return false
	}
	updated, ok := tracker.LastUpdate(key)
	return !ok || m.now().Sub(updated) > m.maxAge
}

// Last estimates the fair price as the most recent execution price.
type Last struct {
	confidence decimal.Decimal
}

func NewLast(confidence decimal.Decimal) *Last {
	return &Last{confidence: confidence}
}

func (l *Last) Estimate(_ context.Context, market trading.Market, req *trading.Request) trading.Estimation {
	if market == nil || trading.IsInvalid(req) {
		return trading.Estimation{}
	}
	var (
		latest trading.Execution
		found  bool
	)
	for _, exec := range market.ListExecutions(req.Key()) {
		if exec.Price.Sign() <= 0 {
			continue
		}
		if !found || exec.Time.After(latest.Time) {
			latest, found = exec, true
		}
	}
	if !found {
		return trading.Estimation{}
	}
	return trading.Estimation{
		Price:      decimal.NewNullDecimal(latest.Price),
		Confidence: decimal.NewNullDecimal(l.confidence),
	}
}

// Weighted pairs an estimator with its weight inside a Composite.
type Weighted struct {
	Estimator trading.Estimator
	Weight    decimal.Decimal
}

// Composite blends several estimators. The price is the confidence and
// weight weighted average of the usable estimates; the confidence is the
// weighted average confidence over every component with positive weight.
type Composite struct {
	components []Weighted
	log        *zap.Logger
}

func NewComposite(log *zap.Logger, components ...Weighted) *Composite {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composite{components: components, log: log}
}

func (c *Composite) Estimate(ctx context.Context, market trading.Market, req *trading.Request) trading.Estimation {
	var (
		numerator   = decimal.Zero
		denominator = decimal.Zero
		weights     = decimal.Zero
	)
	for _, component := range c.components {
		if component.Estimator == nil || component.Weight.Sign() <= 0 {
			continue
		}
		weights = weights.Add(component.Weight)
		est := component.Estimator.Estimate(ctx, market, req)
		if !Usable(est) {
			continue
		}
		w := est.Confidence.Decimal.Mul(component.Weight)
		numerator = numerator.Add(est.Price.Decimal.Mul(w))
		denominator = denominator.Add(w)
	}
	if denominator.Sign() <= 0 {
		c.log.Debug("no usable estimate")
		return trading.Estimation{}
	}
	price := numerator.DivRound(denominator, trading.Scale)
	confidence := denominator.DivRound(weights, trading.Scale)
	return trading.Estimation{
		Price:      decimal.NewNullDecimal(price),
		Confidence: decimal.NewNullDecimal(confidence),
	}
}

// Usable reports whether est carries a price and a confidence in (0, 1].
func Usable(est trading.Estimation) bool {
	if !est.Price.Valid || !est.Confidence.Valid {
		return false
	}
	conf := est.Confidence.Decimal
	return conf.Sign() > 0 && conf.LessThanOrEqual(decimal.NewFromInt(1))
}
