package adviser

import (
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adjuster is a pure transform applied at one of the extension points of the
// quote algorithm. It must not mutate its inputs.
type Adjuster func(market trading.Market, req *trading.Request, value decimal.Decimal) decimal.Decimal

type Option func(*Adviser)

func identity(_ trading.Market, _ *trading.Request, value decimal.Decimal) decimal.Decimal {
	return value
}

// WithBasisAdjuster biases the base basis (2*commission + spread).
func WithBasisAdjuster(fn Adjuster) Option {
	return func(a *Adviser) {
		if fn != nil {
			a.adjustBasis = fn
		}
	}
}

func WithBuyBoundaryAdjuster(fn Adjuster) Option {
	return func(a *Adviser) {
		if fn != nil {
			a.adjustBuyBoundary = fn
		}
	}
}

func WithSellBoundaryAdjuster(fn Adjuster) Option {
	return func(a *Adviser) {
		if fn != nil {
			a.adjustSellBoundary = fn
		}
	}
}

func WithBuySizeAdjuster(fn Adjuster) Option {
	return func(a *Adviser) {
		if fn != nil {
			a.adjustBuySize = fn
		}
	}
}

func WithSellSizeAdjuster(fn Adjuster) Option {
	return func(a *Adviser) {
		if fn != nil {
			a.adjustSellSize = fn
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(a *Adviser) {
		if log != nil {
			a.log = log
		}
	}
}
