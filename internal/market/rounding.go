package market

import (
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// RoundToStep rounds value to a multiple of step. RoundUp and RoundDown move
// away from and toward zero; RoundHalfUp goes to the nearest multiple with
// ties away from zero.
func RoundToStep(value, step decimal.Decimal, mode trading.RoundingMode) (decimal.Decimal, bool) {
	if step.Sign() <= 0 {
		return decimal.Zero, false
	}
	units, rem := value.QuoRem(step, 0)
	if !rem.IsZero() {
		away := false
		switch mode {
		case trading.RoundUp:
			away = true
		case trading.RoundHalfUp:
			away = rem.Abs().Mul(two).GreaterThanOrEqual(step)
		}
		if away {
			if value.Sign() > 0 {
				units = units.Add(decimal.NewFromInt(1))
			} else {
				units = units.Sub(decimal.NewFromInt(1))
			}
		}
	}
	return units.Mul(step), true
}
