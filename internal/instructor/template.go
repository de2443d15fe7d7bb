// Package instructor turns an Advice into order instructions against the
// orders already resting on the venue.
package instructor

import (
	"context"

	"mm-quote-bot/internal/trading"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Template splits each side of the advice into TradingSplit equal lot-rounded
// slices. Resting orders that already match a slice are kept; the others are
// cancelled. A side with no price or size cancels its resting orders.
type Template struct {
	log   *zap.Logger
	newID func() string
}

func NewTemplate(log *zap.Logger) *Template {
	if log == nil {
		log = zap.NewNop()
	}
	return &Template{log: log, newID: uuid.NewString}
}

func (t *Template) Instruct(_ context.Context, market trading.Market, req *trading.Request, advice trading.Advice) []trading.Instruction {
	if market == nil || trading.IsInvalid(req) {
		return nil
	}
	key := req.Key()
	orders := market.ListActiveOrders(key)

	var cancels, creates []trading.Instruction
	for _, side := range []struct {
		signum int64
		price  decimal.NullDecimal
		size   decimal.NullDecimal
	}{
		{trading.SignumBuy, advice.BuyLimitPrice, advice.BuyLimitSize},
		{trading.SignumSell, advice.SellLimitPrice, advice.SellLimitSize},
	} {
		resting := sideOrders(orders, side.signum)
		slices := t.slices(market, req, side.price, side.size, side.signum)
		c, n := t.diff(resting, slices)
		cancels = append(cancels, c...)
		creates = append(creates, n...)
	}

	t.log.Debug("instructions",
		zap.Stringer("key", key),
		zap.Int("cancels", len(cancels)),
		zap.Int("creates", len(creates)),
	)
	return append(cancels, creates...)
}

// slices returns the signed order quantities wanted for one side.
func (t *Template) slices(market trading.Market, req *trading.Request, price, size decimal.NullDecimal, signum int64) []trading.Order {
	if !price.Valid || !size.Valid || price.Decimal.Sign() <= 0 || size.Decimal.Sign() <= 0 {
		return nil
	}
	split := req.TradingSplit
	if split < 1 {
		split = 1
	}
	each := size.Decimal.DivRound(decimal.NewFromInt(int64(split)), trading.Scale)
	each, ok := market.RoundLotSize(req.Key(), each, trading.RoundDown)
	if !ok || each.Sign() <= 0 {
		return nil
	}
	quantity := each.Mul(decimal.NewFromInt(signum))
	out := make([]trading.Order, split)
	for i := range out {
		out[i] = trading.Order{Price: price.Decimal, Quantity: quantity}
	}
	return out
}

func (t *Template) diff(resting, wanted []trading.Order) (cancels, creates []trading.Instruction) {
	used := make([]bool, len(resting))
	for _, want := range wanted {
		matched := false
		for i, order := range resting {
			if used[i] || !order.Price.Equal(want.Price) || !order.Quantity.Equal(want.Quantity) {
				continue
			}
			used[i] = true
			matched = true
			break
		}
		if !matched {
			creates = append(creates, &trading.CreateInstruction{ID: t.newID(), Price: want.Price, Size: want.Quantity})
		}
	}
	for i, order := range resting {
		if !used[i] {
			cancels = append(cancels, &trading.CancelInstruction{ID: t.newID(), OrderID: order.ID})
		}
	}
	return cancels, creates
}

func sideOrders(orders []trading.Order, signum int64) []trading.Order {
	var out []trading.Order
	for _, order := range orders {
		if int64(order.Quantity.Sign()) == signum {
			out = append(out, order)
		}
	}
	return out
}
