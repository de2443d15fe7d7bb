// Package adviser turns a fair price estimate into bid/ask limit quotes.
//
// The computation is pure: every input comes from the market view, the cycle
// request and the estimation, and nothing is cached between calls.
package adviser

import (
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")
)

type Adviser struct {
	id  string
	log *zap.Logger

	adjustBasis        Adjuster
	adjustBuyBoundary  Adjuster
	adjustSellBoundary Adjuster
	adjustBuySize      Adjuster
	adjustSellSize     Adjuster
}

func New(id string, opts ...Option) *Adviser {
	a := &Adviser{
		id:                 id,
		log:                zap.NewNop(),
		adjustBasis:        identity,
		adjustBuyBoundary:  identity,
		adjustSellBoundary: identity,
		adjustBuySize:      identity,
		adjustSellSize:     identity,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adviser) ID() string {
	return a.id
}

func (a *Adviser) Advise(market trading.Market, req *trading.Request, est trading.Estimation) trading.Advice {
	if trading.IsInvalid(req) || market == nil {
		return trading.Advice{}
	}
	weighed, hasWeighed := a.weighedPrice(market, req, est)
	in := a.inputs(market, req)

	var buyPrice, sellPrice decimal.Decimal
	var hasBuyPrice, hasSellPrice bool
	if hasWeighed && in.hasBase {
		buyPrice, hasBuyPrice = a.buyLimitPrice(market, req, in, weighed, a.buyBasis(market, req, in))
		sellPrice, hasSellPrice = a.sellLimitPrice(market, req, in, weighed, a.sellBasis(market, req, in))
	}

	buySize := a.buyLimitSize(market, req, buyPrice, hasBuyPrice)
	sellSize := a.sellLimitSize(market, req, sellPrice, hasSellPrice)

	advice := trading.Advice{
		BuyLimitPrice:  nullable(buyPrice, hasBuyPrice),
		BuyLimitSize:   decimal.NewNullDecimal(buySize),
		SellLimitPrice: nullable(sellPrice, hasSellPrice),
		SellLimitSize:  decimal.NewNullDecimal(sellSize),
	}
	a.log.Debug("advice",
		zap.String("adviser", a.id),
		zap.Stringer("key", req.Key()),
		zap.String("buy_price", nullString(advice.BuyLimitPrice)),
		zap.String("buy_size", buySize.String()),
		zap.String("sell_price", nullString(advice.SellLimitPrice)),
		zap.String("sell_size", sellSize.String()),
	)
	return advice
}

// weighedPrice blends the mid price with the estimate by its confidence.
// Estimates without a price or with confidence outside (0, 1] are rejected.
func (a *Adviser) weighedPrice(market trading.Market, req *trading.Request, est trading.Estimation) (decimal.Decimal, bool) {
	if !est.Price.Valid || !est.Confidence.Valid {
		a.log.Debug("invalid estimation", zap.Stringer("key", req.Key()))
		return decimal.Zero, false
	}
	confidence := est.Confidence.Decimal
	if confidence.Sign() <= 0 || confidence.GreaterThan(one) {
		a.log.Debug("invalid estimation confidence", zap.Stringer("key", req.Key()), zap.String("confidence", confidence.String()))
		return decimal.Zero, false
	}
	mid, ok := market.MidPrice(req.Key())
	if !ok {
		a.log.Debug("weighed price unavailable: no mid", zap.Stringer("key", req.Key()))
		return decimal.Zero, false
	}
	return mid.Mul(one.Sub(confidence)).Add(est.Price.Decimal.Mul(confidence)), true
}

// basis is the round-trip commission plus the configured spread.
func (a *Adviser) basis(market trading.Market, req *trading.Request) (decimal.Decimal, bool) {
	comm, ok := market.CommissionRate(req.Key())
	if !ok {
		a.log.Debug("basis unavailable: no commission", zap.Stringer("key", req.Key()))
		return decimal.Zero, false
	}
	if !req.TradingSpread.Valid {
		a.log.Debug("basis unavailable: no spread", zap.Stringer("key", req.Key()))
		return decimal.Zero, false
	}
	return a.adjustBasis(market, req, req.TradingSpread.Decimal.Add(comm).Add(comm)), true
}

// positionRatio measures inventory skew, scaled by the aversion factor.
//
// Marginable: 2 * equivalent / funding, where half the funding backs one
// side. Leveraged shorts can push the ratio past the aversion factor.
// Spot: 2 * (equivalent - funding) / (equivalent + funding).
func (a *Adviser) positionRatio(market trading.Market, req *trading.Request) (decimal.Decimal, bool) {
	key := req.Key()
	mid, hasMid := market.MidPrice(key)
	funding, hasFunding := market.FundingPosition(key)
	structure, hasStructure := market.InstrumentPosition(key)
	if !hasMid || !hasFunding || !hasStructure {
		a.log.Debug("position ratio unavailable",
			zap.Stringer("key", key),
			zap.Bool("mid", hasMid),
			zap.Bool("funding", hasFunding),
			zap.Bool("instrument", hasStructure),
		)
		return decimal.Zero, false
	}
	adjFunding := funding.Mul(one.Add(orZero(req.FundingOffset)))
	equivalent := structure.Mul(mid)

	var ratio decimal.Decimal
	if market.IsMarginable(key) {
		if adjFunding.IsZero() {
			return decimal.Zero, true
		}
		ratio = equivalent.Add(equivalent).DivRound(adjFunding, trading.Scale)
	} else {
		sum := equivalent.Add(adjFunding)
		if sum.IsZero() {
			return decimal.Zero, true
		}
		diff := equivalent.Sub(adjFunding)
		ratio = diff.Add(diff).DivRound(sum, trading.Scale)
	}
	return ratio.Mul(orOne(req.TradingAversion)).Round(trading.Scale), true
}

// inputs are the values both sides of one Advise call share. The execution
// window is filtered and netted once per call.
type inputs struct {
	base       decimal.Decimal
	hasBase    bool
	ratio      decimal.Decimal
	recentBuy  decimal.Decimal
	hasBuy     bool
	recentSell decimal.Decimal
	hasSell    bool
}

// recent returns the recent price of the requested side.
func (in inputs) recent(signum int) (decimal.Decimal, bool) {
	if signum == trading.SignumBuy {
		return in.recentBuy, in.hasBuy
	}
	return in.recentSell, in.hasSell
}

func (a *Adviser) inputs(market trading.Market, req *trading.Request) inputs {
	var in inputs
	in.base, in.hasBase = a.basis(market, req)
	if ratio, ok := a.positionRatio(market, req); ok {
		in.ratio = ratio
	}
	cutoff := req.CurrentTime.Add(-req.TradingDuration)
	lots := netExecutions(recentExecutions(market.ListExecutions(req.Key()), cutoff, req.CurrentTime))
	in.recentBuy, in.hasBuy = recentPrice(lots, in.base, trading.SignumBuy)
	in.recentSell, in.hasSell = recentPrice(lots, in.base, trading.SignumSell)
	return in
}

// recentPrice returns the basis-adjusted price of the surviving net lots on
// the requested side: the highest for buys, the lowest for sells. An absent
// basis is passed as zero.
func recentPrice(lots []lot, base decimal.Decimal, signum int) (decimal.Decimal, bool) {
	var result decimal.Decimal
	found := false
	for _, l := range lots {
		if l.size.Sign() != signum {
			continue
		}
		switch signum {
		case trading.SignumBuy:
			price := l.price.Mul(one.Add(base))
			if !found || price.GreaterThan(result) {
				result = price
			}
		case trading.SignumSell:
			price := l.price.Mul(one.Sub(base))
			if !found || price.LessThan(result) {
				result = price
			}
		}
		found = true
	}
	return result, found
}

func (a *Adviser) buyLossRatio(market trading.Market, req *trading.Request, in inputs) decimal.Decimal {
	bid, ok := market.BestBidPrice(req.Key())
	if !ok {
		return decimal.Zero
	}
	latest, ok := in.recent(trading.SignumBuy)
	if !ok || latest.IsZero() {
		return decimal.Zero
	}
	loss := decimal.Max(latest.Sub(bid), decimal.Zero)
	ratio := divideUp(loss, latest, trading.Scale)
	return decimal.Max(ratio.Mul(orOne(req.TradingAversion)), decimal.Zero)
}

func (a *Adviser) sellLossRatio(market trading.Market, req *trading.Request, in inputs) decimal.Decimal {
	ask, ok := market.BestAskPrice(req.Key())
	if !ok {
		return decimal.Zero
	}
	latest, ok := in.recent(trading.SignumSell)
	if !ok || latest.IsZero() {
		return decimal.Zero
	}
	loss := decimal.Max(ask.Sub(latest), decimal.Zero)
	ratio := divideUp(loss, latest, trading.Scale)
	return decimal.Max(ratio.Mul(orOne(req.TradingAversion)), decimal.Zero)
}

func (a *Adviser) buyBasis(market trading.Market, req *trading.Request, in inputs) decimal.Decimal {
	positionBase := in.base.Mul(one.Add(decimal.Max(in.ratio, decimal.Zero)))
	return positionBase.Add(a.buyLossRatio(market, req, in))
}

func (a *Adviser) sellBasis(market trading.Market, req *trading.Request, in inputs) decimal.Decimal {
	positionBase := in.base.Mul(one.Add(decimal.Min(in.ratio, decimal.Zero).Abs()))
	return positionBase.Add(a.sellLossRatio(market, req, in))
}

// buyBoundaryPrice is the highest bid allowed: one tick inside the ask, one
// tick above the best bid unless our own order already sits there, and no
// higher than the recent sell price.
func (a *Adviser) buyBoundaryPrice(market trading.Market, req *trading.Request, in inputs) (decimal.Decimal, bool) {
	key := req.Key()
	ask0, ok := market.BestAskPrice(key)
	if !ok {
		return decimal.Zero, false
	}
	ask1, ok := market.RoundTickSize(key, ask0.Sub(trading.Epsilon), trading.RoundDown)
	if !ok {
		return decimal.Zero, false
	}
	recent, ok := in.recent(trading.SignumSell)
	if !ok {
		recent = ask0
	}
	bid0, ok := market.BestBidPrice(key)
	if !ok {
		bid0 = ask0
	}
	bid1 := bid0
	if !hasOrderAt(market.ListActiveOrders(key), trading.SignumBuy, bid0) {
		if rounded, ok := market.RoundTickSize(key, bid0.Add(trading.Epsilon), trading.RoundUp); ok {
			bid1 = rounded
		}
	}
	price := decimal.Min(ask1, bid1, recent)
	return a.adjustBuyBoundary(market, req, price), true
}

func (a *Adviser) sellBoundaryPrice(market trading.Market, req *trading.Request, in inputs) (decimal.Decimal, bool) {
	key := req.Key()
	bid0, ok := market.BestBidPrice(key)
	if !ok {
		return decimal.Zero, false
	}
	bid1, ok := market.RoundTickSize(key, bid0.Add(trading.Epsilon), trading.RoundUp)
	if !ok {
		return decimal.Zero, false
	}
	recent, ok := in.recent(trading.SignumBuy)
	if !ok {
		recent = bid0
	}
	ask0, ok := market.BestAskPrice(key)
	if !ok {
		ask0 = bid0
	}
	ask1 := ask0
	if !hasOrderAt(market.ListActiveOrders(key), trading.SignumSell, ask0) {
		if rounded, ok := market.RoundTickSize(key, ask0.Sub(trading.Epsilon), trading.RoundDown); ok {
			ask1 = rounded
		}
	}
	price := decimal.Max(bid1, ask1, recent)
	return a.adjustSellBoundary(market, req, price), true
}

func (a *Adviser) buyLimitPrice(market trading.Market, req *trading.Request, in inputs, weighed, basis decimal.Decimal) (decimal.Decimal, bool) {
	bound, ok := a.buyBoundaryPrice(market, req, in)
	if !ok {
		a.log.Debug("buy price unavailable: no bound", zap.Stringer("key", req.Key()))
		return decimal.Zero, false
	}
	target := decimal.Min(weighed.Mul(one.Sub(basis)), bound)
	return market.RoundTickSize(req.Key(), target, trading.RoundDown)
}

func (a *Adviser) sellLimitPrice(market trading.Market, req *trading.Request, in inputs, weighed, basis decimal.Decimal) (decimal.Decimal, bool) {
	bound, ok := a.sellBoundaryPrice(market, req, in)
	if !ok {
		a.log.Debug("sell price unavailable: no bound", zap.Stringer("key", req.Key()))
		return decimal.Zero, false
	}
	target := decimal.Max(weighed.Mul(one.Add(basis)), bound)
	return market.RoundTickSize(req.Key(), target, trading.RoundUp)
}

// fundingExposureSize converts the adjusted funding into instrument units at
// price, scaled by the exposure fraction.
func (a *Adviser) fundingExposureSize(market trading.Market, req *trading.Request, price decimal.Decimal, hasPrice bool) decimal.Decimal {
	if !hasPrice || price.IsZero() {
		return decimal.Zero
	}
	fund, ok := market.FundingPosition(req.Key())
	if !ok {
		return decimal.Zero
	}
	adjFund := fund.Mul(one.Add(orZero(req.FundingOffset)))
	return adjFund.DivRound(price, trading.Scale).Mul(orZero(req.TradingExposure))
}

func (a *Adviser) instrumentExposureSize(market trading.Market, req *trading.Request) decimal.Decimal {
	position, ok := market.InstrumentPosition(req.Key())
	if !ok {
		return decimal.Zero
	}
	return position.Mul(orZero(req.TradingExposure))
}

func (a *Adviser) buyLimitSize(market trading.Market, req *trading.Request, price decimal.Decimal, hasPrice bool) decimal.Decimal {
	fundingSize := a.fundingExposureSize(market, req, price, hasPrice)
	instrumentSize := a.instrumentExposureSize(market, req)
	var size decimal.Decimal
	if market.IsMarginable(req.Key()) {
		size = decimal.Max(fundingSize.Sub(instrumentSize), decimal.Zero).Mul(half)
	} else {
		excess := decimal.Max(instrumentSize.Sub(fundingSize), decimal.Zero).Mul(half)
		size = decimal.Max(fundingSize.Sub(excess), decimal.Zero)
	}
	rounded, ok := market.RoundLotSize(req.Key(), size, trading.RoundHalfUp)
	if !ok {
		rounded = decimal.Zero
	}
	return a.adjustBuySize(market, req, rounded)
}

func (a *Adviser) sellLimitSize(market trading.Market, req *trading.Request, price decimal.Decimal, hasPrice bool) decimal.Decimal {
	instrumentSize := a.instrumentExposureSize(market, req)
	fundingSize := a.fundingExposureSize(market, req, price, hasPrice)
	var size decimal.Decimal
	if market.IsMarginable(req.Key()) {
		size = decimal.Max(fundingSize.Add(instrumentSize), decimal.Zero).Mul(half)
	} else {
		excess := decimal.Max(fundingSize.Sub(instrumentSize), decimal.Zero).Mul(half)
		size = decimal.Max(instrumentSize.Sub(excess), decimal.Zero)
	}
	rounded, ok := market.RoundLotSize(req.Key(), size, trading.RoundHalfUp)
	if !ok {
		rounded = decimal.Zero
	}
	return a.adjustSellSize(market, req, rounded)
}

func hasOrderAt(orders []trading.Order, signum int, price decimal.Decimal) bool {
	for _, order := range orders {
		if order.Quantity.Sign() != signum {
			continue
		}
		if order.Price.Equal(price) {
			return true
		}
	}
	return false
}

// divideUp divides at places, rounding any remainder away from zero.
func divideUp(n, d decimal.Decimal, places int32) decimal.Decimal {
	q, r := n.QuoRem(d, places)
	if r.IsZero() {
		return q
	}
	ulp := decimal.New(1, -places)
	if n.Sign()*d.Sign() > 0 {
		return q.Add(ulp)
	}
	return q.Sub(ulp)
}

func orZero(v decimal.NullDecimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return decimal.Zero
}

func orOne(v decimal.NullDecimal) decimal.Decimal {
	if v.Valid {
		return v.Decimal
	}
	return one
}

func nullable(v decimal.Decimal, ok bool) decimal.NullDecimal {
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

func nullString(v decimal.NullDecimal) string {
	if !v.Valid {
		return "<nil>"
	}
	return v.Decimal.String()
}
