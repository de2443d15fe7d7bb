package market

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mm-quote-bot/internal/trading"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultExecutionHistory = 1000

var ErrUnknownInstrument = errors.New("unknown instrument")

// Instrument is the static venue metadata of one tradable pair. An absent
// commission is reported as unobtainable and charges no fee on fills.
type Instrument struct {
	Tick       decimal.Decimal
	Lot        decimal.Decimal
	Commission decimal.NullDecimal
	Marginable bool
}

type book struct {
	meta       Instrument
	bid        decimal.NullDecimal
	ask        decimal.NullDecimal
	funding    decimal.NullDecimal
	instrument decimal.NullDecimal
	executions []trading.Execution
	orders     []trading.Order
	updated    time.Time
}

// Store is an in-memory market view shared by the feed, the paper venue and
// the quoting pipeline.
type Store struct {
	log *zap.Logger

	mu         sync.RWMutex
	books      map[trading.Key]*book
	maxHistory int
}

func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:        log,
		books:      make(map[trading.Key]*book),
		maxHistory: defaultExecutionHistory,
	}
}

// Register adds or replaces instrument metadata and opening balances.
func (s *Store) Register(key trading.Key, meta Instrument, funding, instrument decimal.NullDecimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[key]
	if !ok {
		b = &book{}
		s.books[key] = b
	}
	b.meta = meta
	b.funding = funding
	b.instrument = instrument
}

func (s *Store) Keys() []trading.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]trading.Key, 0, len(s.books))
	for key := range s.books {
		keys = append(keys, key)
	}
	return keys
}

// UpdateQuote records the top of book. Zero sides are treated as missing.
func (s *Store) UpdateQuote(key trading.Key, bid, ask decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}
	b.bid = positive(bid)
	b.ask = positive(ask)
	b.updated = at
	return nil
}

func (s *Store) LastUpdate(key trading.Key) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	if !ok || b.updated.IsZero() {
		return time.Time{}, false
	}
	return b.updated, true
}

func (s *Store) BestAskPrice(key trading.Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[key]; ok && b.ask.Valid {
		return b.ask.Decimal, true
	}
	return decimal.Zero, false
}

func (s *Store) BestBidPrice(key trading.Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[key]; ok && b.bid.Valid {
		return b.bid.Decimal, true
	}
	return decimal.Zero, false
}

func (s *Store) MidPrice(key trading.Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	if !ok || !b.bid.Valid || !b.ask.Valid {
		return decimal.Zero, false
	}
	return b.bid.Decimal.Add(b.ask.Decimal).Div(two), true
}

func (s *Store) CommissionRate(key trading.Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[key]; ok && b.meta.Commission.Valid {
		return b.meta.Commission.Decimal, true
	}
	return decimal.Zero, false
}

func (s *Store) IsMarginable(key trading.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	return ok && b.meta.Marginable
}

func (s *Store) FundingPosition(key trading.Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[key]; ok && b.funding.Valid {
		return b.funding.Decimal, true
	}
	return decimal.Zero, false
}

func (s *Store) InstrumentPosition(key trading.Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[key]; ok && b.instrument.Valid {
		return b.instrument.Decimal, true
	}
	return decimal.Zero, false
}

func (s *Store) ListExecutions(key trading.Key) []trading.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	if !ok {
		return nil
	}
	return append([]trading.Execution(nil), b.executions...)
}

func (s *Store) ListActiveOrders(key trading.Key) []trading.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	if !ok {
		return nil
	}
	return append([]trading.Order(nil), b.orders...)
}

func (s *Store) RoundTickSize(key trading.Key, value decimal.Decimal, mode trading.RoundingMode) (decimal.Decimal, bool) {
	s.mu.RLock()
	b, ok := s.books[key]
	var tick decimal.Decimal
	if ok {
		tick = b.meta.Tick
	}
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	return RoundToStep(value, tick, mode)
}

func (s *Store) RoundLotSize(key trading.Key, value decimal.Decimal, mode trading.RoundingMode) (decimal.Decimal, bool) {
	s.mu.RLock()
	b, ok := s.books[key]
	var lot decimal.Decimal
	if ok {
		lot = b.meta.Lot
	}
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	return RoundToStep(value, lot, mode)
}

// PlaceOrder rests a new order. Quantity is signed: positive buys.
func (s *Store) PlaceOrder(key trading.Key, price, quantity decimal.Decimal) (string, error) {
	if price.Sign() <= 0 {
		return "", errors.New("order price must be > 0")
	}
	if quantity.IsZero() {
		return "", errors.New("order quantity must be non-zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}
	id := uuid.NewString()
	b.orders = append(b.orders, trading.Order{ID: id, Price: price, Quantity: quantity})
	return id, nil
}

// CancelOrder removes a resting order and reports whether it was present.
func (s *Store) CancelOrder(key trading.Key, orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[key]
	if !ok {
		return false
	}
	for i, order := range b.orders {
		if order.ID == orderID {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) HasOrder(key trading.Key, orderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	if !ok {
		return false
	}
	for _, order := range b.orders {
		if order.ID == orderID {
			return true
		}
	}
	return false
}

func (s *Store) HasExecution(key trading.Key, orderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[key]
	if !ok {
		return false
	}
	for _, exec := range b.executions {
		if exec.ID == orderID {
			return true
		}
	}
	return false
}

// Match fills every resting order the current book crosses, at the order
// price, and applies the fills to the positions net of commission.
func (s *Store) Match(key trading.Key, now time.Time) []trading.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[key]
	if !ok {
		return nil
	}
	var fills []trading.Execution
	remaining := b.orders[:0]
	for _, order := range b.orders {
		if !crosses(b, order) {
			remaining = append(remaining, order)
			continue
		}
		fill := trading.Execution{ID: order.ID, Time: now, Price: order.Price, Size: order.Quantity}
		fills = append(fills, fill)
		notional := order.Price.Mul(order.Quantity)
		fee := decimal.Zero
		if b.meta.Commission.Valid {
			fee = notional.Abs().Mul(b.meta.Commission.Decimal)
		}
		if b.instrument.Valid {
			b.instrument = decimal.NewNullDecimal(b.instrument.Decimal.Add(order.Quantity))
		}
		if b.funding.Valid {
			b.funding = decimal.NewNullDecimal(b.funding.Decimal.Sub(notional).Sub(fee))
		}
	}
	b.orders = remaining
	if len(fills) == 0 {
		return nil
	}
	b.executions = append(b.executions, fills...)
	if over := len(b.executions) - s.maxHistory; over > 0 {
		b.executions = append([]trading.Execution(nil), b.executions[over:]...)
	}
	s.log.Debug("orders matched", zap.Stringer("key", key), zap.Int("fills", len(fills)))
	return fills
}

func crosses(b *book, order trading.Order) bool {
	if order.Quantity.Sign() > 0 {
		return b.ask.Valid && order.Price.GreaterThanOrEqual(b.ask.Decimal)
	}
	return b.bid.Valid && order.Price.LessThanOrEqual(b.bid.Decimal)
}

func positive(v decimal.Decimal) decimal.NullDecimal {
	if v.Sign() <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}
