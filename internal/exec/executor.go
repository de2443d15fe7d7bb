package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mm-quote-bot/internal/metrics"
	"mm-quote-bot/internal/state"
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const clientOrderPrefix = "cloid:"

// Order is a signed limit order. ClientOrderID makes placement idempotent.
type Order struct {
	Key           trading.Key
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

type Venue interface {
	PlaceOrder(ctx context.Context, order Order) (string, error)
	CancelOrder(ctx context.Context, key trading.Key, orderID string) error
}

type orderRecord struct {
	OrderID    string `msgpack:"order_id"`
	Site       string `msgpack:"site"`
	Instrument string `msgpack:"instrument"`
	PlacedAtMS int64  `msgpack:"placed_at_ms"`
}

// Executor places and cancels orders with retries. Placements carrying a
// client order id are remembered in memory and in the state store so a
// repeated instruction never places twice, even across restarts. A record
// lives until its order is released as cancelled or filled.
type Executor struct {
	venue   Venue
	store   state.Store
	metrics *metrics.Metrics
	log     *zap.Logger

	attempts int
	backoff  time.Duration

	mu     sync.Mutex
	cache  map[string]string
	orders map[string]string
}

func New(venue Venue, store state.Store, m *metrics.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		venue:    venue,
		store:    store,
		metrics:  metrics.OrNoop(m),
		log:      log,
		attempts: 5,
		backoff:  200 * time.Millisecond,
		cache:    make(map[string]string),
		orders:   make(map[string]string),
	}
}

// SetRetry overrides the attempt count and the initial backoff.
func (e *Executor) SetRetry(attempts int, backoff time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	e.attempts = attempts
	e.backoff = backoff
}

func (e *Executor) PlaceOrder(ctx context.Context, order Order) (string, error) {
	if order.ClientOrderID == "" {
		return e.placeWithRetry(ctx, order)
	}
	cacheKey := clientOrderPrefix + order.ClientOrderID
	if oid, ok := e.cached(cacheKey); ok {
		return oid, nil
	}
	var record orderRecord
	if ok, err := state.Load(ctx, e.store, cacheKey, &record); err != nil {
		return "", err
	} else if ok && record.OrderID != "" {
		e.remember(cacheKey, record.OrderID)
		return record.OrderID, nil
	}
	orderID, err := e.placeWithRetry(ctx, order)
	if err != nil {
		return "", err
	}
	record = orderRecord{
		OrderID:    orderID,
		Site:       order.Key.Site,
		Instrument: order.Key.Instrument,
		PlacedAtMS: time.Now().UnixMilli(),
	}
	if err := state.Save(ctx, e.store, cacheKey, record); err != nil {
		e.log.Warn("failed to persist order id", zap.Error(err))
	}
	e.remember(cacheKey, orderID)
	return orderID, nil
}

func (e *Executor) CancelOrder(ctx context.Context, key trading.Key, orderID string) error {
	err := e.retry(ctx, func() error {
		return e.venue.CancelOrder(ctx, key, orderID)
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	e.metrics.OrdersCancelled.Inc()
	e.Release(ctx, orderID)
	return nil
}

// Release forgets the placement record of an order that no longer rests.
func (e *Executor) Release(ctx context.Context, orderID string) {
	e.mu.Lock()
	cacheKey, ok := e.orders[orderID]
	if ok {
		delete(e.orders, orderID)
		delete(e.cache, cacheKey)
	}
	e.mu.Unlock()
	if !ok || e.store == nil {
		return
	}
	if err := e.store.Delete(ctx, cacheKey); err != nil {
		e.log.Warn("failed to release order id", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Prune deletes persisted placement records older than before and returns
// how many were removed.
func (e *Executor) Prune(ctx context.Context, before time.Time) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	keys, err := e.store.Keys(ctx, clientOrderPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, cacheKey := range keys {
		var record orderRecord
		ok, err := state.Load(ctx, e.store, cacheKey, &record)
		if err != nil {
			e.log.Debug("unreadable order record", zap.String("key", cacheKey), zap.Error(err))
		} else if ok && record.PlacedAtMS >= before.UnixMilli() {
			continue
		}
		if err := e.store.Delete(ctx, cacheKey); err != nil {
			return removed, err
		}
		e.mu.Lock()
		if oid, ok := e.cache[cacheKey]; ok {
			delete(e.cache, cacheKey)
			delete(e.orders, oid)
		}
		e.mu.Unlock()
		removed++
	}
	return removed, nil
}

func (e *Executor) cached(cacheKey string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	oid, ok := e.cache[cacheKey]
	return oid, ok
}

func (e *Executor) remember(cacheKey, orderID string) {
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.orders[orderID] = cacheKey
	e.mu.Unlock()
}

func (e *Executor) placeWithRetry(ctx context.Context, order Order) (string, error) {
	var orderID string
	err := e.retry(ctx, func() error {
		var err error
		orderID, err = e.venue.PlaceOrder(ctx, order)
		return err
	})
	if err == nil && orderID == "" {
		err = errors.New("empty order id")
	}
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return "", err
	}
	e.metrics.OrdersPlaced.Inc()
	return orderID, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == e.attempts-1 {
			return fmt.Errorf("retry failed: %w", err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			backoff *= 2
		}
	}
}
