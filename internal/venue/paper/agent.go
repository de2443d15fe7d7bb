// Package paper is a simulated venue. Orders rest in a market.Store and fill
// when the book crosses them.
package paper

import (
	"context"
	"time"

	"mm-quote-bot/internal/exec"
	"mm-quote-bot/internal/market"
	"mm-quote-bot/internal/trading"

	"go.uber.org/zap"
)

// Venue adapts a market.Store to exec.Venue.
type Venue struct {
	store *market.Store
}

func NewVenue(store *market.Store) *Venue {
	return &Venue{store: store}
}

func (v *Venue) PlaceOrder(_ context.Context, order exec.Order) (string, error) {
	return v.store.PlaceOrder(order.Key, order.Price, order.Quantity)
}

// CancelOrder succeeds when the order is gone, whether cancelled now or
// already filled.
func (v *Venue) CancelOrder(_ context.Context, key trading.Key, orderID string) error {
	v.store.CancelOrder(key, orderID)
	return nil
}

// Agent implements trading.Agent for the paper venue.
type Agent struct {
	store    *market.Store
	executor *exec.Executor
	log      *zap.Logger
	now      func() time.Time
}

func NewAgent(store *market.Store, executor *exec.Executor, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{store: store, executor: executor, log: log, now: time.Now}
}

func (a *Agent) Manage(ctx context.Context, _ trading.Market, req *trading.Request, instructions []trading.Instruction) map[trading.Instruction]string {
	results := make(map[trading.Instruction]string, len(instructions))
	if trading.IsInvalid(req) {
		return results
	}
	key := req.Key()
	for _, instruction := range instructions {
		switch instr := instruction.(type) {
		case *trading.CancelInstruction:
			if err := a.executor.CancelOrder(ctx, key, instr.OrderID); err != nil {
				a.log.Warn("cancel failed", zap.Stringer("key", key), zap.String("order_id", instr.OrderID), zap.Error(err))
				continue
			}
			results[instr] = instr.OrderID
		case *trading.CreateInstruction:
			orderID, err := a.executor.PlaceOrder(ctx, exec.Order{
				Key:           key,
				Price:         instr.Price,
				Quantity:      instr.Size,
				ClientOrderID: instr.ID,
			})
			if err != nil {
				a.log.Warn("create failed", zap.Stringer("key", key), zap.String("instruction", instr.ID), zap.Error(err))
				continue
			}
			results[instr] = orderID
		default:
			a.log.Debug("unsupported instruction", zap.String("instruction", instruction.InstructionID()))
		}
	}
	a.match(ctx, key)
	return results
}

// Reconcile reports a create as done once its order rests or has filled, and
// a cancel as done once the order no longer rests.
func (a *Agent) Reconcile(ctx context.Context, _ trading.Market, req *trading.Request, managed map[trading.Instruction]string) map[trading.Instruction]bool {
	results := make(map[trading.Instruction]bool, len(managed))
	if trading.IsInvalid(req) {
		return results
	}
	key := req.Key()
	a.match(ctx, key)
	for instruction, orderID := range managed {
		switch instruction.(type) {
		case *trading.CancelInstruction:
			results[instruction] = !a.store.HasOrder(key, orderID)
		case *trading.CreateInstruction:
			results[instruction] = a.store.HasOrder(key, orderID) || a.store.HasExecution(key, orderID)
		default:
			results[instruction] = false
		}
	}
	return results
}

// match crosses resting orders and releases the placement records of fills.
func (a *Agent) match(ctx context.Context, key trading.Key) {
	for _, fill := range a.store.Match(key, a.now()) {
		a.executor.Release(ctx, fill.ID)
	}
}
