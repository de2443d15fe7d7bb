package trading

import (
	"context"

	"github.com/shopspring/decimal"
)

// Market is the read-only view of venue state consumed by every stage.
type Market interface {
	BestAskPrice(key Key) (decimal.Decimal, bool)
	BestBidPrice(key Key) (decimal.Decimal, bool)
	MidPrice(key Key) (decimal.Decimal, bool)
	CommissionRate(key Key) (decimal.Decimal, bool)
	IsMarginable(key Key) bool
	FundingPosition(key Key) (decimal.Decimal, bool)
	InstrumentPosition(key Key) (decimal.Decimal, bool)
	ListExecutions(key Key) []Execution
	ListActiveOrders(key Key) []Order
	RoundTickSize(key Key, value decimal.Decimal, mode RoundingMode) (decimal.Decimal, bool)
	RoundLotSize(key Key, value decimal.Decimal, mode RoundingMode) (decimal.Decimal, bool)
}

type Estimator interface {
	Estimate(ctx context.Context, market Market, req *Request) Estimation
}

type Adviser interface {
	Advise(market Market, req *Request, est Estimation) Advice
}

type Instructor interface {
	Instruct(ctx context.Context, market Market, req *Request, advice Advice) []Instruction
}

// Agent manages instructions on a venue and reconciles their outcome.
type Agent interface {
	Manage(ctx context.Context, market Market, req *Request, instructions []Instruction) map[Instruction]string
	Reconcile(ctx context.Context, market Market, req *Request, managed map[Instruction]string) map[Instruction]bool
}
