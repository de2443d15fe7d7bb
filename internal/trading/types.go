package trading

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// All is the site/instrument wildcard.
const All = "*"

// Scale is the number of fractional digits kept by divisions.
const Scale int32 = 10

const (
	SignumBuy  = 1
	SignumSell = -1
)

// Epsilon is one unit at Scale.
var Epsilon = decimal.New(1, -Scale)

type Key struct {
	Site       string
	Instrument string
}

func (k Key) String() string {
	return k.Site + ":" + k.Instrument
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfUp
)

// Request is the per-cycle snapshot for one site and instrument. It is built
// once by the pipeline and must not be mutated afterwards.
type Request struct {
	Site                      string
	Instrument                string
	CurrentTime               time.Time
	TargetTime                time.Time
	TradingSpread             decimal.NullDecimal
	TradingSpreadAsk          decimal.NullDecimal
	TradingSpreadBid          decimal.NullDecimal
	TradingExposure           decimal.NullDecimal
	TradingAversion           decimal.NullDecimal
	TradingSigma              decimal.NullDecimal
	TradingSamples            int
	TradingSplit              int
	TradingDuration           time.Duration
	FundingOffset             decimal.NullDecimal
	FundingPositiveMultiplier decimal.NullDecimal
	FundingNegativeMultiplier decimal.NullDecimal
	FundingMultiplierProducts map[string]string
	HedgeProducts             map[string]string
}

func (r *Request) Key() Key {
	return Key{Site: r.Site, Instrument: r.Instrument}
}

// IsInvalid reports whether the request cannot be routed.
func IsInvalid(r *Request) bool {
	if r == nil {
		return true
	}
	return strings.TrimSpace(r.Site) == "" || strings.TrimSpace(r.Instrument) == ""
}

type Estimation struct {
	Price      decimal.NullDecimal
	Confidence decimal.NullDecimal
}

// Advice is the quote for one cycle. An invalid field means the side is left
// untouched this cycle.
type Advice struct {
	BuyLimitPrice  decimal.NullDecimal
	BuyLimitSize   decimal.NullDecimal
	SellLimitPrice decimal.NullDecimal
	SellLimitSize  decimal.NullDecimal
}

// Execution is one of our own fills. Size is signed: positive for buys.
type Execution struct {
	ID    string
	Time  time.Time
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Order is a resting order. Quantity is signed: positive for buys.
type Order struct {
	ID       string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Instruction is an atomic order action. Implementations are pointers so they
// can key result maps by identity.
type Instruction interface {
	InstructionID() string
}

type CreateInstruction struct {
	ID    string
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (c *CreateInstruction) InstructionID() string { return c.ID }

type CancelInstruction struct {
	ID      string
	OrderID string
}

func (c *CancelInstruction) InstructionID() string { return c.ID }
