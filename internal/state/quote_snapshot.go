package state

import (
	"context"
	"time"

	"mm-quote-bot/internal/pipeline"
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const quoteSnapshotPrefix = "quote:last:"

// QuoteSnapshot is the last quote computed for one pair. Absent values are
// stored as empty strings.
type QuoteSnapshot struct {
	Site         string `msgpack:"site"`
	Instrument   string `msgpack:"instrument"`
	Estimate     string `msgpack:"estimate"`
	Confidence   string `msgpack:"confidence"`
	BuyPrice     string `msgpack:"buy_price"`
	BuySize      string `msgpack:"buy_size"`
	SellPrice    string `msgpack:"sell_price"`
	SellSize     string `msgpack:"sell_size"`
	Instructions int    `msgpack:"instructions"`
	Managed      int    `msgpack:"managed"`
	Reconciled   int    `msgpack:"reconciled"`
	UpdatedAtMS  int64  `msgpack:"updated_at_ms"`
}

func QuoteSnapshotKey(key trading.Key) string {
	return quoteSnapshotPrefix + key.String()
}

func NewQuoteSnapshot(cycle pipeline.Cycle) QuoteSnapshot {
	req := cycle.Request
	return QuoteSnapshot{
		Site:         req.Site,
		Instrument:   req.Instrument,
		Estimate:     nullString(cycle.Estimation.Price),
		Confidence:   nullString(cycle.Estimation.Confidence),
		BuyPrice:     nullString(cycle.Advice.BuyLimitPrice),
		BuySize:      nullString(cycle.Advice.BuyLimitSize),
		SellPrice:    nullString(cycle.Advice.SellLimitPrice),
		SellSize:     nullString(cycle.Advice.SellLimitSize),
		Instructions: cycle.Instructions,
		Managed:      cycle.Managed,
		Reconciled:   cycle.Reconciled,
		UpdatedAtMS:  req.CurrentTime.UnixMilli(),
	}
}

func (s QuoteSnapshot) UpdatedAt() time.Time {
	return time.UnixMilli(s.UpdatedAtMS)
}

func LoadQuoteSnapshot(ctx context.Context, store Store, key trading.Key) (QuoteSnapshot, bool, error) {
	var snapshot QuoteSnapshot
	ok, err := Load(ctx, store, QuoteSnapshotKey(key), &snapshot)
	if err != nil || !ok {
		return QuoteSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveQuoteSnapshot(ctx context.Context, store Store, snapshot QuoteSnapshot) error {
	key := trading.Key{Site: snapshot.Site, Instrument: snapshot.Instrument}
	return Save(ctx, store, QuoteSnapshotKey(key), snapshot)
}

// SnapshotRecorder persists the last quote of every pair.
type SnapshotRecorder struct {
	store Store
	log   *zap.Logger
}

func NewSnapshotRecorder(store Store, log *zap.Logger) *SnapshotRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &SnapshotRecorder{store: store, log: log}
}

func (r *SnapshotRecorder) Record(ctx context.Context, cycle pipeline.Cycle) {
	if cycle.Request == nil {
		return
	}
	if err := SaveQuoteSnapshot(ctx, r.store, NewQuoteSnapshot(cycle)); err != nil {
		r.log.Warn("quote snapshot save failed", zap.Stringer("key", cycle.Request.Key()), zap.Error(err))
	}
}

func nullString(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}
