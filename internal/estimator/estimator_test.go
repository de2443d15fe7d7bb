package estimator

import (
	"context"
	"testing"
	"time"

	"mm-quote-bot/internal/config"
	"mm-quote-bot/internal/market"
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixed struct {
	est trading.Estimation
}

func (f fixed) Estimate(context.Context, trading.Market, *trading.Request) trading.Estimation {
	return f.est
}

func estimation(price, confidence string) trading.Estimation {
	return trading.Estimation{
		Price:      decimal.NewNullDecimal(d(price)),
		Confidence: decimal.NewNullDecimal(d(confidence)),
	}
}

func TestMid(t *testing.T) {
	key := trading.Key{Site: "paper", Instrument: "BTC_JPY"}
	store := market.NewStore(nil)
	store.Register(key, market.Instrument{Tick: d("1"), Lot: d("1")}, decimal.NullDecimal{}, decimal.NullDecimal{})
	req := &trading.Request{Site: key.Site, Instrument: key.Instrument}
	est := NewMid(d("0.5"), 0)

	if got := est.Estimate(context.Background(), store, req); got.Price.Valid {
		t.Fatalf("expected no estimate without a quote")
	}
	if err := store.UpdateQuote(key, d("99"), d("101"), req.CurrentTime); err != nil {
		t.Fatalf("update quote: %v", err)
	}
	got := est.Estimate(context.Background(), store, req)
	if !got.Price.Decimal.Equal(d("100")) || !got.Confidence.Decimal.Equal(d("0.5")) {
		t.Fatalf("unexpected estimate %v", got)
	}
	if got := est.Estimate(context.Background(), store, nil); got.Price.Valid {
		t.Fatalf("expected no estimate for invalid request")
	}
}

func newBTCStore(t *testing.T) (*market.Store, *trading.Request) {
	t.Helper()
	key := trading.Key{Site: "paper", Instrument: "BTC_JPY"}
	store := market.NewStore(nil)
	store.Register(key, market.Instrument{Tick: d("1"), Lot: d("0.1")}, decimal.NullDecimal{}, decimal.NewNullDecimal(d("0")))
	return store, &trading.Request{Site: key.Site, Instrument: key.Instrument}
}

func TestMidStaleBook(t *testing.T) {
	store, req := newBTCStore(t)
	now := time.Unix(1700000000, 0)
	est := NewMid(d("1"), 10*time.Second)
	est.now = func() time.Time { return now }

	if err := store.UpdateQuote(req.Key(), d("99"), d("101"), now.Add(-5*time.Second)); err != nil {
		t.Fatalf("update quote: %v", err)
	}
	if got := est.Estimate(context.Background(), store, req); !got.Price.Valid {
		t.Fatalf("expected estimate for a fresh book")
	}
	now = now.Add(30 * time.Second)
	if got := est.Estimate(context.Background(), store, req); got.Price.Valid || got.Confidence.Valid {
		t.Fatalf("expected no estimate for a stale book, got %v", got)
	}
}

func TestLast(t *testing.T) {
	store, req := newBTCStore(t)
	est := NewLast(d("0.7"))
	if got := est.Estimate(context.Background(), store, req); got.Price.Valid {
		t.Fatalf("expected no estimate without executions")
	}
	now := time.Now()
	if err := store.UpdateQuote(req.Key(), d("99"), d("101"), now); err != nil {
		t.Fatalf("update quote: %v", err)
	}
	if _, err := store.PlaceOrder(req.Key(), d("101"), d("1")); err != nil {
		t.Fatalf("place: %v", err)
	}
	store.Match(req.Key(), now)
	if err := store.UpdateQuote(req.Key(), d("102"), d("104"), now); err != nil {
		t.Fatalf("update quote: %v", err)
	}
	if _, err := store.PlaceOrder(req.Key(), d("102"), d("-1")); err != nil {
		t.Fatalf("place: %v", err)
	}
	store.Match(req.Key(), now.Add(time.Second))

	got := est.Estimate(context.Background(), store, req)
	if !got.Price.Decimal.Equal(d("102")) || !got.Confidence.Decimal.Equal(d("0.7")) {
		t.Fatalf("expected latest execution 102 @ 0.7, got %v", got)
	}
}

func TestFromConfig(t *testing.T) {
	est, err := FromConfig(config.EstimatorConfig{Confidence: "0.9", MaxAge: time.Minute}, nil)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	mid, ok := est.(*Mid)
	if !ok || !mid.confidence.Equal(d("0.9")) || mid.maxAge != time.Minute {
		t.Fatalf("expected mid estimator, got %#v", est)
	}

	est, err = FromConfig(config.EstimatorConfig{
		Confidence: "1",
		Components: []config.EstimatorComponentConfig{
			{Type: config.EstimatorMid, Weight: "1", Confidence: "1"},
			{Type: config.EstimatorLast, Weight: "1", Confidence: "0.5"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	composite, ok := est.(*Composite)
	if !ok || len(composite.components) != 2 {
		t.Fatalf("expected composite of two, got %#v", est)
	}

	// Only the mid component is usable before any execution.
	store, req := newBTCStore(t)
	if err := store.UpdateQuote(req.Key(), d("99"), d("101"), time.Now()); err != nil {
		t.Fatalf("update quote: %v", err)
	}
	got := composite.Estimate(context.Background(), store, req)
	if !got.Price.Decimal.Equal(d("100")) || !got.Confidence.Decimal.Equal(d("0.5")) {
		t.Fatalf("unexpected blended estimate %v", got)
	}

	if _, err := FromConfig(config.EstimatorConfig{Confidence: "1", Components: []config.EstimatorComponentConfig{{Type: "vwap", Weight: "1", Confidence: "1"}}}, nil); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestComposite(t *testing.T) {
	c := NewComposite(nil,
		Weighted{Estimator: fixed{estimation("100", "1")}, Weight: d("1")},
		Weighted{Estimator: fixed{estimation("110", "0.5")}, Weight: d("2")},
		Weighted{Estimator: fixed{trading.Estimation{}}, Weight: d("1")},
		Weighted{Estimator: fixed{estimation("500", "1")}, Weight: decimal.Zero},
	)
	got := c.Estimate(context.Background(), nil, nil)
	// price = (100*1 + 110*1) / 2, confidence = 2 / 4
	if !got.Price.Decimal.Equal(d("105")) {
		t.Fatalf("expected price 105, got %s", got.Price.Decimal)
	}
	if !got.Confidence.Decimal.Equal(d("0.5")) {
		t.Fatalf("expected confidence 0.5, got %s", got.Confidence.Decimal)
	}
}

func TestCompositeWithoutUsableEstimates(t *testing.T) {
	c := NewComposite(nil, Weighted{Estimator: fixed{estimation("100", "0")}, Weight: d("1")})
	if got := c.Estimate(context.Background(), nil, nil); got.Price.Valid || got.Confidence.Valid {
		t.Fatalf("expected empty estimate, got %v", got)
	}
}

func TestUsable(t *testing.T) {
	cases := []struct {
		est  trading.Estimation
		want bool
	}{
		{estimation("1", "1"), true},
		{estimation("1", "0.01"), true},
		{estimation("1", "0"), false},
		{estimation("1", "1.01"), false},
		{trading.Estimation{Confidence: decimal.NewNullDecimal(d("1"))}, false},
	}
	for i, tc := range cases {
		if got := Usable(tc.est); got != tc.want {
			t.Fatalf("case %d: expected %v, got %v", i, tc.want, got)
		}
	}
}
