package state

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"mm-quote-bot/internal/pipeline"
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.items == nil {
		m.items = make(map[string][]byte)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestQuoteSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snapshot := QuoteSnapshot{
		Site:         "paper",
		Instrument:   "BTC_JPY",
		Estimate:     "100.5",
		Confidence:   "0.5",
		BuyPrice:     "99",
		BuySize:      "0.25",
		SellPrice:    "",
		SellSize:     "0",
		Instructions: 3,
		Managed:      2,
		Reconciled:   1,
		UpdatedAtMS:  12345,
	}
	if err := SaveQuoteSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	loaded, ok, err := LoadQuoteSnapshot(ctx, store, trading.Key{Site: "paper", Instrument: "BTC_JPY"})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to exist")
	}
	if loaded != snapshot {
		t.Fatalf("snapshot mismatch: got %+v want %+v", loaded, snapshot)
	}
}

func TestQuoteSnapshotMissing(t *testing.T) {
	_, ok, err := LoadQuoteSnapshot(context.Background(), &memoryStore{}, trading.Key{Site: "a", Instrument: "b"})
	if err != nil || ok {
		t.Fatalf("expected missing snapshot, got ok=%v err=%v", ok, err)
	}
	_, ok, err = LoadQuoteSnapshot(context.Background(), nil, trading.Key{})
	if err != nil || ok {
		t.Fatalf("expected nil store to report missing, got ok=%v err=%v", ok, err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	store := &memoryStore{items: map[string][]byte{"k": {0xc1}}}
	var out QuoteSnapshot
	if _, err := Load(context.Background(), store, "k", &out); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSnapshotRecorder(t *testing.T) {
	store := &memoryStore{}
	at := time.UnixMilli(1700000000000)
	cycle := pipeline.Cycle{
		Request: &trading.Request{Site: "paper", Instrument: "BTC_JPY", CurrentTime: at},
		Advice: trading.Advice{
			BuyLimitPrice: decimal.NewNullDecimal(decimal.NewFromInt(99)),
			BuyLimitSize:  decimal.NewNullDecimal(decimal.RequireFromString("0.5")),
			SellLimitSize: decimal.NewNullDecimal(decimal.Zero),
		},
		Instructions: 2,
		Managed:      2,
	}
	NewSnapshotRecorder(store, nil).Record(context.Background(), cycle)

	loaded, ok, err := LoadQuoteSnapshot(context.Background(), store, trading.Key{Site: "paper", Instrument: "BTC_JPY"})
	if err != nil || !ok {
		t.Fatalf("expected snapshot, got ok=%v err=%v", ok, err)
	}
	if loaded.BuyPrice != "99" || loaded.BuySize != "0.5" || loaded.SellPrice != "" || loaded.SellSize != "0" {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}
	if !loaded.UpdatedAt().Equal(at) {
		t.Fatalf("unexpected update time %v", loaded.UpdatedAt())
	}

	store.err = errors.New("disk full")
	NewSnapshotRecorder(store, nil).Record(context.Background(), cycle)
	NewSnapshotRecorder(store, nil).Record(context.Background(), pipeline.Cycle{})
}
