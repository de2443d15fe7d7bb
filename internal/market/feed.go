package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stream is the transport consumed by Feed; ws.Client implements it.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, sub any) error
	Run(ctx context.Context, handler func(json.RawMessage)) error
}

type tickerMessage struct {
	Type       string          `json:"type"`
	Site       string          `json:"site"`
	Instrument string          `json:"instrument"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	TimeMS     int64           `json:"time"`
}

type subscribeMessage struct {
	Op       string   `json:"op"`
	Channel  string   `json:"channel"`
	Products []string `json:"products"`
}

// Feed keeps the Store's top of book current from a ticker stream.
type Feed struct {
	stream Stream
	store  *Store
	keys   []trading.Key
	log    *zap.Logger
	now    func() time.Time
}

func NewFeed(stream Stream, store *Store, keys []trading.Key, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{stream: stream, store: store, keys: keys, log: log, now: time.Now}
}

func (f *Feed) Start(ctx context.Context) error {
	if f.stream == nil {
		return errors.New("feed stream is required")
	}
	if err := f.stream.Connect(ctx); err != nil {
		return err
	}
	products := make([]string, 0, len(f.keys))
	for _, key := range f.keys {
		products = append(products, key.String())
	}
	if err := f.stream.Subscribe(ctx, subscribeMessage{Op: "subscribe", Channel: "ticker", Products: products}); err != nil {
		return err
	}
	go func() {
		if err := f.stream.Run(ctx, f.Handle); err != nil && !errors.Is(err, context.Canceled) {
			f.log.Warn("market feed stopped", zap.Error(err))
		}
	}()
	return nil
}

// Handle applies one ticker message. Other message types are ignored.
func (f *Feed) Handle(raw json.RawMessage) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.log.Debug("feed message ignored", zap.Error(err))
		return
	}
	if msg.Type != "ticker" || msg.Site == "" || msg.Instrument == "" {
		return
	}
	at := f.now()
	if msg.TimeMS > 0 {
		at = time.UnixMilli(msg.TimeMS)
	}
	key := trading.Key{Site: msg.Site, Instrument: msg.Instrument}
	if err := f.store.UpdateQuote(key, msg.Bid, msg.Ask, at); err != nil {
		f.log.Debug("feed quote rejected", zap.Stringer("key", key), zap.Error(err))
	}
}
