package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mm-quote-bot/internal/config"
	"mm-quote-bot/internal/pipeline"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// QuoteRow is one computed quote. Null columns mark absent values.
type QuoteRow struct {
	Time         time.Time
	TargetTime   time.Time
	Site         string
	Instrument   string
	Estimate     decimal.NullDecimal
	Confidence   decimal.NullDecimal
	BuyPrice     decimal.NullDecimal
	BuySize      decimal.NullDecimal
	SellPrice    decimal.NullDecimal
	SellSize     decimal.NullDecimal
	Instructions int
	Managed      int
	Reconciled   int
}

func NewQuoteRow(cycle pipeline.Cycle) QuoteRow {
	req := cycle.Request
	return QuoteRow{
		Time:         req.CurrentTime.UTC(),
		TargetTime:   req.TargetTime.UTC(),
		Site:         req.Site,
		Instrument:   req.Instrument,
		Estimate:     cycle.Estimation.Price,
		Confidence:   cycle.Estimation.Confidence,
		BuyPrice:     cycle.Advice.BuyLimitPrice,
		BuySize:      cycle.Advice.BuyLimitSize,
		SellPrice:    cycle.Advice.SellLimitPrice,
		SellSize:     cycle.Advice.SellLimitSize,
		Instructions: cycle.Instructions,
		Managed:      cycle.Managed,
		Reconciled:   cycle.Reconciled,
	}
}

func (r QuoteRow) args() []any {
	return []any{
		r.Time,
		r.TargetTime,
		r.Site,
		r.Instrument,
		r.Estimate,
		r.Confidence,
		r.BuyPrice,
		r.BuySize,
		r.SellPrice,
		r.SellSize,
		r.Instructions,
		r.Managed,
		r.Reconciled,
	}
}

type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	quotes  chan QuoteRow
	started atomic.Bool
	dropped atomic.Uint64
}

// New connects and ensures the schema. A disabled config yields a nil Writer,
// which is safe to use.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		quotes: make(chan QuoteRow, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record enqueues the cycle's quote without blocking the pipeline.
func (w *Writer) Record(_ context.Context, cycle pipeline.Cycle) {
	if w == nil || cycle.Request == nil {
		return
	}
	w.EnqueueQuote(NewQuoteRow(cycle))
}

func (w *Writer) EnqueueQuote(row QuoteRow) {
	if w == nil {
		return
	}
	select {
	case w.quotes <- row:
	default:
		if w.dropped.Add(1) == 1 {
			w.log.Warn("timescale quote queue full")
		}
	}
}

// Dropped reports how many rows were discarded on a full queue.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.quotes:
			w.writeQuote(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		target_ts TIMESTAMPTZ NOT NULL,
		site TEXT NOT NULL,
		instrument TEXT NOT NULL,
		estimate NUMERIC,
		confidence NUMERIC,
		buy_price NUMERIC,
		buy_size NUMERIC,
		sell_price NUMERIC,
		sell_size NUMERIC,
		instructions INTEGER NOT NULL,
		managed INTEGER NOT NULL,
		reconciled INTEGER NOT NULL
	)`, w.table("quote_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("quote_snapshots"))); err != nil {
		w.log.Warn("timescale quote_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) insertQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (
		ts, target_ts, site, instrument, estimate, confidence,
		buy_price, buy_size, sell_price, sell_size, instructions, managed, reconciled
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)`, w.table("quote_snapshots"))
}

func (w *Writer) writeQuote(ctx context.Context, row QuoteRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, w.insertQuery(), row.args()...); err != nil {
		w.log.Warn("timescale quote insert failed",
			zap.String("site", row.Site),
			zap.String("instrument", row.Instrument),
			zap.Error(err),
		)
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
