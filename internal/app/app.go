package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mm-quote-bot/internal/adviser"
	"mm-quote-bot/internal/agent"
	"mm-quote-bot/internal/alerts"
	"mm-quote-bot/internal/config"
	"mm-quote-bot/internal/estimator"
	"mm-quote-bot/internal/exec"
	"mm-quote-bot/internal/instructor"
	"mm-quote-bot/internal/market"
	"mm-quote-bot/internal/metrics"
	"mm-quote-bot/internal/pipeline"
	"mm-quote-bot/internal/state"
	"mm-quote-bot/internal/state/sqlite"
	"mm-quote-bot/internal/timescale"
	"mm-quote-bot/internal/trader"
	"mm-quote-bot/internal/trading"
	"mm-quote-bot/internal/venue/paper"
	"mm-quote-bot/internal/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const adviserID = "template"

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	props     *config.Properties
	store     *sqlite.Store
	market    *market.Store
	executor  *exec.Executor
	feed      *market.Feed
	wsClient  *ws.Client
	pipeline  *pipeline.Pipeline
	trader    *trader.Trader
	prom      *metrics.Prometheus
	metrics   *metrics.Metrics
	timescale *timescale.Writer
	alerts    *alerts.Telegram
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.State.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, log, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, log *zap.Logger, store *sqlite.Store) (*App, error) {
	props := config.NewProperties(cfg)
	marketStore := market.NewStore(log)
	keys, err := registerMarkets(marketStore, cfg.Markets)
	if err != nil {
		return nil, err
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	executor := exec.New(paper.NewVenue(marketStore), store, m, log)
	executor.SetRetry(cfg.Venue.RetryAttempts, cfg.Venue.RetryBackoff)
	handlers := make(map[string]trading.Agent)
	for _, site := range props.Sites() {
		handlers[site] = paper.NewAgent(marketStore, executor, log.With(zap.String("site", site)))
	}

	est, err := estimator.FromConfig(cfg.Estimator, log)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(props, marketStore, pipeline.Stages{
		Estimator:  est,
		Adviser:    adviser.New(adviserID, adviser.WithLogger(log)),
		Instructor: instructor.NewTemplate(log),
		Agent:      agent.New(props, handlers, log),
	}, m, log)
	if err != nil {
		return nil, err
	}
	p.AddRecorder(state.NewSnapshotRecorder(store, log))

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}
	if writer != nil {
		p.AddRecorder(writer)
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		props:     props,
		store:     store,
		market:    marketStore,
		executor:  executor,
		pipeline:  p,
		trader:    trader.New(props, p, m, log),
		prom:      prom,
		metrics:   m,
		timescale: writer,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
	}
	if cfg.Feed.Enabled {
		a.wsClient = ws.New(cfg.Feed.URL, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, map[string]string{"op": "ping"}, log)
		a.feed = market.NewFeed(a.wsClient, marketStore, keys, log)
	}
	return a, nil
}

func registerMarkets(store *market.Store, markets []config.MarketConfig) ([]trading.Key, error) {
	keys := make([]trading.Key, 0, len(markets))
	for _, m := range markets {
		key := trading.Key{Site: m.Site, Instrument: m.Instrument}
		tick, err := decimal.NewFromString(m.Tick)
		if err != nil {
			return nil, fmt.Errorf("market %s tick: %w", key, err)
		}
		lot, err := decimal.NewFromString(m.Lot)
		if err != nil {
			return nil, fmt.Errorf("market %s lot: %w", key, err)
		}
		commission, err := optionalDecimal(m.Commission)
		if err != nil {
			return nil, fmt.Errorf("market %s commission: %w", key, err)
		}
		funding, err := optionalDecimal(m.Funding)
		if err != nil {
			return nil, fmt.Errorf("market %s funding: %w", key, err)
		}
		position, err := optionalDecimal(m.Position)
		if err != nil {
			return nil, fmt.Errorf("market %s position: %w", key, err)
		}
		store.Register(key, market.Instrument{
			Tick:       tick,
			Lot:        lot,
			Commission: commission,
			Marginable: m.Marginable,
		}, funding, position)
		keys = append(keys, key)
	}
	return keys, nil
}

func optionalDecimal(raw string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// Run starts the feed and the trading loop and blocks until ctx is done or the
// trader closes itself.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	if removed, err := a.executor.Prune(ctx, time.Now().Add(-a.cfg.Venue.OrderRetention)); err != nil {
		a.log.Warn("order record prune failed", zap.Error(err))
	} else if removed > 0 {
		a.log.Info("order records pruned", zap.Int("removed", removed))
	}
	if a.prom != nil {
		a.startMetricsServer(ctx)
	}
	a.timescale.Start(ctx)
	if a.feed != nil {
		if err := a.feed.Start(ctx); err != nil {
			return fmt.Errorf("market feed: %w", err)
		}
	}
	a.log.Info("app started",
		zap.Bool("trading_active", a.props.TradingActive()),
		zap.Int("markets", len(a.market.Keys())),
	)
	a.alerts.Notify(ctx, alerts.StartedMessage(a.props.TradingTargets(), a.props.TradingActive()))

	stop := context.AfterFunc(ctx, a.trader.Close)
	defer stop()
	a.trader.Run(ctx)

	err := ctx.Err()
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.alerts.Notify(notifyCtx, alerts.StoppedMessage(err))
	return err
}

// Trigger wakes the trading loop for an immediate cycle.
func (a *App) Trigger() {
	a.trader.Trigger()
}

// Close stops the trading loop; Run returns once the current cycle ends.
func (a *App) Close() {
	a.trader.Close()
}

func (a *App) shutdown() {
	if a.wsClient != nil {
		if err := a.wsClient.Close(); err != nil {
			a.log.Debug("ws close failed", zap.Error(err))
		}
	}
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	a.log.Info("metrics server started", zap.String("addr", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
}
