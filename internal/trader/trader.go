// Package trader drives the periodic trading loop. Each cycle fans the
// pipeline out over every configured target, joins, then sleeps until the
// next nominal time or an external wake.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"mm-quote-bot/internal/metrics"
	"mm-quote-bot/internal/trading"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Properties is the scheduler configuration. A false or non-positive
// interval makes the nominal time equal to now.
type Properties interface {
	Now() time.Time
	TradingInterval() (time.Duration, bool)
	TradingTargets() map[string][]string
	TradingThreads() int
}

// Processor runs one pipeline cycle.
type Processor interface {
	Process(ctx context.Context, target time.Time, site, instrument string)
}

// gate is a single-shot signal released by closing ch.
type gate struct {
	ch chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) release() {
	close(g.ch)
}

type Trader struct {
	props     Properties
	processor Processor
	metrics   *metrics.Metrics
	log       *zap.Logger

	gate atomic.Pointer[gate]
}

func New(props Properties, processor Processor, m *metrics.Metrics, log *zap.Logger) *Trader {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Trader{
		props:     props,
		processor: processor,
		metrics:   metrics.OrNoop(m),
		log:       log,
	}
	t.gate.Store(newGate())
	return t
}

// Trigger wakes a sleeping loop for an immediate cycle. Triggers that arrive
// before the loop observes one collapse into a single wake. No-op once closed.
func (t *Trader) Trigger() {
	next := newGate()
	for {
		old := t.gate.Load()
		if old == nil {
			t.log.Debug("trigger skipped, trader closed")
			return
		}
		if t.gate.CompareAndSwap(old, next) {
			old.release()
			t.log.Info("triggered")
			return
		}
	}
}

// Close terminates the loop permanently.
func (t *Trader) Close() {
	old := t.gate.Swap(nil)
	if old == nil {
		t.log.Debug("already closed")
		return
	}
	old.release()
	t.log.Info("trader closed")
}

func (t *Trader) IsClosed() bool {
	return t.gate.Load() == nil
}

// Run blocks until Close is called or ctx is cancelled. A fatal error inside a
// cycle ends the loop as if Close had been called.
func (t *Trader) Run(ctx context.Context) {
	t.log.Info("trading started")
	defer t.log.Info("trading finished")
	for {
		g := t.gate.Load()
		if g == nil {
			return
		}
		if err := t.cycle(ctx, g); err != nil {
			if errors.Is(err, context.Canceled) {
				t.log.Info("trading cancelled")
			} else {
				t.log.Warn("aborting trading loop", zap.Error(err))
			}
			t.Close()
			return
		}
	}
}

func (t *Trader) cycle(ctx context.Context, g *gate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trading cycle panic: %v", r)
		}
	}()

	nominal := t.nominalTime()
	t.log.Debug("trade attempt", zap.Time("nominal", nominal))
	t.fanOut(ctx, nominal)
	t.metrics.CyclesCompleted.Inc()

	wait := t.sleepInterval(nominal)
	t.log.Debug("sleeping for interval", zap.Duration("interval", wait))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-g.ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// fanOut runs the pipeline for every target and joins. Targets are
// snapshotted up front so the set cannot change mid-cycle.
func (t *Trader) fanOut(ctx context.Context, nominal time.Time) {
	targets := snapshotTargets(t.props.TradingTargets())
	var group errgroup.Group
	if threads := t.props.TradingThreads(); threads > 0 {
		group.SetLimit(threads)
	}
	for _, target := range targets {
		target := target
		group.Go(func() error {
			t.process(ctx, nominal, target)
			return nil
		})
	}
	_ = group.Wait()
}

func (t *Trader) process(ctx context.Context, nominal time.Time, key trading.Key) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.TasksFailed.Inc()
			t.log.Error("pipeline task failed",
				zap.Stringer("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	t.processor.Process(ctx, nominal, key.Site, key.Instrument)
}

func (t *Trader) nominalTime() time.Time {
	now := t.props.Now()
	interval, ok := t.props.TradingInterval()
	if !ok || interval <= 0 {
		return now
	}
	return now.Add(interval)
}

func (t *Trader) sleepInterval(nominal time.Time) time.Duration {
	now := t.props.Now()
	if now.After(nominal) {
		return 0
	}
	return nominal.Sub(now)
}

func snapshotTargets(targets map[string][]string) []trading.Key {
	sites := make([]string, 0, len(targets))
	for site := range targets {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	var keys []trading.Key
	for _, site := range sites {
		for _, instrument := range targets[site] {
			keys = append(keys, trading.Key{Site: site, Instrument: instrument})
		}
	}
	return keys
}
