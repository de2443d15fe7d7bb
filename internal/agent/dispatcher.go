// Package agent routes venue management calls to the handler registered for
// the request's site.
package agent

import (
	"context"

	"mm-quote-bot/internal/trading"

	"go.uber.org/zap"
)

// Properties reports the global trading switch.
type Properties interface {
	TradingActive() bool
}

// Dispatcher implements trading.Agent over a site-keyed handler registry.
type Dispatcher struct {
	props    Properties
	handlers map[string]trading.Agent
	log      *zap.Logger
}

func New(props Properties, handlers map[string]trading.Agent, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	copied := make(map[string]trading.Agent, len(handlers))
	for site, handler := range handlers {
		if handler != nil {
			copied[site] = handler
		}
	}
	return &Dispatcher{props: props, handlers: copied, log: log}
}

// Get returns the site this agent serves.
func (d *Dispatcher) Get() string {
	return trading.All
}

func (d *Dispatcher) handler(req *trading.Request) (trading.Agent, bool) {
	if trading.IsInvalid(req) {
		d.log.Debug("invalid request")
		return nil, false
	}
	handler, ok := d.handlers[req.Site]
	if !ok {
		d.log.Debug("no agent for site", zap.String("site", req.Site))
	}
	return handler, ok
}

// Manage is skipped entirely while trading is inactive.
func (d *Dispatcher) Manage(ctx context.Context, market trading.Market, req *trading.Request, instructions []trading.Instruction) map[trading.Instruction]string {
	results := map[trading.Instruction]string{}
	handler, ok := d.handler(req)
	if !ok {
		return results
	}
	if d.props == nil || !d.props.TradingActive() {
		d.log.Debug("trading inactive", zap.Stringer("key", req.Key()))
		return results
	}
	if instructions == nil {
		instructions = []trading.Instruction{}
	}
	managed := handler.Manage(ctx, market, req, instructions)
	for instruction, id := range managed {
		results[instruction] = id
	}
	d.log.Debug("managed",
		zap.Stringer("key", req.Key()),
		zap.Int("instructions", len(instructions)),
		zap.Int("results", len(results)),
	)
	return results
}

// Reconcile always runs so resting orders stay truthful.
func (d *Dispatcher) Reconcile(ctx context.Context, market trading.Market, req *trading.Request, managed map[trading.Instruction]string) map[trading.Instruction]bool {
	results := map[trading.Instruction]bool{}
	handler, ok := d.handler(req)
	if !ok {
		return results
	}
	if managed == nil {
		managed = map[trading.Instruction]string{}
	}
	reconciled := handler.Reconcile(ctx, market, req, managed)
	for instruction, done := range reconciled {
		results[instruction] = done
	}
	d.log.Debug("reconciled",
		zap.Stringer("key", req.Key()),
		zap.Int("managed", len(managed)),
		zap.Int("results", len(results)),
	)
	return results
}
