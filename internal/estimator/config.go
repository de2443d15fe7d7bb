package estimator

import (
	"fmt"

	"mm-quote-bot/internal/config"
	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FromConfig builds the configured estimator: a single Mid when no
// components are listed, a Composite otherwise.
func FromConfig(cfg config.EstimatorConfig, log *zap.Logger) (trading.Estimator, error) {
	confidence, err := decimal.NewFromString(cfg.Confidence)
	if err != nil {
		return nil, fmt.Errorf("estimator confidence: %w", err)
	}
	if len(cfg.Components) == 0 {
		return NewMid(confidence, cfg.MaxAge), nil
	}
	components := make([]Weighted, 0, len(cfg.Components))
	for i, c := range cfg.Components {
		weight, err := decimal.NewFromString(c.Weight)
		if err != nil {
			return nil, fmt.Errorf("estimator component %d weight: %w", i, err)
		}
		conf, err := decimal.NewFromString(c.Confidence)
		if err != nil {
			return nil, fmt.Errorf("estimator component %d confidence: %w", i, err)
		}
		var est trading.Estimator
		switch c.Type {
		case config.EstimatorMid:
			est = NewMid(conf, cfg.MaxAge)
		case config.EstimatorLast:
			est = NewLast(conf)
		default:
			return nil, fmt.Errorf("estimator component %d: unknown type %q", i, c.Type)
		}
		components = append(components, Weighted{Estimator: est, Weight: weight})
	}
	return NewComposite(log, components...), nil
}
