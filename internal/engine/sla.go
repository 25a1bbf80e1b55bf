package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
)

// slaBudgets holds the per-operation latency budgets
type slaBudgets struct {
	place  time.Duration
	modify time.Duration
	cancel time.Duration
}

func slaBudgetsFrom(cfg *config.Config) slaBudgets {
	return slaBudgets{
		place:  time.Duration(cfg.SLAPlaceMs) * time.Millisecond,
		modify: time.Duration(cfg.SLAModifyMs) * time.Millisecond,
		cancel: time.Duration(cfg.SLACancelMs) * time.Millisecond,
	}
}

func (b slaBudgets) budget(operation string) time.Duration {
	switch operation {
	case "place":
		return b.place
	case "modify":
		return b.modify
	case "cancel":
		return b.cancel
	}
	return 0
}

// checkSLA counts and logs a breach; breaches never fail the operation
func (e *Engine) checkSLA(operation string, elapsed time.Duration) {
	budget := e.sla.budget(operation)
	if budget <= 0 || elapsed <= budget {
		return
	}
	e.sink.IncrCounter(metrics.MetricSLAViolations, metrics.Labels{
		"operation": operation,
	})
	e.logger.WithFields(logrus.Fields{
		"operation":  operation,
		"elapsed_ms": elapsed.Milliseconds(),
		"budget_ms":  budget.Milliseconds(),
	}).Warn("operation exceeded latency budget")
}
