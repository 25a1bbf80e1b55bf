package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/bus"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// fillRetries bounds how often a fill retries after losing a version race.
// Generous because a burst of executions for one order all land at once.
const fillRetries = 25

// ApplyFill applies one broker execution to its order. Redelivered fills
// (sequence already applied) are dropped silently; out-of-order delivery of
// fresh sequences is applied normally. Overfills are dropped loudly. Version
// conflicts with concurrent fills or cancels are retried against the
// reloaded order.
func (e *Engine) ApplyFill(ctx context.Context, fill *types.Fill) error {
	log := e.logger.WithFields(logrus.Fields{
		"order_id":     fill.OrderID,
		"execution_id": fill.ExecutionID,
		"sequence":     fill.Sequence,
	})

	price, err := decimal.NewFromString(fill.Price)
	if err != nil {
		log.WithError(err).Warn("dropping fill with unparseable price")
		return fmt.Errorf("invalid fill price %q: %w", fill.Price, err)
	}
	if fill.Quantity <= 0 || price.LessThanOrEqual(decimal.Zero) {
		log.Warn("dropping fill with non-positive quantity or price")
		return fmt.Errorf("invalid fill: quantity=%d price=%s", fill.Quantity, fill.Price)
	}

	var lastErr error
	for attempt := 0; attempt < fillRetries; attempt++ {
		applied, err := e.applyFillOnce(ctx, fill, price, log)
		if err == nil {
			if applied {
				e.sink.IncrCounter(metrics.MetricOrdersFilled, metrics.Labels{"operation": "fill"})
			}
			return nil
		}
		var conflict *types.ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
		lastErr = err
	}
	log.WithError(lastErr).Error("fill lost version race repeatedly")
	return lastErr
}

// applyFillOnce loads the order fresh and attempts a single guarded update.
// applied is false when the fill is a dedup drop or arrives on a terminal
// order.
func (e *Engine) applyFillOnce(ctx context.Context, fill *types.Fill, price decimal.Decimal, log *logrus.Entry) (bool, error) {
	order, err := e.repo.FindByOrderID(ctx, fill.OrderID)
	if err != nil {
		return false, err
	}

	if order.HasFillSeq(fill.Sequence) {
		log.Debug("dropping redelivered fill")
		return false, nil
	}
	if order.IsTerminal() {
		log.WithField("status", order.Status).Warn("dropping fill on terminal order")
		return false, nil
	}
	if fill.Quantity > order.RemainingQuantity() {
		log.WithFields(logrus.Fields{
			"fill_quantity": fill.Quantity,
			"remaining":     order.RemainingQuantity(),
		}).Warn("dropping overfill")
		return false, nil
	}

	expected := order.Version

	order.AveragePrice = weightedAverage(order.AveragePrice, order.FilledQuantity, price, fill.Quantity)
	order.FilledQuantity += fill.Quantity
	order.MarkFillSeq(fill.Sequence)

	event := bus.EventPartiallyFilled
	if order.RemainingQuantity() == 0 {
		if err := transition(order, types.OrderStatusFilled); err != nil {
			return false, err
		}
		executed := fill.Timestamp
		order.ExecutedAt = &executed
		event = bus.EventFilled
	} else if order.Status != types.OrderStatusCancelPending {
		// Partial fills keep CANCEL_PENDING orders where they are
		if err := transition(order, types.OrderStatusPartiallyFilled); err != nil {
			return false, err
		}
	}
	order.UpdatedAt = e.clock.Now()

	order, err = e.repo.UpdateIfVersion(ctx, order, expected)
	if err != nil {
		return false, err
	}

	e.record(order, event, "", fill.ExecutionID)
	log.WithFields(logrus.Fields{
		"filled_quantity": order.FilledQuantity,
		"average_price":   order.AveragePrice.String(),
		"status":          order.Status,
	}).Info("fill applied")
	return true, nil
}

// weightedAverage folds a new execution into the running average price,
// rounded half-up to 4 decimal places.
func weightedAverage(avg decimal.Decimal, filled int64, price decimal.Decimal, quantity int64) decimal.Decimal {
	prior := avg.Mul(decimal.NewFromInt(filled))
	incoming := price.Mul(decimal.NewFromInt(quantity))
	total := decimal.NewFromInt(filled + quantity)
	return prior.Add(incoming).Div(total).Round(4)
}
