package engine

import (
	"context"
	"errors"
	"time"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/bus"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// istZone is the exchange timezone; market close is 15:30 IST
var istZone = time.FixedZone("IST", 5*3600+1800)

const (
	marketCloseHour   = 15
	marketCloseMinute = 30
)

// ExpireDueOrders sweeps active orders and expires those past their life:
// DAY orders after the market close of their creation day, GTD orders past
// their expiry date. Returns how many orders were expired.
func (e *Engine) ExpireDueOrders(ctx context.Context) (int, error) {
	orders, err := e.repo.FindByStatusIn(ctx, []types.OrderStatus{
		types.OrderStatusPending,
		types.OrderStatusAcknowledged,
		types.OrderStatusPartiallyFilled,
	})
	if err != nil {
		return 0, err
	}

	now := e.clock.Now().In(istZone)
	expired := 0
	for _, order := range orders {
		if !e.isExpired(order, now) {
			continue
		}

		updated, err := e.applyTransition(ctx, order, types.OrderStatusExpired, func(o *types.Order) {
			o.RejectionReason = "expired by scheduler"
		})
		if err != nil {
			// A racing fill or cancel wins; the next sweep re-evaluates
			var conflict *types.ConflictError
			if errors.As(err, &conflict) {
				continue
			}
			return expired, err
		}

		expired++
		e.record(updated, bus.EventExpired, "", "")
		e.sink.IncrCounter(metrics.MetricOrdersExpired, metrics.Labels{
			"exchange": string(updated.Exchange),
		})
	}
	return expired, nil
}

// isExpired evaluates the order's lifetime against IST market hours
func (e *Engine) isExpired(order *types.Order, nowIST time.Time) bool {
	switch order.TimeInForce {
	case types.TimeInForceDay:
		created := order.CreatedAt.In(istZone)
		if !e.isTradingDay(created) {
			// No session on the creation day, nothing to keep alive
			return true
		}
		sessionClose := time.Date(created.Year(), created.Month(), created.Day(),
			marketCloseHour, marketCloseMinute, 0, 0, istZone)
		return nowIST.After(sessionClose)
	case types.TimeInForceGTD:
		if order.ExpiryDate == nil {
			return false
		}
		expiry := order.ExpiryDate.In(istZone)
		endOfExpiry := time.Date(expiry.Year(), expiry.Month(), expiry.Day(),
			marketCloseHour, marketCloseMinute, 0, 0, istZone)
		return nowIST.After(endOfExpiry)
	}
	return false
}

// isTradingDay excludes weekends and configured exchange holidays
func (e *Engine) isTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	date := t.Format("2006-01-02")
	for _, holiday := range e.cfg.MarketHolidays {
		if holiday == date {
			return false
		}
	}
	return true
}
