package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/bus"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Scheduler runs the engine's periodic maintenance: order expiry, broker
// health probes and reconciliation of cancels that could not reach their
// broker. Each task runs on its own ticker; a slow pass never blocks the
// others.
type Scheduler struct {
	engine *Engine
	logger *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for the engine
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine: engine,
		logger: logrus.WithField("component", "scheduler"),
	}
}

// Start launches the background tasks; Stop waits for them to finish
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	cfg := s.engine.cfg.Scheduler

	s.run(ctx, "expiry-sweep", cfg.ExpirySweepInterval, s.expirySweep)
	s.run(ctx, "health-probe", cfg.HealthProbeInterval, s.healthProbe)
	s.run(ctx, "cancel-reconcile", cfg.CancelReconcileInterval, s.reconcileCancels)
}

// Stop halts every task and blocks until they exit
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()
	s.logger.WithFields(logrus.Fields{
		"task":     name,
		"interval": interval,
	}).Info("scheduler task started")
}

func (s *Scheduler) expirySweep(ctx context.Context) {
	expired, err := s.engine.ExpireDueOrders(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("expiry sweep failed")
		return
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("expired stale orders")
	}
}

// healthProbe pings every broker and refreshes the health, active-order and
// exposure gauges.
func (s *Scheduler) healthProbe(ctx context.Context) {
	e := s.engine

	for _, b := range e.registry.Brokers() {
		probeCtx, cancel := context.WithTimeout(ctx, e.cfg.Broker.CancelTimeout)
		if err := e.brokers.Ping(probeCtx, b); err != nil {
			s.logger.WithError(err).WithField("broker", b).Debug("broker probe failed")
		}
		cancel()
	}

	for b, status := range e.registry.Snapshot() {
		e.sink.SetGauge(metrics.MetricBrokerHealth, status.HealthScore, metrics.Labels{
			"broker": string(b),
		})
	}

	e.sink.SetGauge(metrics.MetricActiveOrders, float64(e.repo.CountActive(ctx)), nil)
	s.refreshExposure(ctx)
}

// refreshExposure publishes the open notional routed at each broker
func (s *Scheduler) refreshExposure(ctx context.Context) {
	e := s.engine

	orders, err := e.repo.FindByStatusIn(ctx, activeStatuses())
	if err != nil {
		s.logger.WithError(err).Debug("exposure refresh failed")
		return
	}

	exposure := make(map[types.Broker]decimal.Decimal)
	for _, o := range orders {
		if o.BrokerName == "" {
			continue
		}
		price, ok := o.EffectivePrice()
		if !ok {
			continue
		}
		open := price.Mul(decimal.NewFromInt(o.RemainingQuantity()))
		exposure[o.BrokerName] = exposure[o.BrokerName].Add(open)
	}

	for _, b := range e.registry.Brokers() {
		value, _ := exposure[b].Float64()
		e.sink.SetGauge(metrics.MetricBrokerExposure, value, metrics.Labels{
			"broker": string(b),
		})
	}
}

// reconcileCancels retries cancels parked in CANCEL_PENDING once they have
// aged past the configured threshold.
func (s *Scheduler) reconcileCancels(ctx context.Context) {
	e := s.engine
	age := e.cfg.Scheduler.CancelReconcileAge

	orders, err := e.repo.FindByStatusIn(ctx, []types.OrderStatus{types.OrderStatusCancelPending})
	if err != nil {
		s.logger.WithError(err).Warn("cancel reconcile scan failed")
		return
	}

	now := e.clock.Now()
	for _, order := range orders {
		if now.Sub(order.UpdatedAt) < age {
			continue
		}

		ack, err := e.brokers.Cancel(ctx, order)
		if err != nil || ack.Degraded {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id": order.OrderID,
				"broker":   order.BrokerName,
			}).Debug("cancel still unreconciled")
			continue
		}

		updated, err := e.applyTransition(ctx, order, types.OrderStatusCancelled, nil)
		if err != nil {
			// A fill won the race; leave it to the fill path
			continue
		}
		e.record(updated, bus.EventCancelled, "", "reconciled")
		e.sink.IncrCounter(metrics.MetricOrdersCancelled, metrics.Labels{
			"broker":   string(updated.BrokerName),
			"exchange": string(updated.Exchange),
		})
		s.logger.WithField("order_id", updated.OrderID).Info("reconciled pending cancel")
	}
}
