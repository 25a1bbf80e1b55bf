package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/broker"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/risk"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/router"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/store"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/bus"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// BrokerClient is the engine's view of the breaker-wrapped broker layer
type BrokerClient interface {
	Submit(ctx context.Context, order *types.Order, decision *types.RoutingDecision) (*types.BrokerAck, error)
	Modify(ctx context.Context, order *types.Order, req *types.OrderRequest) (*types.BrokerAck, error)
	Cancel(ctx context.Context, order *types.Order) (*types.CancelAck, error)
	Ping(ctx context.Context, broker types.Broker) error
}

// Engine drives the order lifecycle: validation, risk, routing, broker
// submission and every later state change. All writes go through the store's
// version-guarded update so concurrent operations on the same order resolve
// to exactly one winner.
type Engine struct {
	cfg       *config.Config
	repo      store.Repository
	journal   *store.Journal
	brokers   BrokerClient
	registry  *broker.Registry
	router    *router.SmartRouter
	gate      risk.Gate
	bus       bus.Bus
	sink      metrics.Sink
	clock     clock.Clock
	ids       clock.IDGen
	validator *Validator
	sla       slaBudgets
	logger    *logrus.Entry
}

// NewEngine wires the engine. journal may be nil to disable the audit trail.
func NewEngine(cfg *config.Config, repo store.Repository, journal *store.Journal,
	brokers BrokerClient, registry *broker.Registry, smartRouter *router.SmartRouter,
	gate risk.Gate, eventBus bus.Bus, sink metrics.Sink, clk clock.Clock, ids clock.IDGen) *Engine {

	return &Engine{
		cfg:       cfg,
		repo:      repo,
		journal:   journal,
		brokers:   brokers,
		registry:  registry,
		router:    smartRouter,
		gate:      gate,
		bus:       eventBus,
		sink:      sink,
		clock:     clk,
		ids:       ids,
		validator: NewValidator(cfg),
		sla:       slaBudgetsFrom(cfg),
		logger:    logrus.WithField("component", "order-engine"),
	}
}

// PlaceOrder runs the full placement pipeline. On success the returned order
// is ACKNOWLEDGED at a broker; every failure path leaves the order either
// unpersisted or in a terminal REJECTED state, never half-routed.
func (e *Engine) PlaceOrder(ctx context.Context, userID int64, req *types.OrderRequest) (*types.OrderResponse, error) {
	started := time.Now()
	correlationID := e.ids.NewCorrelationID()
	log := e.logger.WithFields(logrus.Fields{
		"correlation_id": correlationID,
		"user_id":        userID,
	})

	respond := func(order *types.Order, err error) (*types.OrderResponse, error) {
		e.observeOperation("place", started, err)
		if err != nil {
			return nil, err
		}
		return types.NewOrderResponse(order), nil
	}

	if err := e.validator.ValidatePlace(req, e.clock.Now()); err != nil {
		log.WithError(err).Debug("placement failed validation")
		return respond(nil, err)
	}

	approval, err := e.gate.Assess(ctx, req, userID)
	if err != nil {
		log.WithError(err).Info("placement declined by risk gate")
		return respond(nil, err)
	}

	// Orders are born NEW in memory only; the first persisted state is
	// PENDING at version 1.
	now := e.clock.Now()
	order := &types.Order{
		OrderID:     e.ids.NewOrderID(),
		UserID:      userID,
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		Side:        req.Side,
		Type:        req.Type,
		Status:      types.OrderStatusPending,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		ExpiryDate:  req.ExpiryDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	order, err = e.repo.Save(ctx, order)
	if err != nil {
		log.WithError(err).Error("failed to persist order")
		return respond(nil, err)
	}
	log = log.WithField("order_id", order.OrderID)
	e.record(order, bus.EventPlaced, correlationID, "risk level "+approval.RiskLevel)
	e.sink.IncrCounter(metrics.MetricOrdersPlaced, metrics.Labels{
		"exchange": string(order.Exchange),
	})
	e.sink.SetGauge(metrics.MetricActiveOrders, float64(e.repo.CountActive(ctx)), nil)

	decision := e.router.Route(order, req.StrategyHint)
	if decision.Rejected() {
		order, _ = e.applyTransition(ctx, order, types.OrderStatusRejected, func(o *types.Order) {
			o.RejectionReason = decision.Reason
		})
		e.record(order, bus.EventRejected, correlationID, decision.Reason)
		log.WithField("reason", decision.Reason).Info("placement rejected by router")
		return respond(nil, &types.OrderRejectedError{OrderID: order.OrderID, Reason: decision.Reason})
	}

	ack, err := e.brokers.Submit(ctx, order, decision)
	if err != nil {
		order, _ = e.applyTransition(ctx, order, types.OrderStatusRejected, func(o *types.Order) {
			o.BrokerName = decision.BrokerName
			o.RejectionReason = err.Error()
		})
		e.record(order, bus.EventRejected, correlationID, err.Error())
		log.WithError(err).WithField("broker", decision.BrokerName).Warn("broker submission failed")
		return respond(nil, err)
	}

	order, err = e.applyTransition(ctx, order, types.OrderStatusAcknowledged, func(o *types.Order) {
		o.BrokerName = decision.BrokerName
		o.BrokerOrderID = ack.BrokerOrderID
		submitted := ack.AcceptedAt
		o.SubmittedAt = &submitted
	})
	if err != nil {
		return respond(nil, err)
	}
	e.record(order, bus.EventAcknowledged, correlationID, string(decision.Strategy))

	log.WithFields(logrus.Fields{
		"broker":          decision.BrokerName,
		"broker_order_id": ack.BrokerOrderID,
		"strategy":        decision.Strategy,
	}).Info("order placed")

	return respond(order, nil)
}

// ModifyOrder updates quantity and prices of a working order through the
// broker, guarded by the order's version.
func (e *Engine) ModifyOrder(ctx context.Context, userID int64, orderID string, req *types.OrderRequest) (*types.OrderResponse, error) {
	started := time.Now()
	correlationID := e.ids.NewCorrelationID()

	respond := func(order *types.Order, err error) (*types.OrderResponse, error) {
		e.observeOperation("modify", started, err)
		if err != nil {
			return nil, err
		}
		return types.NewOrderResponse(order), nil
	}

	order, err := e.loadOwned(ctx, userID, orderID)
	if err != nil {
		return respond(nil, err)
	}
	if !order.IsModifiable() {
		return respond(nil, &types.OrderRejectedError{
			OrderID: orderID,
			Reason:  "order in state " + order.Status + " cannot be modified",
		})
	}
	if err := e.validator.ValidateModify(req, order.FilledQuantity); err != nil {
		return respond(nil, err)
	}

	if _, err := e.brokers.Modify(ctx, order, req); err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("broker modify failed")
		return respond(nil, err)
	}

	expected := order.Version
	order.Quantity = req.Quantity
	if !req.LimitPrice.IsZero() {
		order.LimitPrice = req.LimitPrice
	}
	if !req.StopPrice.IsZero() {
		order.StopPrice = req.StopPrice
	}
	order.UpdatedAt = e.clock.Now()

	order, err = e.repo.UpdateIfVersion(ctx, order, expected)
	if err != nil {
		return respond(nil, err)
	}
	e.record(order, bus.EventModified, correlationID, "")

	return respond(order, nil)
}

// CancelOrder cancels a working order. Orders not yet at a broker cancel
// locally; a broker outage parks the order in CANCEL_PENDING for the
// reconciler instead of failing the request.
func (e *Engine) CancelOrder(ctx context.Context, userID int64, orderID string) (*types.OrderResponse, error) {
	started := time.Now()
	correlationID := e.ids.NewCorrelationID()

	respond := func(order *types.Order, err error) (*types.OrderResponse, error) {
		e.observeOperation("cancel", started, err)
		if err != nil {
			return nil, err
		}
		return types.NewOrderResponse(order), nil
	}

	order, err := e.loadOwned(ctx, userID, orderID)
	if err != nil {
		return respond(nil, err)
	}
	if !order.IsCancellable() {
		return respond(nil, &types.OrderRejectedError{
			OrderID: orderID,
			Reason:  "order in state " + order.Status + " cannot be cancelled",
		})
	}

	// Never reached a broker: cancel is purely local
	if order.BrokerOrderID == "" {
		order, err = e.applyTransition(ctx, order, types.OrderStatusCancelled, nil)
		if err != nil {
			return respond(nil, err)
		}
		e.record(order, bus.EventCancelled, correlationID, "cancelled before submission")
		e.sink.IncrCounter(metrics.MetricOrdersCancelled, metrics.Labels{"exchange": string(order.Exchange)})
		return respond(order, nil)
	}

	ack, err := e.brokers.Cancel(ctx, order)
	if err != nil {
		var brokerErr *types.BrokerError
		if errors.As(err, &brokerErr) && brokerErr.Kind == types.BrokerErrTimeout {
			// The broker may or may not have seen the cancel; park it for
			// the reconciler rather than guessing.
			order, perr := e.applyTransition(ctx, order, types.OrderStatusCancelPending, nil)
			if perr != nil {
				return respond(nil, perr)
			}
			e.record(order, bus.EventCancelRequested, correlationID, "broker timeout, pending reconcile")
			return respond(order, nil)
		}
		e.logger.WithError(err).WithField("order_id", orderID).Warn("broker cancel failed")
		return respond(nil, err)
	}

	if ack.Degraded {
		order, err = e.applyTransition(ctx, order, types.OrderStatusCancelPending, nil)
		if err != nil {
			return respond(nil, err)
		}
		e.record(order, bus.EventCancelRequested, correlationID, "broker circuit open, pending reconcile")
		return respond(order, nil)
	}

	order, err = e.applyTransition(ctx, order, types.OrderStatusCancelled, nil)
	if err != nil {
		return respond(nil, err)
	}
	e.record(order, bus.EventCancelled, correlationID, "")
	e.sink.IncrCounter(metrics.MetricOrdersCancelled, metrics.Labels{
		"broker":   string(order.BrokerName),
		"exchange": string(order.Exchange),
	})
	return respond(order, nil)
}

// GetOrder returns a single order owned by the user
func (e *Engine) GetOrder(ctx context.Context, userID int64, orderID string) (*types.OrderResponse, error) {
	order, err := e.loadOwned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return types.NewOrderResponse(order), nil
}

// GetOrdersByUser lists the user's orders, newest first
func (e *Engine) GetOrdersByUser(ctx context.Context, userID int64, page types.Page) ([]*types.OrderResponse, error) {
	orders, err := e.repo.FindByUserID(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return toResponses(orders), nil
}

// GetOrdersByUserAndStatus lists the user's orders filtered to one status
func (e *Engine) GetOrdersByUserAndStatus(ctx context.Context, userID int64, status types.OrderStatus, page types.Page) ([]*types.OrderResponse, error) {
	orders, err := e.repo.FindByUserID(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	filtered := orders[:0]
	for _, o := range orders {
		if o.Status == status {
			filtered = append(filtered, o)
		}
	}
	return toResponses(filtered), nil
}

// GetActiveOrders lists the user's non-terminal orders
func (e *Engine) GetActiveOrders(ctx context.Context, userID int64) ([]*types.OrderResponse, error) {
	orders, err := e.repo.FindByStatusIn(ctx, activeStatuses())
	if err != nil {
		return nil, err
	}
	owned := orders[:0]
	for _, o := range orders {
		if o.UserID == userID {
			owned = append(owned, o)
		}
	}
	return toResponses(owned), nil
}

// loadOwned loads an order and hides other users' orders behind NOT_FOUND
func (e *Engine) loadOwned(ctx context.Context, userID int64, orderID string) (*types.Order, error) {
	order, err := e.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, &types.NotFoundError{OrderID: orderID}
	}
	return order, nil
}

// applyTransition moves the order through the state machine and persists it
// under its current version.
func (e *Engine) applyTransition(ctx context.Context, order *types.Order, to types.OrderStatus, mutate func(*types.Order)) (*types.Order, error) {
	expected := order.Version
	if err := transition(order, to); err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(order)
	}
	order.UpdatedAt = e.clock.Now()
	return e.repo.UpdateIfVersion(ctx, order, expected)
}

// record journals and publishes one lifecycle event
func (e *Engine) record(order *types.Order, event, correlationID, detail string) {
	if order == nil {
		return
	}
	if e.journal != nil {
		e.journal.Append(store.JournalEvent{
			Timestamp:     e.clock.Now(),
			Event:         event,
			OrderID:       order.OrderID,
			UserID:        order.UserID,
			Status:        order.Status,
			Broker:        order.BrokerName,
			CorrelationID: correlationID,
			Detail:        detail,
		})
	}
	if e.bus != nil {
		ev := &bus.OrderEvent{
			Event:          event,
			OrderID:        order.OrderID,
			UserID:         order.UserID,
			Symbol:         order.Symbol,
			Exchange:       string(order.Exchange),
			Status:         order.Status,
			FilledQuantity: order.FilledQuantity,
			Quantity:       order.Quantity,
			Broker:         string(order.BrokerName),
			Reason:         detail,
			Timestamp:      types.FormatTimestamp(e.clock.Now()),
			CorrelationID:  correlationID,
		}
		if !order.AveragePrice.IsZero() {
			ev.AveragePrice = order.AveragePrice.String()
		}
		e.bus.PublishOrderEvent(ev)
	}
}

// observeOperation records latency, SLA breaches and failure counters for
// one public operation.
func (e *Engine) observeOperation(operation string, started time.Time, err error) {
	elapsed := time.Since(started)
	e.sink.ObserveTimer(metrics.MetricProcessingTime, elapsed, metrics.Labels{
		"operation": operation,
	})
	e.checkSLA(operation, elapsed)

	if err != nil {
		e.sink.IncrCounter(metrics.MetricOrdersFailed, metrics.Labels{
			"operation":  operation,
			"error_type": types.ErrorCode(err),
		})
	}
}

func activeStatuses() []types.OrderStatus {
	return []types.OrderStatus{
		types.OrderStatusNew,
		types.OrderStatusPending,
		types.OrderStatusAcknowledged,
		types.OrderStatusPartiallyFilled,
		types.OrderStatusCancelPending,
	}
}

func toResponses(orders []*types.Order) []*types.OrderResponse {
	out := make([]*types.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.NewOrderResponse(o))
	}
	return out
}
