package broker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// ResilientClient wraps a Client with one independent circuit breaker per
// broker. Submit and modify fail fast while a breaker is open; cancel
// degrades gracefully so the engine can still park the order in
// CANCEL_PENDING for the reconciler.
type ResilientClient struct {
	inner    Client
	registry *Registry
	clock    clock.Clock
	timeouts config.BrokerConfig
	breakers map[types.Broker]*gobreaker.CircuitBreaker
	logger   *logrus.Entry
}

// NewResilientClient builds the breaker-wrapped client. Breakers share no
// state across brokers.
func NewResilientClient(inner Client, registry *Registry, clk clock.Clock,
	circuit config.CircuitConfig, timeouts config.BrokerConfig) *ResilientClient {

	rc := &ResilientClient{
		inner:    inner,
		registry: registry,
		clock:    clk,
		timeouts: timeouts,
		breakers: make(map[types.Broker]*gobreaker.CircuitBreaker),
		logger:   logrus.WithField("component", "broker-client"),
	}

	for _, b := range registry.Brokers() {
		rc.breakers[b] = rc.newBreaker(b, circuit)
	}
	return rc
}

func (rc *ResilientClient) newBreaker(broker types.Broker, circuit config.CircuitConfig) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        string(broker),
		MaxRequests: circuit.HalfOpenProbes,
		Interval:    circuit.RollingWindow,
		Timeout:     circuit.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= circuit.FailureThreshold {
				return true
			}
			if counts.Requests >= circuit.FailureRateMin {
				rate := float64(counts.TotalFailures) / float64(counts.Requests)
				return rate >= circuit.FailureRatePct
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var brokerErr *types.BrokerError
			if errors.As(err, &brokerErr) {
				return !brokerErr.CountsAgainstBreaker()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			rc.logger.WithFields(logrus.Fields{
				"broker": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("circuit breaker state change")

			switch to {
			case gobreaker.StateOpen:
				rc.registry.SetState(types.Broker(name), types.ConnectionDisconnected)
			case gobreaker.StateClosed:
				rc.registry.SetState(types.Broker(name), types.ConnectionConnected)
			}
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func (rc *ResilientClient) breaker(broker types.Broker) *gobreaker.CircuitBreaker {
	return rc.breakers[broker]
}

// State returns the breaker state for a broker
func (rc *ResilientClient) State(broker types.Broker) gobreaker.State {
	if cb, ok := rc.breakers[broker]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// Usable reports whether the broker can take new orders: breaker not open
// and registry state not disconnected or in maintenance.
func (rc *ResilientClient) Usable(broker types.Broker) bool {
	cb, ok := rc.breakers[broker]
	if !ok {
		return false
	}
	if cb.State() == gobreaker.StateOpen {
		return false
	}
	st, ok := rc.registry.Status(broker)
	return ok && st.Usable()
}

// Submit sends the order to the routed broker under the submit deadline
func (rc *ResilientClient) Submit(ctx context.Context, order *types.Order, decision *types.RoutingDecision) (*types.BrokerAck, error) {
	broker := decision.BrokerName
	cb := rc.breaker(broker)
	if cb == nil {
		return nil, &types.ServiceUnavailableError{Broker: broker}
	}

	callCtx, cancel := context.WithTimeout(ctx, rc.timeouts.SubmitTimeout)
	defer cancel()

	result, err := cb.Execute(func() (any, error) {
		ack, callErr := rc.inner.Submit(callCtx, order, decision)
		if callErr != nil {
			return nil, classifyError(broker, callErr)
		}
		return ack, nil
	})
	if err != nil {
		return nil, rc.mapError(broker, err)
	}

	rc.registry.MarkSuccess(broker)
	return result.(*types.BrokerAck), nil
}

// Modify sends a modification to the order's broker
func (rc *ResilientClient) Modify(ctx context.Context, order *types.Order, req *types.OrderRequest) (*types.BrokerAck, error) {
	broker := order.BrokerName
	cb := rc.breaker(broker)
	if cb == nil {
		return nil, &types.ServiceUnavailableError{Broker: broker}
	}

	callCtx, cancel := context.WithTimeout(ctx, rc.timeouts.ModifyTimeout)
	defer cancel()

	result, err := cb.Execute(func() (any, error) {
		ack, callErr := rc.inner.Modify(callCtx, order, req)
		if callErr != nil {
			return nil, classifyError(broker, callErr)
		}
		return ack, nil
	})
	if err != nil {
		return nil, rc.mapError(broker, err)
	}

	rc.registry.MarkSuccess(broker)
	return result.(*types.BrokerAck), nil
}

// Cancel sends a cancel under the cancel deadline. When the broker's
// breaker is open the cancel is accepted locally with Degraded set; the
// reconciler retries once the circuit closes.
func (rc *ResilientClient) Cancel(ctx context.Context, order *types.Order) (*types.CancelAck, error) {
	broker := order.BrokerName
	cb := rc.breaker(broker)
	if cb == nil {
		return nil, &types.ServiceUnavailableError{Broker: broker}
	}

	if cb.State() == gobreaker.StateOpen {
		rc.logger.WithFields(logrus.Fields{
			"broker":   broker,
			"order_id": order.OrderID,
		}).Warn("circuit open, accepting cancel in degraded mode")
		return &types.CancelAck{Degraded: true, AcceptedAt: rc.clock.Now()}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, rc.timeouts.CancelTimeout)
	defer cancel()

	result, err := cb.Execute(func() (any, error) {
		ack, callErr := rc.inner.Cancel(callCtx, order)
		if callErr != nil {
			return nil, classifyError(broker, callErr)
		}
		return ack, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &types.CancelAck{Degraded: true, AcceptedAt: rc.clock.Now()}, nil
		}
		return nil, rc.mapError(broker, err)
	}

	rc.registry.MarkSuccess(broker)
	return result.(*types.CancelAck), nil
}

// Ping probes the broker through its breaker, so a successful probe in
// half-open state helps close the circuit.
func (rc *ResilientClient) Ping(ctx context.Context, broker types.Broker) error {
	cb := rc.breaker(broker)
	if cb == nil {
		return &types.ServiceUnavailableError{Broker: broker}
	}

	_, err := cb.Execute(func() (any, error) {
		return nil, classifyError(broker, rc.inner.Ping(ctx, broker))
	})
	if err != nil {
		return rc.mapError(broker, err)
	}

	rc.registry.MarkSuccess(broker)
	rc.registry.Heartbeat(broker, rc.clock.Now())
	return nil
}

// mapError normalizes breaker sentinels and records failures in the registry
func (rc *ResilientClient) mapError(broker types.Broker, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &types.ServiceUnavailableError{Broker: broker}
	}

	var brokerErr *types.BrokerError
	if errors.As(err, &brokerErr) && brokerErr.CountsAgainstBreaker() {
		rc.registry.MarkFailure(broker)
	}
	return err
}
