package broker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Client is the outbound broker call surface. Implementations talk the
// actual broker wire protocol; the engine only sees this contract.
type Client interface {
	Submit(ctx context.Context, order *types.Order, decision *types.RoutingDecision) (*types.BrokerAck, error)
	Modify(ctx context.Context, order *types.Order, req *types.OrderRequest) (*types.BrokerAck, error)
	Cancel(ctx context.Context, order *types.Order) (*types.CancelAck, error)
	Ping(ctx context.Context, broker types.Broker) error
}

// PaperBroker simulates broker behavior in-process: acknowledgments with
// generated broker order ids, optional latency, and scriptable failures.
// Used by the default wiring and throughout the tests.
type PaperBroker struct {
	mu      sync.Mutex
	clock   clock.Clock
	latency time.Duration

	// failures maps broker -> scripted error returned on the next calls
	failures map[types.Broker]*scriptedFailure

	submitted map[string]string // order id -> broker order id
}

type scriptedFailure struct {
	err       error
	remaining int // negative means fail forever
}

// NewPaperBroker creates a simulator with no latency and no failures
func NewPaperBroker(clk clock.Clock) *PaperBroker {
	return &PaperBroker{
		clock:     clk,
		failures:  make(map[types.Broker]*scriptedFailure),
		submitted: make(map[string]string),
	}
}

// SetLatency adds artificial latency to every call
func (p *PaperBroker) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// FailNext scripts the next n calls against the broker to fail with err.
// n < 0 fails every call until cleared.
func (p *PaperBroker) FailNext(broker types.Broker, n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[broker] = &scriptedFailure{err: err, remaining: n}
}

// ClearFailures removes any scripted failure for the broker
func (p *PaperBroker) ClearFailures(broker types.Broker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, broker)
}

func (p *PaperBroker) takeFailure(broker types.Broker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.failures[broker]
	if !ok {
		return nil
	}
	if f.remaining == 0 {
		delete(p.failures, broker)
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func (p *PaperBroker) wait(ctx context.Context) error {
	p.mu.Lock()
	latency := p.latency
	p.mu.Unlock()

	if latency == 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit acknowledges the order with a generated broker order id
func (p *PaperBroker) Submit(ctx context.Context, order *types.Order, decision *types.RoutingDecision) (*types.BrokerAck, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if err := p.takeFailure(decision.BrokerName); err != nil {
		return nil, err
	}

	brokerOrderID := string(decision.BrokerName) + "-" + uuid.New().String()[:8]

	p.mu.Lock()
	p.submitted[order.OrderID] = brokerOrderID
	p.mu.Unlock()

	return &types.BrokerAck{
		BrokerOrderID: brokerOrderID,
		AcceptedAt:    p.clock.Now(),
	}, nil
}

// Modify acknowledges a modification against the original broker order id
func (p *PaperBroker) Modify(ctx context.Context, order *types.Order, req *types.OrderRequest) (*types.BrokerAck, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if err := p.takeFailure(order.BrokerName); err != nil {
		return nil, err
	}

	return &types.BrokerAck{
		BrokerOrderID: order.BrokerOrderID,
		AcceptedAt:    p.clock.Now(),
	}, nil
}

// Cancel acknowledges the cancel
func (p *PaperBroker) Cancel(ctx context.Context, order *types.Order) (*types.CancelAck, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if err := p.takeFailure(order.BrokerName); err != nil {
		return nil, err
	}

	return &types.CancelAck{
		BrokerOrderID: order.BrokerOrderID,
		AcceptedAt:    p.clock.Now(),
	}, nil
}

// Ping answers health probes, honouring scripted failures
func (p *PaperBroker) Ping(ctx context.Context, broker types.Broker) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	return p.takeFailure(broker)
}

// SimulateFillPrice returns a plausible fill price near the reference, used
// by demo wiring only.
func SimulateFillPrice(reference float64) float64 {
	jitter := (rand.Float64() - 0.5) * 0.001
	return reference * (1 + jitter)
}

// classifyError turns transport-level failures into the BrokerError taxonomy
func classifyError(broker types.Broker, err error) error {
	if err == nil {
		return nil
	}

	var brokerErr *types.BrokerError
	if errors.As(err, &brokerErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.BrokerError{Broker: broker, Kind: types.BrokerErrTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &types.BrokerError{Broker: broker, Kind: types.BrokerErrUnknown, Err: err}
	}
	return &types.BrokerError{Broker: broker, Kind: types.BrokerErrUnknown, Err: err}
}
