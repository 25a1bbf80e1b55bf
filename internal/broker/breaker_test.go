package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

func newResilient(t *testing.T, circuit config.CircuitConfig) (*ResilientClient, *PaperBroker, *Registry) {
	t.Helper()

	clk := clock.NewFakeClock(time.Now())
	registry := NewRegistry(clk)
	paper := NewPaperBroker(clk)
	timeouts := config.BrokerConfig{
		SubmitTimeout: time.Second,
		ModifyTimeout: time.Second,
		CancelTimeout: time.Second,
	}
	return NewResilientClient(paper, registry, clk, circuit, timeouts), paper, registry
}

func defaultCircuit() config.CircuitConfig {
	return config.CircuitConfig{
		FailureThreshold: 3,
		OpenDuration:     50 * time.Millisecond,
		HalfOpenProbes:   2,
		RollingWindow:    time.Minute,
		FailureRateMin:   100,
		FailureRatePct:   0.5,
	}
}

func submitOrder() (*types.Order, *types.RoutingDecision) {
	return &types.Order{OrderID: "ORD-1", Symbol: "RELIANCE", Exchange: types.ExchangeNSE},
		&types.RoutingDecision{BrokerName: types.BrokerZerodha}
}

func timeoutErr(b types.Broker) error {
	return &types.BrokerError{Broker: b, Kind: types.BrokerErrTimeout}
}

func TestSubmitSuccess(t *testing.T) {
	rc, _, registry := newResilient(t, defaultCircuit())
	order, decision := submitOrder()

	ack, err := rc.Submit(context.Background(), order, decision)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.BrokerOrderID)

	status, ok := registry.Status(types.BrokerZerodha)
	require.True(t, ok)
	assert.Equal(t, types.ConnectionConnected, status.State)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	rc, paper, registry := newResilient(t, defaultCircuit())
	order, decision := submitOrder()
	paper.FailNext(types.BrokerZerodha, -1, timeoutErr(types.BrokerZerodha))

	for i := 0; i < 3; i++ {
		_, err := rc.Submit(context.Background(), order, decision)
		var brokerErr *types.BrokerError
		require.ErrorAs(t, err, &brokerErr)
	}

	assert.Equal(t, gobreaker.StateOpen, rc.State(types.BrokerZerodha))
	assert.False(t, rc.Usable(types.BrokerZerodha))

	// Open circuit fails fast without a broker call
	_, err := rc.Submit(context.Background(), order, decision)
	var unavailable *types.ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, types.BrokerZerodha, unavailable.Broker)

	status, ok := registry.Status(types.BrokerZerodha)
	require.True(t, ok)
	assert.Equal(t, types.ConnectionDisconnected, status.State)
}

func TestBreakersAreIndependent(t *testing.T) {
	rc, paper, _ := newResilient(t, defaultCircuit())
	order, decision := submitOrder()
	paper.FailNext(types.BrokerZerodha, -1, timeoutErr(types.BrokerZerodha))

	for i := 0; i < 3; i++ {
		_, _ = rc.Submit(context.Background(), order, decision)
	}

	assert.Equal(t, gobreaker.StateOpen, rc.State(types.BrokerZerodha))
	assert.Equal(t, gobreaker.StateClosed, rc.State(types.BrokerUpstox))
	assert.True(t, rc.Usable(types.BrokerUpstox))
}

func TestMalformedErrorsDoNotTrip(t *testing.T) {
	rc, paper, _ := newResilient(t, defaultCircuit())
	order, decision := submitOrder()
	paper.FailNext(types.BrokerZerodha, -1,
		&types.BrokerError{Broker: types.BrokerZerodha, Kind: types.BrokerErrMalformed})

	for i := 0; i < 10; i++ {
		_, err := rc.Submit(context.Background(), order, decision)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateClosed, rc.State(types.BrokerZerodha))
}

func TestCancelDegradesWhenOpen(t *testing.T) {
	rc, paper, _ := newResilient(t, defaultCircuit())
	order, decision := submitOrder()
	paper.FailNext(types.BrokerZerodha, -1, timeoutErr(types.BrokerZerodha))
	for i := 0; i < 3; i++ {
		_, _ = rc.Submit(context.Background(), order, decision)
	}
	require.Equal(t, gobreaker.StateOpen, rc.State(types.BrokerZerodha))

	order.BrokerName = types.BrokerZerodha
	order.BrokerOrderID = "ZERODHA-abc"

	ack, err := rc.Cancel(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, ack.Degraded)
	assert.False(t, ack.AcceptedAt.IsZero())
}

func TestHalfOpenRecovery(t *testing.T) {
	rc, paper, registry := newResilient(t, defaultCircuit())
	order, decision := submitOrder()
	paper.FailNext(types.BrokerZerodha, -1, timeoutErr(types.BrokerZerodha))
	for i := 0; i < 3; i++ {
		_, _ = rc.Submit(context.Background(), order, decision)
	}
	require.Equal(t, gobreaker.StateOpen, rc.State(types.BrokerZerodha))

	paper.ClearFailures(types.BrokerZerodha)
	time.Sleep(70 * time.Millisecond)

	// Half-open probes succeed and close the circuit
	require.NoError(t, rc.Ping(context.Background(), types.BrokerZerodha))
	require.NoError(t, rc.Ping(context.Background(), types.BrokerZerodha))

	assert.Equal(t, gobreaker.StateClosed, rc.State(types.BrokerZerodha))
	status, ok := registry.Status(types.BrokerZerodha)
	require.True(t, ok)
	assert.Equal(t, types.ConnectionConnected, status.State)
}

func TestDeadlineBecomesTimeoutError(t *testing.T) {
	rc, paper, _ := newResilient(t, config.CircuitConfig{
		FailureThreshold: 100,
		OpenDuration:     time.Minute,
		HalfOpenProbes:   1,
		RollingWindow:    time.Minute,
		FailureRateMin:   1000,
		FailureRatePct:   1,
	})
	paper.SetLatency(50 * time.Millisecond)
	rc.timeouts.SubmitTimeout = 10 * time.Millisecond

	order, decision := submitOrder()
	_, err := rc.Submit(context.Background(), order, decision)

	var brokerErr *types.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, types.BrokerErrTimeout, brokerErr.Kind)
}

func TestRegistryHealthScoring(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	registry := NewRegistry(clk)

	registry.MarkFailure(types.BrokerZerodha)
	status, _ := registry.Status(types.BrokerZerodha)
	assert.Equal(t, float64(80), status.HealthScore)
	assert.Equal(t, types.ConnectionConnected, status.State)

	registry.MarkFailure(types.BrokerZerodha)
	status, _ = registry.Status(types.BrokerZerodha)
	assert.Equal(t, types.ConnectionDegraded, status.State)
	assert.True(t, status.Usable())

	for i := 0; i < 3; i++ {
		registry.MarkFailure(types.BrokerZerodha)
	}
	status, _ = registry.Status(types.BrokerZerodha)
	assert.Equal(t, types.ConnectionDisconnected, status.State)
	assert.False(t, status.Usable())
	assert.Equal(t, float64(0), status.HealthScore)

	registry.MarkSuccess(types.BrokerZerodha)
	status, _ = registry.Status(types.BrokerZerodha)
	assert.Equal(t, types.ConnectionConnected, status.State)
	assert.Equal(t, float64(10), status.HealthScore)
	assert.Zero(t, status.ConsecutiveFailures)
}

func TestRegistryCapabilities(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	registry := NewRegistry(clk)

	assert.Equal(t, []types.Broker{types.BrokerZerodha, types.BrokerUpstox, types.BrokerAngelOne},
		registry.BrokersForExchange(types.ExchangeNSE))
	assert.Equal(t, []types.Broker{types.BrokerZerodha, types.BrokerAngelOne},
		registry.BrokersForExchange(types.ExchangeMCX))

	assert.False(t, registry.Serves(types.BrokerUpstox, types.ExchangeMCX))
	assert.True(t, registry.Serves(types.BrokerUpstox, types.ExchangeBSE))

	assert.True(t, registry.FeeBps(types.BrokerZerodha).Equal(decimal.NewFromInt(3)))
	assert.True(t, registry.FeeBps(types.Broker("OTHER")).Equal(decimal.NewFromInt(5)))
}
