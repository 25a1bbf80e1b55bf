package broker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Registry is the capability and health map of all known brokers. The
// capability table is static; health state is updated by the scheduler's
// probes and by circuit-breaker transitions, and read as snapshots by the
// router so a routing pass sees consistent state.
type Registry struct {
	mu       sync.RWMutex
	statuses map[types.Broker]*types.BrokerStatus
	clock    clock.Clock
}

// brokerOrder fixes candidate enumeration order so routing stays
// deterministic.
var brokerOrder = []types.Broker{
	types.BrokerZerodha,
	types.BrokerUpstox,
	types.BrokerAngelOne,
}

// capabilities maps each broker to the exchanges it serves. UPSTOX has no
// MCX membership.
var capabilities = map[types.Broker][]types.Exchange{
	types.BrokerZerodha:  {types.ExchangeNSE, types.ExchangeBSE, types.ExchangeMCX},
	types.BrokerUpstox:   {types.ExchangeNSE, types.ExchangeBSE},
	types.BrokerAngelOne: {types.ExchangeNSE, types.ExchangeBSE, types.ExchangeMCX},
}

// feeBps is the per-broker fee schedule in basis points
var feeBps = map[types.Broker]decimal.Decimal{
	types.BrokerZerodha:  decimal.NewFromFloat(3),
	types.BrokerUpstox:   decimal.NewFromFloat(2),
	types.BrokerAngelOne: decimal.NewFromFloat(2.5),
}

var defaultFeeBps = decimal.NewFromFloat(5)

// NewRegistry creates a registry with every broker connected and healthy
func NewRegistry(clk clock.Clock) *Registry {
	r := &Registry{
		statuses: make(map[types.Broker]*types.BrokerStatus),
		clock:    clk,
	}
	for _, b := range brokerOrder {
		r.statuses[b] = &types.BrokerStatus{
			Broker:        b,
			State:         types.ConnectionConnected,
			HealthScore:   100,
			LastHeartbeat: clk.Now(),
		}
	}
	return r
}

// Brokers returns every known broker in deterministic order
func (r *Registry) Brokers() []types.Broker {
	out := make([]types.Broker, len(brokerOrder))
	copy(out, brokerOrder)
	return out
}

// BrokersForExchange returns the brokers with membership on the exchange,
// in deterministic order
func (r *Registry) BrokersForExchange(exchange types.Exchange) []types.Broker {
	var out []types.Broker
	for _, b := range brokerOrder {
		for _, ex := range capabilities[b] {
			if ex == exchange {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// Serves reports whether the broker has membership on the exchange
func (r *Registry) Serves(broker types.Broker, exchange types.Exchange) bool {
	for _, ex := range capabilities[broker] {
		if ex == exchange {
			return true
		}
	}
	return false
}

// FeeBps returns the broker's fee schedule in basis points
func (r *Registry) FeeBps(broker types.Broker) decimal.Decimal {
	if bps, ok := feeBps[broker]; ok {
		return bps
	}
	return defaultFeeBps
}

// Status returns a copy of the broker's current health state
func (r *Registry) Status(broker types.Broker) (types.BrokerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.statuses[broker]
	if !ok {
		return types.BrokerStatus{}, false
	}
	return *st, true
}

// Snapshot returns a consistent copy of every broker's health state
func (r *Registry) Snapshot() map[types.Broker]types.BrokerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.Broker]types.BrokerStatus, len(r.statuses))
	for b, st := range r.statuses {
		out[b] = *st
	}
	return out
}

// MarkSuccess records a successful broker call: failures reset, health
// recovers gradually, a degraded broker returns to connected.
func (r *Registry) MarkSuccess(broker types.Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[broker]
	if !ok {
		return
	}
	st.ConsecutiveFailures = 0
	st.LastHeartbeat = r.clock.Now()
	st.HealthScore = min(100, st.HealthScore+10)
	if st.State == types.ConnectionDegraded || st.State == types.ConnectionDisconnected {
		st.State = types.ConnectionConnected
	}
}

// MarkFailure records a failed broker call, degrading and eventually
// disconnecting the broker as failures accumulate.
func (r *Registry) MarkFailure(broker types.Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[broker]
	if !ok {
		return
	}
	st.ConsecutiveFailures++
	st.HealthScore = max(0, st.HealthScore-20)
	switch {
	case st.ConsecutiveFailures >= 5:
		st.State = types.ConnectionDisconnected
	case st.ConsecutiveFailures >= 2:
		st.State = types.ConnectionDegraded
	}
}

// SetState forces a broker's connection state, used for maintenance windows
func (r *Registry) SetState(broker types.Broker, state types.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.statuses[broker]; ok {
		st.State = state
	}
}

// Heartbeat records a successful health probe without touching failure
// counters
func (r *Registry) Heartbeat(broker types.Broker, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.statuses[broker]; ok {
		st.LastHeartbeat = at
	}
}
