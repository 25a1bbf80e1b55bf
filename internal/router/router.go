package router

import (
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/broker"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/clock"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/metrics"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Routing rejection reasons
const (
	ReasonOrderTooLarge      = "ORDER_TOO_LARGE"
	ReasonNoBrokerAvailable  = "NO_BROKER_AVAILABLE"
	ReasonBrokerConnectivity = "BROKER_CONNECTIVITY"
)

// Connectivity answers whether a broker can take new orders right now.
// The breaker-wrapped broker client implements it.
type Connectivity interface {
	Usable(broker types.Broker) bool
}

// SmartRouter scores every eligible broker and picks the execution strategy
// and venue for an order. Scoring is multiplicative over independent
// factors; ties resolve by the registry's fixed broker order, so routing is
// deterministic for a given input and health state.
type SmartRouter struct {
	registry     *broker.Registry
	connectivity Connectivity
	cfg          *config.Config
	sink         metrics.Sink
	clock        clock.Clock
	logger       *logrus.Entry

	// probeCache holds recent connectivity answers so a routing burst does
	// not hammer the breaker state on every pass
	probeCache *gocache.Cache
}

// probeCacheTTL bounds how stale a cached connectivity answer may be
const probeCacheTTL = 2 * time.Second

// NewSmartRouter builds the router
func NewSmartRouter(registry *broker.Registry, connectivity Connectivity,
	cfg *config.Config, sink metrics.Sink, clk clock.Clock) *SmartRouter {

	return &SmartRouter{
		registry:     registry,
		connectivity: connectivity,
		cfg:          cfg,
		sink:         sink,
		clock:        clk,
		logger:       logrus.WithField("component", "smart-router"),
		probeCache:   gocache.New(probeCacheTTL, 30*time.Second),
	}
}

// Route produces a routing decision for a validated order. A non-routable
// order comes back as a REJECT decision, never an error; errors are reserved
// for internal failures. hint is the client's strategy hint, empty when not
// supplied.
func (r *SmartRouter) Route(order *types.Order, hint types.Strategy) *types.RoutingDecision {
	started := time.Now()
	decision := r.route(order, hint)
	decision.RouterName = "smart"
	decision.ProcessingTimeMs = time.Since(started).Milliseconds()

	r.sink.ObserveTimer(metrics.MetricRoutingTime, time.Since(started), metrics.Labels{
		"router": "smart",
	})
	r.sink.IncrCounter(metrics.MetricRoutingDecision, metrics.Labels{
		"router":    "smart",
		"broker":    string(decision.BrokerName),
		"strategy":  string(decision.Strategy),
		"exchange":  string(order.Exchange),
		"immediate": strconv.FormatBool(decision.ImmediateExecution),
	})

	r.logger.WithFields(logrus.Fields{
		"order_id":   order.OrderID,
		"broker":     decision.BrokerName,
		"strategy":   decision.Strategy,
		"venue":      decision.Venue,
		"confidence": decision.Confidence,
		"fallback":   decision.Fallback,
	}).Debug("routing decision")

	return decision
}

func (r *SmartRouter) route(order *types.Order, hint types.Strategy) *types.RoutingDecision {
	if order.Quantity > r.cfg.MaxSingleOrderQuantity {
		return &types.RoutingDecision{
			Strategy: types.StrategyReject,
			Reason:   ReasonOrderTooLarge,
		}
	}

	candidates := r.registry.BrokersForExchange(order.Exchange)
	if len(candidates) == 0 {
		return &types.RoutingDecision{
			Strategy: types.StrategyReject,
			Reason:   ReasonNoBrokerAvailable,
		}
	}

	sizeClass := r.ClassifySize(order.Quantity)
	strategy := r.StrategyWithHint(r.selectStrategy(order, sizeClass), hint)

	// Scoring ignores connectivity; the probe runs against the winner only
	best, score := r.bestBroker(candidates, order, sizeClass)
	if r.usable(best) {
		d := r.decisionFor(order, best, strategy, score)
		d.Reason = fmt.Sprintf("scored %.3f across %s candidates", score, order.Exchange)
		return d
	}

	fb := r.cfg.FallbackBroker
	if fb != best && r.registry.Serves(fb, order.Exchange) && r.usable(fb) {
		r.logger.WithFields(logrus.Fields{
			"order_id": order.OrderID,
			"chosen":   best,
			"fallback": fb,
		}).Warn("chosen broker unreachable, routing to fallback")
		d := r.decisionFor(order, fb, strategy, 0.7)
		d.Fallback = true
		d.Reason = fmt.Sprintf("%s unreachable, using configured fallback", best)
		return d
	}

	return &types.RoutingDecision{
		Strategy: types.StrategyReject,
		Reason:   ReasonBrokerConnectivity,
	}
}

func (r *SmartRouter) decisionFor(order *types.Order, b types.Broker, strategy types.Strategy, confidence float64) *types.RoutingDecision {
	return &types.RoutingDecision{
		BrokerName:             b,
		Venue:                  r.selectVenue(order.Exchange, strategy),
		Strategy:               strategy,
		ImmediateExecution:     strategy == types.StrategyImmediate,
		EstimatedExecutionTime: estimateExecutionTime(strategy),
		Confidence:             min(confidence, 1.0),
		EstimatedFee:           r.estimateFee(order, b),
	}
}

// bestBroker scores every candidate and returns the winner. Ties keep the
// earliest candidate in registry order.
func (r *SmartRouter) bestBroker(candidates []types.Broker, order *types.Order, sizeClass types.SizeClass) (types.Broker, float64) {
	var (
		best      types.Broker
		bestScore float64
	)
	for _, b := range candidates {
		score := r.scoreBroker(b, order, sizeClass)
		if score > bestScore {
			best, bestScore = b, score
		}
	}
	return best, bestScore
}

// scoreBroker multiplies the independent routing factors
func (r *SmartRouter) scoreBroker(b types.Broker, order *types.Order, sizeClass types.SizeClass) float64 {
	score := 0.8
	if b == r.cfg.PrimaryBroker {
		score = 1.0
	}

	switch sizeClass {
	case types.SizeMedium:
		score *= 0.9
	case types.SizeLarge:
		score *= 0.7
	}

	switch order.Type {
	case types.OrderTypeLimit:
		score *= 0.95
	case types.OrderTypeStopLoss, types.OrderTypeStopLimit:
		score *= 0.9
	}

	switch order.Exchange {
	case types.ExchangeNSE:
		// full weight
	case types.ExchangeBSE:
		score *= 0.95
	case types.ExchangeMCX:
		score *= 0.9
	default:
		score *= 0.5
	}
	return score
}

// ClassifySize buckets the quantity against the large-order threshold
func (r *SmartRouter) ClassifySize(quantity int64) types.SizeClass {
	threshold := r.cfg.LargeOrderThreshold
	switch {
	case quantity > threshold:
		return types.SizeLarge
	case quantity >= threshold/10:
		return types.SizeMedium
	}
	return types.SizeSmall
}

// selectStrategy picks the execution strategy from order type and size
func (r *SmartRouter) selectStrategy(order *types.Order, sizeClass types.SizeClass) types.Strategy {
	switch order.Type {
	case types.OrderTypeMarket:
		return types.StrategyImmediate
	case types.OrderTypeLimit:
		if sizeClass == types.SizeLarge {
			return types.StrategySliced
		}
		return types.StrategyImmediate
	case types.OrderTypeStopLoss, types.OrderTypeStopLimit:
		return types.StrategyScheduled
	}
	return types.StrategyImmediate
}

// StrategyWithHint applies a client hint over the computed strategy. The
// hint wins only when the advanced-orders flag is on and it names a real
// strategy.
func (r *SmartRouter) StrategyWithHint(computed, hint types.Strategy) types.Strategy {
	if !r.cfg.Features.AdvancedOrders || hint == "" {
		return computed
	}
	switch hint {
	case types.StrategyVWAP, types.StrategyTWAP, types.StrategyIceberg,
		types.StrategyDarkPool, types.StrategySliced, types.StrategySmart:
		return hint
	}
	return computed
}

// selectVenue maps the strategy to an execution venue code
func (r *SmartRouter) selectVenue(exchange types.Exchange, strategy types.Strategy) string {
	switch strategy {
	case types.StrategyDarkPool:
		return "DARK_POOL"
	case types.StrategyVWAP, types.StrategyTWAP, types.StrategyIceberg, types.StrategySliced:
		return "ALGORITHMIC"
	case types.StrategySmart:
		return string(exchange) + "_SMART"
	}
	return string(exchange)
}

// estimateFee applies the broker's bps schedule to the order notional.
// Market orders have no reference price; their fee estimate is zero.
func (r *SmartRouter) estimateFee(order *types.Order, b types.Broker) decimal.Decimal {
	price, ok := order.EffectivePrice()
	if !ok {
		return decimal.Zero
	}
	notional := price.Mul(decimal.NewFromInt(order.Quantity))
	return notional.Mul(r.registry.FeeBps(b)).Div(decimal.NewFromInt(10_000))
}

// usable consults the connectivity probe through a short TTL cache
func (r *SmartRouter) usable(b types.Broker) bool {
	key := string(b)
	if v, ok := r.probeCache.Get(key); ok {
		return v.(bool)
	}
	ok := r.connectivity.Usable(b)
	r.probeCache.Set(key, ok, gocache.DefaultExpiration)
	return ok
}

// InvalidateProbes drops cached connectivity answers, used when a breaker
// transitions so routing reacts immediately.
func (r *SmartRouter) InvalidateProbes() {
	r.probeCache.Flush()
}

func estimateExecutionTime(strategy types.Strategy) time.Duration {
	switch strategy {
	case types.StrategyImmediate:
		return 500 * time.Millisecond
	case types.StrategySliced, types.StrategyIceberg:
		return 5 * time.Minute
	case types.StrategyVWAP, types.StrategyTWAP:
		return 30 * time.Minute
	case types.StrategyScheduled:
		return time.Hour
	}
	return time.Second
}
