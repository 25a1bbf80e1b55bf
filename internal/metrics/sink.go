package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Metric names used across the service
const (
	MetricOrdersPlaced    = "trading.orders.placed"
	MetricOrdersFailed    = "trading.orders.failed"
	MetricOrdersFilled    = "trading.orders.filled"
	MetricOrdersCancelled = "trading.orders.cancelled"
	MetricOrdersExpired   = "trading.orders.expired"
	MetricProcessingTime  = "trading.orders.processing_time"
	MetricSLAViolations   = "trading.sla.violations"
	MetricRoutingTime     = "trading.routing"
	MetricRoutingDecision = "trading.routing.decisions"
	MetricActiveOrders    = "trading.orders.active"
	MetricBrokerExposure  = "trading.broker.exposure"
	MetricBrokerHealth    = "trading.broker.health"
)

// Labels tags a metric observation
type Labels map[string]string

// Sink is the metrics backend consumed by the engine and router. All
// implementations must be safe for concurrent use.
type Sink interface {
	IncrCounter(name string, labels Labels)
	AddCounter(name string, value float64, labels Labels)
	SetGauge(name string, value float64, labels Labels)
	AddGauge(name string, delta float64, labels Labels)
	ObserveTimer(name string, elapsed time.Duration, labels Labels)
}

// Label names are a closed set; values outside the schema are folded to
// "other" so a misbehaving caller cannot explode cardinality.
var labelSchema = map[string]map[string]bool{
	"operation": values("place", "modify", "cancel", "get", "list", "fill", "expire"),
	"broker":    values("ZERODHA", "UPSTOX", "ANGEL_ONE"),
	"exchange":  values("NSE", "BSE", "MCX"),
	"strategy": values("IMMEDIATE", "SLICED", "ICEBERG", "SCHEDULED", "SMART",
		"VWAP", "TWAP", "DARK_POOL", "REJECT"),
	"outcome": values("success", "failure", "degraded"),
	"error_type": values("VALIDATION_FAILED", "RISK_DECLINED", "ORDER_REJECTED",
		"CONFLICT", "BROKER_TIMEOUT", "BROKER_REJECTED", "BROKER_MALFORMED",
		"BROKER_UNKNOWN", "SERVICE_UNAVAILABLE", "STORAGE_FAILURE",
		"NOT_FOUND", "INTERNAL_ERROR"),
	"router":    values("smart"),
	"immediate": values("true", "false"),
}

func values(vs ...string) map[string]bool {
	m := make(map[string]bool, len(vs))
	for _, v := range vs {
		m[v] = true
	}
	return m
}

// Sanitize enforces the bounded label schema: unknown label names are
// dropped, unknown values replaced with "other".
func Sanitize(labels Labels) Labels {
	if len(labels) == 0 {
		return nil
	}
	out := make(Labels, len(labels))
	for name, value := range labels {
		allowed, known := labelSchema[name]
		if !known {
			continue
		}
		if !allowed[value] {
			value = "other"
		}
		out[name] = value
	}
	return out
}

// seriesKey renders name plus sorted labels into a stable map key
func seriesKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += fmt.Sprintf("{%s=%s}", k, labels[k])
	}
	return key
}

// MemorySink is an in-process Sink with queryable values, used in tests and
// as the default when no metrics endpoint is configured.
type MemorySink struct {
	mu       sync.RWMutex
	counters map[string]float64
	gauges   map[string]float64
	timers   map[string][]time.Duration
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		timers:   make(map[string][]time.Duration),
	}
}

func (s *MemorySink) IncrCounter(name string, labels Labels) {
	s.AddCounter(name, 1, labels)
}

func (s *MemorySink) AddCounter(name string, value float64, labels Labels) {
	key := seriesKey(name, Sanitize(labels))
	s.mu.Lock()
	s.counters[key] += value
	s.mu.Unlock()
}

func (s *MemorySink) SetGauge(name string, value float64, labels Labels) {
	key := seriesKey(name, Sanitize(labels))
	s.mu.Lock()
	s.gauges[key] = value
	s.mu.Unlock()
}

func (s *MemorySink) AddGauge(name string, delta float64, labels Labels) {
	key := seriesKey(name, Sanitize(labels))
	s.mu.Lock()
	s.gauges[key] += delta
	s.mu.Unlock()
}

func (s *MemorySink) ObserveTimer(name string, elapsed time.Duration, labels Labels) {
	key := seriesKey(name, Sanitize(labels))
	s.mu.Lock()
	s.timers[key] = append(s.timers[key], elapsed)
	s.mu.Unlock()
}

// Counter returns the current value of a counter series
func (s *MemorySink) Counter(name string, labels Labels) float64 {
	key := seriesKey(name, Sanitize(labels))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

// CounterTotal sums every series of a counter regardless of labels
func (s *MemorySink) CounterTotal(name string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for key, v := range s.counters {
		if key == name || (len(key) > len(name) && key[:len(name)+1] == name+"{") {
			total += v
		}
	}
	return total
}

// Gauge returns the current value of a gauge series
func (s *MemorySink) Gauge(name string, labels Labels) float64 {
	key := seriesKey(name, Sanitize(labels))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gauges[key]
}

// TimerCount returns how many observations a timer series received
func (s *MemorySink) TimerCount(name string, labels Labels) int {
	key := seriesKey(name, Sanitize(labels))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timers[key])
}
