package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFoldsUnknownValues(t *testing.T) {
	out := Sanitize(Labels{
		"broker":     "ZERODHA",
		"exchange":   "NASDAQ",
		"user_id":    "12345",
		"error_type": "VALIDATION_FAILED",
	})

	assert.Equal(t, "ZERODHA", out["broker"])
	assert.Equal(t, "other", out["exchange"], "unknown value folds to other")
	assert.Equal(t, "VALIDATION_FAILED", out["error_type"])
	_, hasUserID := out["user_id"]
	assert.False(t, hasUserID, "unknown label names are dropped")
}

func TestSanitizeEmpty(t *testing.T) {
	assert.Nil(t, Sanitize(nil))
	assert.Nil(t, Sanitize(Labels{}))
}

func TestMemorySinkCounters(t *testing.T) {
	s := NewMemorySink()

	s.IncrCounter(MetricOrdersPlaced, Labels{"broker": "ZERODHA"})
	s.IncrCounter(MetricOrdersPlaced, Labels{"broker": "ZERODHA"})
	s.IncrCounter(MetricOrdersPlaced, Labels{"broker": "UPSTOX"})
	s.AddCounter(MetricOrdersPlaced, 3, nil)

	assert.Equal(t, float64(2), s.Counter(MetricOrdersPlaced, Labels{"broker": "ZERODHA"}))
	assert.Equal(t, float64(1), s.Counter(MetricOrdersPlaced, Labels{"broker": "UPSTOX"}))
	assert.Equal(t, float64(6), s.CounterTotal(MetricOrdersPlaced))
}

func TestMemorySinkGaugesAndTimers(t *testing.T) {
	s := NewMemorySink()

	s.SetGauge(MetricBrokerHealth, 80, Labels{"broker": "ZERODHA"})
	s.AddGauge(MetricBrokerHealth, -30, Labels{"broker": "ZERODHA"})
	assert.Equal(t, float64(50), s.Gauge(MetricBrokerHealth, Labels{"broker": "ZERODHA"}))

	s.ObserveTimer(MetricProcessingTime, 5*time.Millisecond, Labels{"operation": "place"})
	s.ObserveTimer(MetricProcessingTime, 7*time.Millisecond, Labels{"operation": "place"})
	assert.Equal(t, 2, s.TimerCount(MetricProcessingTime, Labels{"operation": "place"}))
}

func TestSeriesKeyStable(t *testing.T) {
	a := seriesKey("m", Labels{"x": "1", "y": "2"})
	b := seriesKey("m", Labels{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
}

func TestPromSinkAcceptsObservations(t *testing.T) {
	s := NewPromSink()

	// Same metric with the same label set must reuse the collector
	s.IncrCounter(MetricOrdersPlaced, Labels{"broker": "ZERODHA"})
	s.IncrCounter(MetricOrdersPlaced, Labels{"broker": "UPSTOX"})
	s.SetGauge(MetricActiveOrders, 3, nil)
	s.ObserveTimer(MetricProcessingTime, time.Millisecond, Labels{"operation": "place"})

	assert.NotNil(t, s.Handler())
}
