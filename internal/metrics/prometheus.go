package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromSink exports metrics through a dedicated prometheus registry.
// Collectors are created lazily per metric name and label set; the bounded
// label schema keeps series cardinality under control.
type PromSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromSink creates a sink backed by a fresh prometheus registry
func NewPromSink() *PromSink {
	return &PromSink{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the /metrics scrape endpoint
func (s *PromSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *PromSink) IncrCounter(name string, labels Labels) {
	s.AddCounter(name, 1, labels)
}

func (s *PromSink) AddCounter(name string, value float64, labels Labels) {
	labels = Sanitize(labels)
	s.counterVec(name, labelNames(labels)).With(prometheus.Labels(labels)).Add(value)
}

func (s *PromSink) SetGauge(name string, value float64, labels Labels) {
	labels = Sanitize(labels)
	s.gaugeVec(name, labelNames(labels)).With(prometheus.Labels(labels)).Set(value)
}

func (s *PromSink) AddGauge(name string, delta float64, labels Labels) {
	labels = Sanitize(labels)
	s.gaugeVec(name, labelNames(labels)).With(prometheus.Labels(labels)).Add(delta)
}

func (s *PromSink) ObserveTimer(name string, elapsed time.Duration, labels Labels) {
	labels = Sanitize(labels)
	s.histogramVec(name, labelNames(labels)).
		With(prometheus.Labels(labels)).
		Observe(elapsed.Seconds())
}

func (s *PromSink) counterVec(name string, names []string) *prometheus.CounterVec {
	key := vecKey(name, names)

	s.mu.Lock()
	defer s.mu.Unlock()

	vec, ok := s.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: promName(name)},
			names,
		)
		s.registry.MustRegister(vec)
		s.counters[key] = vec
	}
	return vec
}

func (s *PromSink) gaugeVec(name string, names []string) *prometheus.GaugeVec {
	key := vecKey(name, names)

	s.mu.Lock()
	defer s.mu.Unlock()

	vec, ok := s.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: promName(name)},
			names,
		)
		s.registry.MustRegister(vec)
		s.gauges[key] = vec
	}
	return vec
}

func (s *PromSink) histogramVec(name string, names []string) *prometheus.HistogramVec {
	key := vecKey(name, names)

	s.mu.Lock()
	defer s.mu.Unlock()

	vec, ok := s.histograms[key]
	if !ok {
		vec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: promName(name) + "_seconds",
				Buckets: []float64{
					0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1,
					0.25, 0.5, 1.0, 2.5, 5.0,
				},
			},
			names,
		)
		s.registry.MustRegister(vec)
		s.histograms[key] = vec
	}
	return vec
}

// promName turns dotted metric names into prometheus form
func promName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func labelNames(labels Labels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func vecKey(name string, names []string) string {
	return name + "|" + strings.Join(names, ",")
}
