package promadapters

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sequentic/aggregate-streams-eventstore-go/eventstore"
)

// MetricsCollector implements eventstore.MetricsCollector with Prometheus
// instruments: durations become histograms (seconds), counters become
// counters, values become gauges. Vectors are created lazily per metric name
// with the label names seen on first use.
type MetricsCollector struct {
	registerer prometheus.Registerer

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	labelNames map[string][]string
}

// NewMetricsCollector creates a collector registering its instruments with
// the given registerer. Pass prometheus.DefaultRegisterer for the usual
// global registry.
func NewMetricsCollector(registerer prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		registerer: registerer,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labelNames: make(map[string][]string),
	}
}

// RecordDuration records a duration observation, in seconds.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	histogram, exists := m.histograms[metricName]
	if !exists {
		if !m.pinLabelNames(metricName, labels) {
			return
		}

		histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName,
			Help:    "event store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, m.labelNames[metricName])

		if err := m.registerer.Register(histogram); err != nil {
			return
		}

		m.histograms[metricName] = histogram
	}

	if !m.labelsMatch(metricName, labels) {
		return
	}

	histogram.With(labels).Observe(duration.Seconds())
}

// IncrementCounter increments a monotonic counter.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counter, exists := m.counters[metricName]
	if !exists {
		if !m.pinLabelNames(metricName, labels) {
			return
		}

		counter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName,
			Help: "event store operation counter",
		}, m.labelNames[metricName])

		if err := m.registerer.Register(counter); err != nil {
			return
		}

		m.counters[metricName] = counter
	}

	if !m.labelsMatch(metricName, labels) {
		return
	}

	counter.With(labels).Inc()
}

// RecordValue records a current value into a gauge.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gauge, exists := m.gauges[metricName]
	if !exists {
		if !m.pinLabelNames(metricName, labels) {
			return
		}

		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricName,
			Help: "event store current value",
		}, m.labelNames[metricName])

		if err := m.registerer.Register(gauge); err != nil {
			return
		}

		m.gauges[metricName] = gauge
	}

	if !m.labelsMatch(metricName, labels) {
		return
	}

	gauge.With(labels).Set(value)
}

// pinLabelNames records the label-name set a metric was first observed with.
// A metric name can only ever carry one label-name set; conflicting reuse
// across instrument kinds is rejected.
func (m *MetricsCollector) pinLabelNames(metricName string, labels map[string]string) bool {
	if _, pinned := m.labelNames[metricName]; pinned {
		return false
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	m.labelNames[metricName] = names

	return true
}

func (m *MetricsCollector) labelsMatch(metricName string, labels map[string]string) bool {
	names := m.labelNames[metricName]
	if len(names) != len(labels) {
		return false
	}

	for _, name := range names {
		if _, exists := labels[name]; !exists {
			return false
		}
	}

	return true
}

var _ eventstore.MetricsCollector = (*MetricsCollector)(nil)
