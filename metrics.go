package gridbase

import (
	"strings"
	"sync"
	"time"
)

// Metrics receives store instrumentation. tags are alternating label
// name/value pairs, e.g. "collection", "posts".
type Metrics interface {
	Increment(name string, tags ...string)
	Gauge(name string, value float64, tags ...string)
	Histogram(name string, value float64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is the default.
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics records everything it is given, for tests. The exported
// maps are keyed by metric name alone; CountTagged also matches tags.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
	tagged     map[string]int
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
		tagged:     make(map[string]int),
	}
}

func seriesKey(name string, tags []string) string {
	if len(tags) == 0 {
		return name
	}
	return name + "{" + strings.Join(tags, ",") + "}"
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
	m.tagged[seriesKey(name, tags)]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Count returns how often name was incremented, across all tags.
func (m *InMemoryMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// CountTagged returns how often name was incremented with exactly tags.
func (m *InMemoryMetrics) CountTagged(name string, tags ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tagged[seriesKey(name, tags)]
}

// Metric names. Tags used with each are registered by PrometheusMetrics.
const (
	MetricGridOps     = "gridbase.grid.ops"
	MetricGridErrors  = "gridbase.grid.errors"
	MetricGridLatency = "gridbase.grid.latency"

	MetricCacheHits   = "gridbase.cache.hits"
	MetricCacheMisses = "gridbase.cache.misses"
	MetricCacheSize   = "gridbase.cache.size" // documents held for a collection

	MetricCheckpointAllowed = "gridbase.checkpoint.allowed"
	MetricCheckpointDenied  = "gridbase.checkpoint.denied"

	MetricQueryDuration = "gridbase.query.duration"
	MetricQueryResults  = "gridbase.query.results"

	MetricWriteSuccess = "gridbase.write.success"
	MetricWriteError   = "gridbase.write.error"

	MetricLockWaitTime = "gridbase.lock.wait_duration"
)
