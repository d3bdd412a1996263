package gridbase

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const promNamespace = "gridbase"

// promSeries describes one pre-registered vector.
type promSeries struct {
	metric    string
	subsystem string
	name      string
	help      string
	labels    []string
	buckets   []float64
}

var (
	gridLabels       = []string{"operation", "sheet"}
	collectionLabels = []string{"collection"}
	permissionLabels = []string{"permission"}
)

var promCounters = []promSeries{
	{metric: MetricGridOps, subsystem: "grid", name: "operations_total", help: "Grid reads and row writes", labels: gridLabels},
	{metric: MetricGridErrors, subsystem: "grid", name: "errors_total", help: "Grid operations that failed", labels: gridLabels},
	{metric: MetricCacheHits, subsystem: "cache", name: "hits_total", help: "Collection reads served from the cache", labels: collectionLabels},
	{metric: MetricCacheMisses, subsystem: "cache", name: "misses_total", help: "Collections materialized from the grid", labels: collectionLabels},
	{metric: MetricCheckpointAllowed, subsystem: "checkpoint", name: "allowed_total", help: "Security checkpoints that passed", labels: permissionLabels},
	{metric: MetricCheckpointDenied, subsystem: "checkpoint", name: "denied_total", help: "Security checkpoints that denied access", labels: permissionLabels},
}

var promHistograms = []promSeries{
	{metric: MetricGridLatency, subsystem: "grid", name: "operation_duration_seconds", help: "Grid operation latency", labels: gridLabels, buckets: prometheus.DefBuckets},
	{metric: MetricQueryDuration, subsystem: "query", name: "duration_seconds", help: "Query latency including materialization", labels: collectionLabels,
		buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}},
	{metric: MetricQueryResults, subsystem: "query", name: "results", help: "Documents returned per query", labels: collectionLabels,
		buckets: prometheus.ExponentialBuckets(1, 4, 8)},
}

var promGauges = []promSeries{
	{metric: MetricCacheSize, subsystem: "cache", name: "documents", help: "Documents materialized per collection", labels: collectionLabels},
}

// PrometheusMetrics implements Metrics on a Prometheus registry. The metric
// constants get fixed vectors; any other name is registered on first use
// with the label names of that first call.
type PrometheusMetrics struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	factory    promauto.Factory
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics registers on registry, or on a fresh one when nil.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	p := &PrometheusMetrics{
		registry:   registry,
		factory:    promauto.With(registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for _, s := range promCounters {
		p.counters[s.metric] = p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace, Subsystem: s.subsystem, Name: s.name, Help: s.help,
		}, s.labels)
	}
	for _, s := range promHistograms {
		p.histograms[s.metric] = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace, Subsystem: s.subsystem, Name: s.name, Help: s.help, Buckets: s.buckets,
		}, s.labels)
	}
	for _, s := range promGauges {
		p.gauges[s.metric] = p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace, Subsystem: s.subsystem, Name: s.name, Help: s.help,
		}, s.labels)
	}
	return p
}

func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace, Name: dynamicName(name), Help: name,
		}, labelNames(tags))
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.With(labelValues(tags)).Inc()
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace, Name: dynamicName(name), Help: name,
		}, labelNames(tags))
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.With(labelValues(tags)).Set(value)
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace, Name: dynamicName(name), Help: name, Buckets: prometheus.DefBuckets,
		}, labelNames(tags))
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.With(labelValues(tags)).Observe(value)
}

// Timing observes duration in seconds.
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

func labelNames(tags []string) []string {
	var names []string
	for i := 0; i+1 < len(tags); i += 2 {
		names = append(names, tags[i])
	}
	return names
}

func labelValues(tags []string) prometheus.Labels {
	labels := prometheus.Labels{}
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// dynamicName turns "gridbase.lock.wait_duration" into "lock_wait_duration".
func dynamicName(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, promNamespace+"."), ".", "_")
}

func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}
