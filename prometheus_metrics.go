package cloudblob

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// If registry is nil, a fresh registry is created.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(key, subsystem, name, help string, labels ...string) {
	p.counters[key] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudblob",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func (p *PrometheusMetrics) histogram(key, subsystem, name, help string, buckets []float64, labels ...string) {
	p.histograms[key] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudblob",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// registerDefaultMetrics registers all standard Datastore metrics.
// Every Datastore metric is labelled by namespace; SQL metrics by command.
func (p *PrometheusMetrics) registerDefaultMetrics() {
	latency := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	results := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000}

	p.counter(MetricGetSuccess, "get", "success_total", "Total number of successful gets", "namespace")
	p.counter(MetricGetError, "get", "errors_total", "Total number of failed gets", "namespace")
	p.histogram(MetricGetDuration, "get", "duration_seconds", "Get duration in seconds", latency, "namespace")

	p.counter(MetricPutSuccess, "put", "success_total", "Total number of successful puts", "namespace")
	p.counter(MetricPutError, "put", "errors_total", "Total number of failed puts", "namespace")
	p.histogram(MetricPutDuration, "put", "duration_seconds", "Put duration in seconds", latency, "namespace")

	p.histogram(MetricListDuration, "list", "duration_seconds", "List duration in seconds", latency, "namespace")
	p.histogram(MetricListResults, "list", "results", "Number of keys returned by list", results, "namespace")
	p.histogram(MetricFilterDuration, "filter", "duration_seconds", "Filter duration in seconds", latency, "namespace")
	p.histogram(MetricFilterResults, "filter", "results", "Number of matches returned by filter", results, "namespace")

	p.counter(MetricIndexAdd, "index", "adds_total", "Total number of documents added to an index", "namespace")
	p.counter(MetricIndexLoad, "index", "loads_total", "Total number of index loads", "namespace")
	p.counter(MetricIndexDump, "index", "dumps_total", "Total number of index dumps", "namespace")
	p.counter(MetricIndexErrors, "index", "errors_total", "Total number of index errors", "namespace")

	p.counter(MetricCacheHits, "cache", "hits_total", "Total number of cache hits", "namespace")
	p.counter(MetricCacheMisses, "cache", "misses_total", "Total number of cache misses", "namespace")
	p.counter(MetricCacheWrites, "cache", "writes_total", "Total number of cache writes", "namespace")
	p.counter(MetricCacheErrors, "cache", "errors_total", "Total number of cache errors", "namespace")

	p.counter(MetricSQLQueries, "sql", "queries_total", "Total number of SQL statements executed", "command")
	p.counter(MetricSQLErrors, "sql", "errors_total", "Total number of failed SQL statements", "command")

	p.histogram(MetricQueryDuration, "query", "duration_seconds", "Profiled query duration in seconds", latency, "namespace", "complexity")
	p.histogram(MetricQueryResults, "query", "results", "Rows returned by profiled queries", results, "namespace", "complexity")
	p.counter(MetricQueryFullScans, "query", "full_scans_total", "Total number of queries that scanned a whole namespace", "namespace")
	p.counter(MetricQueryErrors, "query", "errors_total", "Total number of failed profiled queries", "namespace")

	p.gauges[MetricBreakerState] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cloudblob",
			Subsystem: "breaker",
			Name:      "open",
			Help:      "1 when the cache circuit breaker is open",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudblob",
				Name:      metricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cloudblob",
				Name:      metricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cloudblob",
				Name:      metricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// metricName turns "cloudblob.custom.name" into "custom_name"
func metricName(name string) string {
	name = strings.TrimPrefix(name, "cloudblob.")
	return strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(name)
}
