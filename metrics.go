package cloudblob

import (
	"sync"
	"time"
)

// Metrics provides observability for Datastore operations.
// tags are alternating label name/value pairs.
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (result counts, sizes)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing.
// Tags are accepted but not recorded.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
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

// Counter returns the current value of a counter
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Common metric names
const (
	MetricGetSuccess     = "cloudblob.get.success"
	MetricGetError       = "cloudblob.get.error"
	MetricGetDuration    = "cloudblob.get.duration"
	MetricPutSuccess     = "cloudblob.put.success"
	MetricPutError       = "cloudblob.put.error"
	MetricPutDuration    = "cloudblob.put.duration"
	MetricListDuration   = "cloudblob.list.duration"
	MetricListResults    = "cloudblob.list.results"
	MetricFilterDuration = "cloudblob.filter.duration"
	MetricFilterResults  = "cloudblob.filter.results"
	MetricIndexAdd       = "cloudblob.index.add"
	MetricIndexLoad      = "cloudblob.index.load"
	MetricIndexDump      = "cloudblob.index.dump"
	MetricIndexErrors    = "cloudblob.index.errors"
	MetricCacheHits      = "cloudblob.cache.hits"
	MetricCacheMisses    = "cloudblob.cache.misses"
	MetricCacheWrites    = "cloudblob.cache.writes"
	MetricCacheErrors    = "cloudblob.cache.errors"
	MetricBreakerState   = "cloudblob.breaker.state"
	MetricSQLQueries     = "cloudblob.sql.queries"
	MetricSQLErrors      = "cloudblob.sql.errors"
	MetricQueryDuration  = "cloudblob.query.duration"
	MetricQueryResults   = "cloudblob.query.results"
	MetricQueryFullScans = "cloudblob.query.full_scans"
	MetricQueryErrors    = "cloudblob.query.errors"
)
