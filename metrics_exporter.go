package cloudblob

import (
	"context"
	"sync"
	"time"
)

// MetricsExporter periodically drains a QueryProfiler into Metrics
type MetricsExporter struct {
	profiler *QueryProfiler
	metrics  Metrics
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(profiler *QueryProfiler, metrics Metrics, interval time.Duration) *MetricsExporter {
	return &MetricsExporter{
		profiler: profiler,
		metrics:  metrics,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start exports on every tick until Stop is called or ctx is done.
// Pending profiles are exported once more before returning.
func (e *MetricsExporter) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.export()
		case <-e.stopCh:
			e.export()
			return
		case <-ctx.Done():
			e.export()
			return
		}
	}
}

// Stop stops the exporter. It is safe to call more than once.
func (e *MetricsExporter) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// ExportOnce exports pending profiles immediately
func (e *MetricsExporter) ExportOnce() int {
	return e.export()
}

func (e *MetricsExporter) export() int {
	profiles := e.profiler.Drain()

	for _, profile := range profiles {
		if profile.Error != nil {
			e.metrics.Increment(MetricQueryErrors, "namespace", profile.Namespace)
			continue
		}

		complexity := string(profile.Complexity)
		e.metrics.Timing(MetricQueryDuration, profile.Duration,
			"namespace", profile.Namespace, "complexity", complexity)
		e.metrics.Histogram(MetricQueryResults, float64(profile.ResultCount),
			"namespace", profile.Namespace, "complexity", complexity)
		if profile.FullScan() {
			e.metrics.Increment(MetricQueryFullScans, "namespace", profile.Namespace)
		}
	}

	return len(profiles)
}
