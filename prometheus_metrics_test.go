package cloudblob

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if metrics.GetRegistry() != registry {
		t.Error("registry not set correctly")
	}
	if len(metrics.counters) == 0 {
		t.Error("expected counters to be registered")
	}
	if len(metrics.histograms) == 0 {
		t.Error("expected histograms to be registered")
	}
	if len(metrics.gauges) == 0 {
		t.Error("expected gauges to be registered")
	}
}

func TestNewPrometheusMetricsNilRegistry(t *testing.T) {
	metrics := NewPrometheusMetrics(nil)
	if metrics.GetRegistry() == nil {
		t.Fatal("expected a registry to be created")
	}
}

func TestPrometheusMetricsIncrement(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment(MetricCacheHits, "namespace", "user")
	metrics.Increment(MetricCacheHits, "namespace", "user")
	metrics.Increment(MetricCacheHits, "namespace", "post")

	mf := gatherFamily(t, registry, "cloudblob_cache_hits_total")
	if mf == nil {
		t.Fatal("expected cloudblob_cache_hits_total to be registered")
	}

	total := 0.0
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("total cache hits = %v, want 3", total)
	}
	if len(mf.GetMetric()) != 2 {
		t.Errorf("expected 2 label series, got %d", len(mf.GetMetric()))
	}
}

func TestPrometheusMetricsTiming(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Timing(MetricGetDuration, 100*time.Millisecond, "namespace", "user")
	metrics.Timing(MetricGetDuration, 50*time.Millisecond, "namespace", "user")

	mf := gatherFamily(t, registry, "cloudblob_get_duration_seconds")
	if mf == nil {
		t.Fatal("expected get duration histogram")
	}
	if mf.GetType() != dto.MetricType_HISTOGRAM {
		t.Errorf("expected histogram type, got %v", mf.GetType())
	}
	if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
		t.Errorf("sample count = %d, want 2", count)
	}
}

func TestPrometheusMetricsGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Gauge(MetricBreakerState, 1)
	metrics.Gauge(MetricBreakerState, 0)

	mf := gatherFamily(t, registry, "cloudblob_breaker_open")
	if mf == nil {
		t.Fatal("expected breaker gauge")
	}
	if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Errorf("gauge = %v, want 0", v)
	}
}

func TestPrometheusMetricsDynamic(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment("cloudblob.custom.events", "kind", "test")

	if mf := gatherFamily(t, registry, "cloudblob_custom_events"); mf == nil {
		t.Error("expected dynamic counter cloudblob_custom_events")
	}
}

func TestMetricName(t *testing.T) {
	testCases := map[string]string{
		"cloudblob.custom.events": "custom_events",
		"plain":                   "plain",
		"a-b/c":                   "a_b_c",
	}
	for in, want := range testCases {
		if got := metricName(in); got != want {
			t.Errorf("metricName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrometheusMetricsConcurrency(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				metrics.Increment(MetricPutSuccess, "namespace", "user")
				metrics.Histogram(MetricListResults, float64(j), "namespace", "user")
				metrics.Increment("cloudblob.concurrent.dynamic")
			}
		}()
	}
	wg.Wait()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "cloudblob_") {
			t.Errorf("unexpected metric family %q", mf.GetName())
		}
	}
}
