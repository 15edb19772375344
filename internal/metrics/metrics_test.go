package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestMetricType(t *testing.T) {
	tests := []struct {
		name       string
		metricType MetricType
		expected   string
	}{
		{"counter type", TypeCounter, "counter"},
		{"gauge type", TypeGauge, "gauge"},
		{"histogram type", TypeHistogram, "histogram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.metricType) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.metricType))
			}
		})
	}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	if registry == nil {
		t.Fatal("Registry should not be nil")
	}
	if !registry.IsEnabled() {
		t.Error("Registry should be enabled by default")
	}
	if registry.metrics == nil {
		t.Error("Metrics map should be initialized")
	}
}

func TestRegistryEnableDisable(t *testing.T) {
	registry := NewRegistry()

	registry.SetEnabled(false)
	registry.Counter(MetricProbesTotal, Labels{LabelStatus: "open"})
	if len(registry.GetMetrics()) != 0 {
		t.Error("Disabled registry should not record metrics")
	}

	registry.SetEnabled(true)
	registry.Counter(MetricProbesTotal, Labels{LabelStatus: "open"})
	if len(registry.GetMetrics()) != 1 {
		t.Error("Enabled registry should record metrics")
	}
}

func TestCounter(t *testing.T) {
	registry := NewRegistry()
	open := Labels{LabelStatus: "open"}
	refused := Labels{LabelStatus: "refused"}

	registry.Counter(MetricProbesTotal, open)
	registry.Counter(MetricProbesTotal, open)
	registry.Counter(MetricProbesTotal, refused)

	if got := registry.Value(MetricProbesTotal, open); got != 2 {
		t.Errorf("Expected open count 2, got %v", got)
	}
	if got := registry.Value(MetricProbesTotal, refused); got != 1 {
		t.Errorf("Expected refused count 1, got %v", got)
	}
	if got := registry.Value(MetricProbesTotal, Labels{LabelStatus: "timeout"}); got != 0 {
		t.Errorf("Expected unrecorded series to be 0, got %v", got)
	}

	for _, metric := range registry.GetMetrics() {
		if metric.Type != TypeCounter {
			t.Errorf("Expected counter type, got %s", metric.Type)
		}
	}
}

func TestGauge(t *testing.T) {
	registry := NewRegistry()

	registry.Gauge(MetricActiveProbes, 10, nil)
	registry.Gauge(MetricActiveProbes, 4, nil)

	if got := registry.Value(MetricActiveProbes, nil); got != 4 {
		t.Errorf("Expected gauge to hold last value 4, got %v", got)
	}
}

func TestGaugeAdd(t *testing.T) {
	registry := NewRegistry()

	registry.GaugeAdd(MetricActiveProbes, 1, nil)
	registry.GaugeAdd(MetricActiveProbes, 1, nil)
	registry.GaugeAdd(MetricActiveProbes, 1, nil)
	registry.GaugeAdd(MetricActiveProbes, -1, nil)

	if got := registry.Value(MetricActiveProbes, nil); got != 2 {
		t.Errorf("Expected gauge to hold 2 after three increments and a decrement, got %v", got)
	}
	if metric := registry.GetMetrics()[MetricActiveProbes]; metric == nil || metric.Type != TypeGauge {
		t.Errorf("Expected a gauge metric, got %+v", metric)
	}
}

func TestGaugeAdd_ConcurrentWriters(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				registry.GaugeAdd(MetricActiveScans, 1, nil)
				registry.GaugeAdd(MetricActiveScans, -1, nil)
			}
		}()
	}
	wg.Wait()

	if got := registry.Value(MetricActiveScans, nil); got != 0 {
		t.Errorf("Expected balanced updates to leave the gauge at 0, got %v", got)
	}
}

func TestHistogram(t *testing.T) {
	registry := NewRegistry()
	labels := Labels{LabelStatus: "timeout"}

	registry.Histogram(MetricProbeDuration, 3.0, labels)
	registry.Histogram(MetricProbeDuration, 3.1, labels)

	metrics := registry.GetMetrics()
	if len(metrics) != 1 {
		t.Fatalf("Expected 1 metric, got %d", len(metrics))
	}
	for _, metric := range metrics {
		if metric.Type != TypeHistogram {
			t.Errorf("Expected histogram type, got %s", metric.Type)
		}
		if metric.Value != 3.1 {
			t.Errorf("Expected last observation 3.1, got %v", metric.Value)
		}
	}
}

func TestGetMetricsReturnsCopies(t *testing.T) {
	registry := NewRegistry()
	labels := Labels{LabelStatus: "open"}
	registry.Counter(MetricProbesTotal, labels)

	snapshot := registry.GetMetrics()
	for _, metric := range snapshot {
		metric.Value = 100
		metric.Labels[LabelStatus] = "changed"
	}

	if got := registry.Value(MetricProbesTotal, labels); got != 1 {
		t.Errorf("Snapshot mutation leaked into registry, got %v", got)
	}

	labels[LabelStatus] = "mutated"
	if got := registry.Value(MetricProbesTotal, Labels{LabelStatus: "open"}); got != 1 {
		t.Errorf("Caller label mutation leaked into registry, got %v", got)
	}
}

func TestReset(t *testing.T) {
	registry := NewRegistry()
	registry.Counter(MetricScansTotal, nil)
	registry.Gauge(MetricActiveProbes, 1, nil)

	registry.Reset()

	if len(registry.GetMetrics()) != 0 {
		t.Error("Reset should clear all metrics")
	}
}

func TestConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	labels := Labels{LabelStatus: "open"}

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				registry.Counter(MetricProbesTotal, labels)
				registry.Gauge(MetricActiveProbes, float64(j), nil)
				_ = registry.GetMetrics()
			}
		}()
	}
	wg.Wait()

	if got := registry.Value(MetricProbesTotal, labels); got != goroutines*perGoroutine {
		t.Errorf("Expected %d, got %v", goroutines*perGoroutine, got)
	}
}

func TestMakeKey(t *testing.T) {
	tests := []struct {
		name     string
		metric   string
		labels   Labels
		expected string
	}{
		{"no labels", "probes_total", nil, "probes_total"},
		{"empty labels", "probes_total", Labels{}, "probes_total"},
		{"single label", "probes_total", Labels{"status": "open"}, "probes_total:status=open"},
		{
			"sorted labels",
			"http_requests_total",
			Labels{"path": "/x", "method": "GET"},
			"http_requests_total:method=GET:path=/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := makeKey(tt.metric, tt.labels); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCopyLabels(t *testing.T) {
	if copyLabels(nil) != nil {
		t.Error("Copy of nil labels should be nil")
	}

	original := Labels{"a": "1"}
	copied := copyLabels(original)
	copied["a"] = "2"
	if original["a"] != "1" {
		t.Error("Copy should not share storage with the original")
	}
}

func TestTimer(t *testing.T) {
	registry := NewRegistry()

	timer := NewTimerFor(registry, MetricScanDuration, nil)
	time.Sleep(10 * time.Millisecond)
	elapsed := timer.Stop()

	if elapsed < 10*time.Millisecond {
		t.Errorf("Expected at least 10ms, got %v", elapsed)
	}
	if got := registry.Value(MetricScanDuration, nil); got < 0.01 {
		t.Errorf("Expected recorded duration >= 0.01s, got %v", got)
	}
}
