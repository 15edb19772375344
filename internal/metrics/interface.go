// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

//go:generate mockgen -destination=mocks/mock_metrics.go -package=mocks github.com/anstrom/portsweep/internal/metrics MetricsRegistry

// MetricsRegistry defines the interface for metrics collection and management.
// The scan engine and the API server only depend on this interface, so either
// the in-memory Registry or the Prometheus-backed collectors can be plugged in.
type MetricsRegistry interface {
	// SetEnabled enables or disables metrics collection.
	SetEnabled(enabled bool)

	// IsEnabled returns whether metrics collection is enabled.
	IsEnabled() bool

	// Counter increments a counter metric with the given name and labels.
	Counter(name string, labels Labels)

	// Gauge sets a gauge metric to the specified value with the given name and labels.
	Gauge(name string, value float64, labels Labels)

	// GaugeAdd adds delta to a gauge metric. Callers sharing a registry
	// adjust the same gauge without overwriting each other.
	GaugeAdd(name string, delta float64, labels Labels)

	// Histogram records a value in a histogram metric with the given name and labels.
	Histogram(name string, value float64, labels Labels)

	// GetMetrics returns a snapshot of all current metrics.
	GetMetrics() map[string]*Metric

	// Reset clears all metrics from the registry.
	Reset()
}

var (
	_ MetricsRegistry = (*Registry)(nil)
	_ MetricsRegistry = (*PrometheusMetrics)(nil)
)
