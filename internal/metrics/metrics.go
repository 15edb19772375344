// Package metrics provides basic monitoring and metrics collection for portsweep.
// It supports counters, gauges, and histograms with label support for tracking
// probe outcomes and scan progress.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value++
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeCounter,
			Value:     1,
			Labels:    copyLabels(labels),
			Timestamp: time.Now(),
		}
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// GaugeAdd adds delta to a gauge metric value, starting from zero.
func (r *Registry) GaugeAdd(name string, delta float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value += delta
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeGauge,
			Value:     delta,
			Labels:    copyLabels(labels),
			Timestamp: time.Now(),
		}
	}
}

// Histogram records a value in a histogram metric.
// Only the last observed value is kept.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value = value
		metric.Timestamp = time.Now()
	} else {
		r.metrics[key] = &Metric{
			Name:      name,
			Type:      TypeHistogram,
			Value:     value,
			Labels:    copyLabels(labels),
			Timestamp: time.Now(),
		}
	}
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric)
	for key, metric := range r.metrics {
		result[key] = &Metric{
			Name:      metric.Name,
			Type:      metric.Type,
			Value:     metric.Value,
			Labels:    copyLabels(metric.Labels),
			Timestamp: metric.Timestamp,
		}
	}
	return result
}

// Value returns the current value of the metric with the given name and
// labels, or zero if it has not been recorded.
func (r *Registry) Value(name string, labels Labels) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if metric, ok := r.metrics[makeKey(name, labels)]; ok {
		return metric.Value
	}
	return 0
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric based on name and labels.
// Label keys are sorted so the key does not depend on map iteration order.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry MetricsRegistry
}

// NewTimerFor creates a new timer that records into registry.
func NewTimerFor(registry MetricsRegistry, name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: registry,
	}
}

// Stop stops the timer and records the duration as a histogram.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	if t.registry != nil {
		t.registry.Histogram(t.name, duration.Seconds(), t.labels)
	}
	return duration
}

// Predefined metric names.
const (
	// Probe metrics.
	MetricProbesTotal   = "probes_total"
	MetricProbeDuration = "probe_duration_seconds"
	MetricTaskFailures  = "task_failures_total"
	MetricActiveProbes  = "active_probes"

	// Scan metrics.
	MetricScansTotal   = "scans_total"
	MetricScanDuration = "scan_duration_seconds"
	MetricScanTargets  = "scan_targets"
	MetricActiveScans  = "active_scans"

	// HTTP metrics.
	MetricHTTPRequests = "http_requests_total"
	MetricHTTPDuration = "http_request_duration_seconds"
)

// Common label keys.
const (
	LabelStatus = "status"
	LabelMethod = "method"
	LabelPath   = "path"
)
