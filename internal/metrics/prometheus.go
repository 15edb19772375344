// Package metrics provides Prometheus-based metrics collection for portsweep.
package metrics

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all portsweep metrics
	namespace = "portsweep"

	// Subsystems
	subsystemProbe  = "probe"
	subsystemScan   = "scan"
	subsystemSystem = "system"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal   *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	taskFailures  prometheus.Counter
	activeProbes  prometheus.Gauge

	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanTargets  prometheus.Histogram
	activeScans  prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	enabled    bool
	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		enabled:   true,
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initScanMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initProbeMetrics initializes per-endpoint probe metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of completed probes by connection status",
		},
		[]string{LabelStatus},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of connection attempts in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0},
		},
		[]string{LabelStatus},
	)

	pm.taskFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "task_failures_total",
			Help:      "Total number of probe tasks that failed without producing a result",
		},
	)

	pm.activeProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "active",
			Help:      "Number of connection attempts currently in flight",
		},
	)
}

// initScanMetrics initializes scan-level metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by final status",
		},
		[]string{LabelStatus},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of whole scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 3.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
	)

	pm.scanTargets = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "targets",
			Help:      "Number of endpoints per scan",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently running scans",
		},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{LabelMethod, LabelPath},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.probesTotal,
		pm.probeDuration,
		pm.taskFailures,
		pm.activeProbes,

		pm.scansTotal,
		pm.scanDuration,
		pm.scanTargets,
		pm.activeScans,

		pm.httpRequests,
		pm.httpDuration,

		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Probe Metrics Methods

// IncrementProbes increments the probe counter for a connection status
func (pm *PrometheusMetrics) IncrementProbes(status string) {
	pm.probesTotal.WithLabelValues(status).Inc()
}

// RecordProbeDuration records how long a connection attempt took
func (pm *PrometheusMetrics) RecordProbeDuration(status string, duration time.Duration) {
	pm.probeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncrementTaskFailures increments the task failure counter
func (pm *PrometheusMetrics) IncrementTaskFailures() {
	pm.taskFailures.Inc()
}

// SetActiveProbes sets the number of in-flight probes
func (pm *PrometheusMetrics) SetActiveProbes(count int) {
	pm.activeProbes.Set(float64(count))
}

// Scan Metrics Methods

// IncrementScansTotal increments the total scan counter
func (pm *PrometheusMetrics) IncrementScansTotal(status string) {
	pm.scansTotal.WithLabelValues(status).Inc()
}

// RecordScanDuration records a scan duration
func (pm *PrometheusMetrics) RecordScanDuration(duration time.Duration) {
	pm.scanDuration.Observe(duration.Seconds())
}

// RecordScanTargets records the size of a scan's target set
func (pm *PrometheusMetrics) RecordScanTargets(count int) {
	pm.scanTargets.Observe(float64(count))
}

// SetActiveScans sets the number of active scans
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// MetricsRegistry implementation.
//
// The engine records through the generic registry interface using the
// metric names declared in metrics.go. Names are routed to the matching
// collector; unknown names are ignored.

// SetEnabled enables or disables recording through the registry interface.
func (pm *PrometheusMetrics) SetEnabled(enabled bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = enabled
}

// IsEnabled returns whether recording through the registry interface is enabled.
func (pm *PrometheusMetrics) IsEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Counter increments the collector registered for name.
func (pm *PrometheusMetrics) Counter(name string, labels Labels) {
	if !pm.IsEnabled() {
		return
	}

	switch name {
	case MetricProbesTotal:
		pm.IncrementProbes(labels[LabelStatus])
	case MetricTaskFailures:
		pm.IncrementTaskFailures()
	case MetricScansTotal:
		pm.IncrementScansTotal(labels[LabelStatus])
	case MetricHTTPRequests:
		pm.IncrementHTTPRequests(labels[LabelMethod], labels[LabelPath], labels[LabelStatus])
	}
}

// Gauge sets the collector registered for name.
func (pm *PrometheusMetrics) Gauge(name string, value float64, _ Labels) {
	if !pm.IsEnabled() {
		return
	}

	switch name {
	case MetricActiveProbes:
		pm.activeProbes.Set(value)
	case MetricActiveScans:
		pm.activeScans.Set(value)
	}
}

// GaugeAdd adjusts the collector registered for name by delta.
func (pm *PrometheusMetrics) GaugeAdd(name string, delta float64, _ Labels) {
	if !pm.IsEnabled() {
		return
	}

	switch name {
	case MetricActiveProbes:
		pm.activeProbes.Add(delta)
	case MetricActiveScans:
		pm.activeScans.Add(delta)
	}
}

// Histogram observes value on the collector registered for name.
func (pm *PrometheusMetrics) Histogram(name string, value float64, labels Labels) {
	if !pm.IsEnabled() {
		return
	}

	switch name {
	case MetricProbeDuration:
		pm.probeDuration.WithLabelValues(labels[LabelStatus]).Observe(value)
	case MetricScanDuration:
		pm.scanDuration.Observe(value)
	case MetricScanTargets:
		pm.scanTargets.Observe(value)
	case MetricHTTPDuration:
		pm.httpDuration.WithLabelValues(labels[LabelMethod], labels[LabelPath]).Observe(value)
	}
}

// GetMetrics returns a snapshot of the portsweep collectors. Histograms
// report their sample count.
func (pm *PrometheusMetrics) GetMetrics() map[string]*Metric {
	result := make(map[string]*Metric)

	// Gather still returns the families it could collect alongside an error.
	families, _ := pm.registry.Gather()

	now := time.Now()
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), namespace+"_") {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := make(Labels, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}

			metric := &Metric{Name: family.GetName(), Labels: labels, Timestamp: now}
			switch {
			case m.GetCounter() != nil:
				metric.Type = TypeCounter
				metric.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				metric.Type = TypeGauge
				metric.Value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				metric.Type = TypeHistogram
				metric.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			result[makeKey(metric.Name, labels)] = metric
		}
	}
	return result
}

// Reset clears labelled series and zeroes the gauges. Plain counters and
// histograms cannot be reset in Prometheus and keep their values.
func (pm *PrometheusMetrics) Reset() {
	pm.probesTotal.Reset()
	pm.probeDuration.Reset()
	pm.scansTotal.Reset()
	pm.httpRequests.Reset()
	pm.httpDuration.Reset()
	pm.activeProbes.Set(0)
	pm.activeScans.Set(0)
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
