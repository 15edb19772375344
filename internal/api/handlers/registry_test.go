package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/netrange"
	"github.com/anstrom/portsweep/internal/ports"
	"github.com/anstrom/portsweep/internal/scanning"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type funcExecutor func(ctx context.Context, target scanning.Target) scanning.ScanResult

func (f funcExecutor) Probe(ctx context.Context, target scanning.Target) scanning.ScanResult {
	return f(ctx, target)
}

// openPorts reports the listed ports as open and every other port as refused.
func openPorts(open ...uint16) funcExecutor {
	return func(_ context.Context, target scanning.Target) scanning.ScanResult {
		status := scanning.StatusRefused
		if slices.Contains(open, target.Port) {
			status = scanning.StatusOpen
		}
		return scanning.ScanResult{Endpoint: target.Endpoint(), Status: status, Duration: time.Millisecond}
	}
}

// gatedExecutor blocks every probe until release is closed or ctx is done.
func gatedExecutor(release <-chan struct{}) funcExecutor {
	return func(ctx context.Context, target scanning.Target) scanning.ScanResult {
		select {
		case <-release:
			return scanning.ScanResult{Endpoint: target.Endpoint(), Status: scanning.StatusOpen}
		case <-ctx.Done():
			return scanning.ScanResult{Endpoint: target.Endpoint(), Status: scanning.StatusTimeout}
		}
	}
}

func newTestRegistry(exec scanning.Executor, maxScans int) *ScanRegistry {
	return NewScanRegistry(ScanRegistryConfig{
		MaxScans: maxScans,
		Executor: exec,
		Logger:   logging.NewDiscard(),
	})
}

func waitDone(t *testing.T, run *ScanRun) {
	t.Helper()
	require.Eventually(t, run.Done, 5*time.Second, 5*time.Millisecond)
}

func TestScanRegistry_StartCompletes(t *testing.T) {
	registry := newTestRegistry(openPorts(22), 2)

	run, err := registry.Start(netrange.MustParse("10.0.0.0/30"), ports.MustParse("22,80"))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), run.Targets)
	assert.Equal(t, "10.0.0.0/30", run.Network)
	assert.Equal(t, "22,80", run.Ports)

	waitDone(t, run)

	summary := run.Summary()
	assert.Equal(t, ScanStatusCompleted, summary.Status)
	assert.Equal(t, 8, summary.Completed)
	assert.InDelta(t, 100.0, summary.Progress, 0.001)
	assert.Equal(t, 4, summary.Tally.Open)
	assert.Equal(t, 4, summary.Tally.Refused)
	assert.NotNil(t, summary.FinishedAt)
	assert.Empty(t, summary.Error)

	assert.Eventually(t, func() bool { return registry.Running() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScanRegistry_EventsSince(t *testing.T) {
	registry := newTestRegistry(openPorts(80), 1)

	run, err := registry.Start(netrange.MustParse("192.168.1.0/31"), ports.MustParse("80"))
	require.NoError(t, err)
	waitDone(t, run)

	events, _, done := run.EventsSince(0)
	assert.True(t, done)
	require.Len(t, events, 2)

	endpoints := []netip.AddrPort{events[0].Result.Endpoint, events[1].Result.Endpoint}
	assert.ElementsMatch(t, []netip.AddrPort{
		netip.MustParseAddrPort("192.168.1.0:80"),
		netip.MustParseAddrPort("192.168.1.1:80"),
	}, endpoints)

	rest, _, _ := run.EventsSince(1)
	assert.Len(t, rest, 1)

	none, _, _ := run.EventsSince(10)
	assert.Empty(t, none)
}

func TestScanRegistry_NotifiesWaiters(t *testing.T) {
	release := make(chan struct{})
	registry := newTestRegistry(gatedExecutor(release), 1)

	run, err := registry.Start(netrange.MustParse("10.1.1.1/32"), ports.MustParse("443"))
	require.NoError(t, err)

	events, changed, done := run.EventsSince(0)
	assert.Empty(t, events)
	assert.False(t, done)

	close(release)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not notified")
	}
	waitDone(t, run)
}

func TestScanRegistry_MaxScans(t *testing.T) {
	release := make(chan struct{})
	registry := newTestRegistry(gatedExecutor(release), 1)

	first, err := registry.Start(netrange.MustParse("10.0.0.1/32"), ports.MustParse("22"))
	require.NoError(t, err)

	_, err = registry.Start(netrange.MustParse("10.0.0.2/32"), ports.MustParse("22"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeServiceUnavailable))

	close(release)
	waitDone(t, first)
	require.Eventually(t, func() bool { return registry.Running() == 0 }, time.Second, 5*time.Millisecond)

	_, err = registry.Start(netrange.MustParse("10.0.0.2/32"), ports.MustParse("22"))
	assert.NoError(t, err)
}

func TestScanRegistry_TooManyTargets(t *testing.T) {
	registry := newTestRegistry(openPorts(), 1)

	_, err := registry.Start(netrange.MustParse("10.0.0.0/8"), ports.MustParse("22"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Equal(t, 0, registry.Running())
	assert.Empty(t, registry.List())
}

func TestScanRegistry_GetAndList(t *testing.T) {
	registry := newTestRegistry(openPorts(), 4)

	first, err := registry.Start(netrange.MustParse("10.0.0.1/32"), ports.MustParse("1"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := registry.Start(netrange.MustParse("10.0.0.2/32"), ports.MustParse("1"))
	require.NoError(t, err)

	got, err := registry.Get(second.ID)
	require.NoError(t, err)
	assert.Same(t, second, got)

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	_, err = registry.Get(first.ID)
	assert.NoError(t, err)
}

func TestScanRegistry_GetUnknown(t *testing.T) {
	registry := newTestRegistry(openPorts(), 1)

	_, err := registry.Get(uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestScanRegistry_Shutdown(t *testing.T) {
	registry := newTestRegistry(gatedExecutor(make(chan struct{})), 1)

	run, err := registry.Start(netrange.MustParse("10.0.0.0/31"), ports.MustParse("22"))
	require.NoError(t, err)
	assert.True(t, registry.Accepting())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, registry.Shutdown(ctx))

	assert.False(t, registry.Accepting())
	assert.True(t, run.Done())
	assert.Equal(t, 2, run.Summary().Tally.Timeout)

	_, err = registry.Start(netrange.MustParse("10.0.0.0/31"), ports.MustParse("22"))
	assert.True(t, errors.IsCode(err, errors.CodeServiceUnavailable))
}

func TestScanRegistry_RecordsMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	scans := NewScanRegistry(ScanRegistryConfig{
		MaxScans: 1,
		Executor: openPorts(22),
		Metrics:  registry,
		Logger:   logging.NewDiscard(),
	})

	run, err := scans.Start(netrange.MustParse("10.0.0.0/31"), ports.MustParse("22"))
	require.NoError(t, err)
	waitDone(t, run)
	require.Eventually(t, func() bool { return scans.Running() == 0 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, float64(1), registry.Value(metrics.MetricScansTotal,
		metrics.Labels{metrics.LabelStatus: ScanStatusCompleted}))
	assert.Equal(t, float64(2), registry.Value(metrics.MetricProbesTotal,
		metrics.Labels{metrics.LabelStatus: "open"}))
	assert.Equal(t, float64(2), registry.Value(metrics.MetricScanTargets, nil))
	assert.Eventually(t, func() bool {
		return registry.Value(metrics.MetricActiveScans, nil) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestScanRegistry_OverlappingScansShareGauges(t *testing.T) {
	registry := metrics.NewRegistry()
	release := make(chan struct{})
	scans := NewScanRegistry(ScanRegistryConfig{
		MaxScans: 2,
		Executor: gatedExecutor(release),
		Metrics:  registry,
		Logger:   logging.NewDiscard(),
	})

	first, err := scans.Start(netrange.MustParse("10.0.0.0/31"), ports.MustParse("22"))
	require.NoError(t, err)
	second, err := scans.Start(netrange.MustParse("10.0.1.0/31"), ports.MustParse("80"))
	require.NoError(t, err)

	assert.Equal(t, 2.0, registry.Value(metrics.MetricActiveScans, nil))
	require.Eventually(t, func() bool {
		return registry.Value(metrics.MetricActiveProbes, nil) == 4
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	waitDone(t, first)
	waitDone(t, second)

	assert.Eventually(t, func() bool {
		return registry.Value(metrics.MetricActiveScans, nil) == 0 &&
			registry.Value(metrics.MetricActiveProbes, nil) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestScanRegistry_SharedAttemptSlots(t *testing.T) {
	var mu sync.Mutex
	var current, peak int
	release := make(chan struct{})
	executor := funcExecutor(func(ctx context.Context, target scanning.Target) scanning.ScanResult {
		mu.Lock()
		current++
		peak = max(peak, current)
		mu.Unlock()
		defer func() {
			mu.Lock()
			current--
			mu.Unlock()
		}()
		return gatedExecutor(release)(ctx, target)
	})

	scans := NewScanRegistry(ScanRegistryConfig{
		MaxConcurrency: 3,
		MaxScans:       2,
		Executor:       executor,
		Logger:         logging.NewDiscard(),
	})

	first, err := scans.Start(netrange.MustParse("10.0.0.0/30"), ports.MustParse("22"))
	require.NoError(t, err)
	second, err := scans.Start(netrange.MustParse("10.0.1.0/30"), ports.MustParse("22"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return current == 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, scans.Slots().Active)
	assert.Equal(t, 0, scans.Slots().Available)
	assert.True(t, scans.SlotsHealthy())

	close(release)
	waitDone(t, first)
	waitDone(t, second)

	mu.Lock()
	assert.Equal(t, 3, peak, "both scans draw from one pool")
	mu.Unlock()
	assert.Equal(t, 0, scans.Slots().Active)

	require.NoError(t, scans.Shutdown(t.Context()))
	assert.True(t, scans.Slots().Closed)
	assert.False(t, scans.SlotsHealthy())
}

func TestScanRegistry_UnboundedHasNoSlots(t *testing.T) {
	scans := newTestRegistry(openPorts(22), 1)
	assert.Nil(t, scans.Slots())
	assert.True(t, scans.SlotsHealthy())
}
