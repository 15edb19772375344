package handlers

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/netrange"
	"github.com/anstrom/portsweep/internal/ports"
	"github.com/anstrom/portsweep/internal/scanning"
)

// MaxTargetsPerScan bounds the targets of a scan submitted over the API.
// Every event is kept in memory for replay.
const MaxTargetsPerScan = 1 << 16

// Scan run states.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// ScanRegistryConfig configures a ScanRegistry.
type ScanRegistryConfig struct {
	// MaxConcurrency bounds outstanding attempts across every scan of the
	// registry. Zero is unbounded.
	MaxConcurrency int
	// MaxScans bounds the number of scans running at once.
	MaxScans int
	// Executor overrides the TCP prober.
	Executor scanning.Executor
	Metrics  metrics.MetricsRegistry
	Logger   *logging.Logger
}

// ScanRegistry runs scans submitted over the API and keeps their events in
// memory for the lifetime of the process.
type ScanRegistry struct {
	cfg    ScanRegistryConfig
	logger *logging.Logger

	mu      sync.RWMutex
	runs    map[uuid.UUID]*ScanRun
	running int

	// slots is shared by all scans; nil when attempts are unbounded.
	slots *scanning.FixedResourceManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanRegistry creates a ScanRegistry from cfg.
func NewScanRegistry(cfg ScanRegistryConfig) *ScanRegistry {
	if cfg.MaxScans <= 0 {
		cfg.MaxScans = 1
	}
	if cfg.Executor == nil {
		cfg.Executor = scanning.NewProber(scanning.ProberConfig{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sr := &ScanRegistry{
		cfg:    cfg,
		logger: logger.WithComponent("scan_registry"),
		runs:   make(map[uuid.UUID]*ScanRun),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MaxConcurrency > 0 {
		sr.slots = scanning.NewFixedResourceManager(cfg.MaxConcurrency)
	}
	return sr
}

// Start launches a scan of every port in portSet on every address in
// network and returns immediately.
func (sr *ScanRegistry) Start(network netrange.NetworkRange, portSet ports.PortSet) (*ScanRun, error) {
	targets := scanning.CountTargets(network.Count(), portSet.Len())
	if targets > MaxTargetsPerScan {
		return nil, errors.NewInputError("prefix", network.String(),
			fmt.Errorf("%d targets exceeds the limit of %d per scan", targets, MaxTargetsPerScan))
	}

	sr.mu.Lock()
	if sr.ctx.Err() != nil {
		sr.mu.Unlock()
		return nil, errors.NewScanError(errors.CodeServiceUnavailable, "server is shutting down")
	}
	if sr.running >= sr.cfg.MaxScans {
		sr.mu.Unlock()
		return nil, errors.NewScanError(errors.CodeServiceUnavailable,
			fmt.Sprintf("%d scans already running", sr.running))
	}
	run := newScanRun(network, portSet, targets)
	sr.runs[run.ID] = run
	sr.running++
	sr.wg.Add(1)
	sr.mu.Unlock()

	sr.adjustActive(1)
	go sr.execute(run, network, portSet)

	return run, nil
}

func (sr *ScanRegistry) execute(run *ScanRun, network netrange.NetworkRange, portSet ports.PortSet) {
	defer sr.wg.Done()

	logger := sr.logger.WithScanID(run.ID.String())
	logger.InfoNetwork("Scan started", run.Network, "ports", run.Ports, "targets", run.Targets)

	coordinatorConfig := scanning.CoordinatorConfig{
		Executor: sr.cfg.Executor,
		Metrics:  sr.cfg.Metrics,
		Logger:   logger,
	}
	if sr.slots != nil {
		coordinatorConfig.Resources = sr.slots
	}
	coordinator := scanning.NewCoordinator(coordinatorConfig)

	timer := metrics.NewTimerFor(sr.cfg.Metrics, metrics.MetricScanDuration, nil)
	stream := coordinator.Run(sr.ctx, scanning.BuildTargets(network.Addresses(), portSet))
	for event := range stream.Events() {
		run.append(event)
	}
	err := stream.Err()
	elapsed := timer.Stop()
	run.finish(err, elapsed)

	status := ScanStatusCompleted
	if err != nil {
		status = ScanStatusFailed
		logger.Error("Scan failed", "error", err)
	} else {
		logger.InfoNetwork("Scan completed", run.Network, "elapsed", elapsed)
	}

	if sr.cfg.Metrics != nil {
		sr.cfg.Metrics.Counter(metrics.MetricScansTotal, metrics.Labels{metrics.LabelStatus: status})
		sr.cfg.Metrics.Histogram(metrics.MetricScanTargets, float64(run.Targets), nil)
	}

	sr.mu.Lock()
	sr.running--
	sr.mu.Unlock()
	sr.adjustActive(-1)
}

func (sr *ScanRegistry) adjustActive(delta float64) {
	if sr.cfg.Metrics != nil {
		sr.cfg.Metrics.GaugeAdd(metrics.MetricActiveScans, delta, nil)
	}
}

// Get returns the scan with the given ID.
func (sr *ScanRegistry) Get(id uuid.UUID) (*ScanRun, error) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	run, ok := sr.runs[id]
	if !ok {
		return nil, errors.NewScanError(errors.CodeNotFound, fmt.Sprintf("scan %s not found", id))
	}
	return run, nil
}

// List returns every scan, oldest first.
func (sr *ScanRegistry) List() []*ScanRun {
	sr.mu.RLock()
	runs := make([]*ScanRun, 0, len(sr.runs))
	for _, run := range sr.runs {
		runs = append(runs, run)
	}
	sr.mu.RUnlock()

	slices.SortFunc(runs, func(a, b *ScanRun) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return runs
}

// Running returns the number of scans still in progress.
func (sr *ScanRegistry) Running() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return sr.running
}

// Accepting reports whether new scans can be started.
func (sr *ScanRegistry) Accepting() bool {
	return sr.ctx.Err() == nil
}

// Slots returns the usage of the attempt pool shared by all scans, or nil
// when attempts are unbounded.
func (sr *ScanRegistry) Slots() *scanning.ResourceStats {
	if sr.slots == nil {
		return nil
	}
	stats := sr.slots.Stats()
	return &stats
}

// SlotsHealthy reports whether no attempt has held a slot for implausibly long.
// It is always true when attempts are unbounded.
func (sr *ScanRegistry) SlotsHealthy() bool {
	return sr.slots == nil || sr.slots.IsHealthy()
}

// Shutdown cancels running scans and waits for them to drain or for ctx to
// expire. Probes waiting for a slot are reported as task failures.
func (sr *ScanRegistry) Shutdown(ctx context.Context) error {
	sr.mu.Lock()
	sr.cancel()
	sr.mu.Unlock()

	if sr.slots != nil {
		if err := sr.slots.Close(); err != nil {
			sr.logger.Warn("Failed to close attempt slots", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		sr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running scans: %w", ctx.Err())
	}
}

// ScanRun is one scan started through the API.
type ScanRun struct {
	ID        uuid.UUID
	Network   string
	Ports     string
	Targets   uint64
	CreatedAt time.Time

	mu         sync.Mutex
	events     []scanning.Event
	tally      scanning.Tally
	finishedAt time.Time
	err        error
	done       bool
	changed    chan struct{}
}

func newScanRun(network netrange.NetworkRange, portSet ports.PortSet, targets uint64) *ScanRun {
	return &ScanRun{
		ID:        uuid.New(),
		Network:   network.String(),
		Ports:     portSet.String(),
		Targets:   targets,
		CreatedAt: time.Now().UTC(),
		changed:   make(chan struct{}),
	}
}

func (r *ScanRun) append(event scanning.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	r.tally.Add(event)
	r.notifyLocked()
}

func (r *ScanRun) finish(err error, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
	r.done = true
	r.finishedAt = time.Now().UTC()
	r.tally.Elapsed = elapsed
	r.notifyLocked()
}

// notifyLocked wakes every waiter and arms a fresh channel.
func (r *ScanRun) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// EventsSince returns the events recorded after the first offset, a channel
// that is closed when more arrive, and whether the scan has finished.
func (r *ScanRun) EventsSince(offset int) ([]scanning.Event, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offset = min(max(offset, 0), len(r.events))
	events := slices.Clone(r.events[offset:])
	return events, r.changed, r.done
}

// Done reports whether the scan has finished.
func (r *ScanRun) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Summary returns a point-in-time view of the scan.
func (r *ScanRun) Summary() ScanSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := ScanSummary{
		ID:        r.ID,
		Network:   r.Network,
		Ports:     r.Ports,
		Status:    ScanStatusRunning,
		Targets:   r.Targets,
		Completed: len(r.events),
		Tally:     r.tally,
		CreatedAt: r.CreatedAt,
	}
	if r.Targets > 0 {
		summary.Progress = float64(len(r.events)) / float64(r.Targets) * 100
	}
	if r.done {
		summary.Status = ScanStatusCompleted
		finished := r.finishedAt
		summary.FinishedAt = &finished
		summary.Duration = r.tally.Elapsed.String()
		if r.err != nil {
			summary.Status = ScanStatusFailed
			summary.Error = r.err.Error()
		}
	}
	return summary
}

// ScanSummary is the progress view of a scan returned by the API.
type ScanSummary struct {
	ID         uuid.UUID      `json:"id"`
	Network    string         `json:"network"`
	Ports      string         `json:"ports"`
	Status     string         `json:"status"`
	Targets    uint64         `json:"targets"`
	Completed  int            `json:"completed"`
	Progress   float64        `json:"progress"`
	Tally      scanning.Tally `json:"tally"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Duration   string         `json:"duration,omitempty"`
	Error      string         `json:"error,omitempty"`
}
