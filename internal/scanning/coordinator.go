package scanning

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
)

const defaultEventBuffer = 64

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Executor probes individual targets. Nil means NewProber(ProberConfig{}).
	Executor Executor
	// MaxConcurrency bounds outstanding attempts. Zero means one concurrent
	// attempt per target with no bound. Ignored when Resources is set.
	MaxConcurrency int
	// Resources overrides the slot manager built from MaxConcurrency.
	Resources ResourceManager
	// Metrics receives probe counters. Nil disables recording.
	Metrics metrics.MetricsRegistry
	// Logger receives debug output. Nil uses the default logger.
	Logger *logging.Logger
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// Coordinator fans out one probe per target and streams the outcomes.
type Coordinator struct {
	executor  Executor
	resources ResourceManager
	metrics   metrics.MetricsRegistry
	logger    *logging.Logger
	buffer    int
}

// NewCoordinator creates a Coordinator from cfg.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		executor:  cfg.Executor,
		resources: cfg.Resources,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		buffer:    cfg.EventBuffer,
	}
	if c.executor == nil {
		c.executor = NewProber(ProberConfig{})
	}
	if c.resources == nil && cfg.MaxConcurrency > 0 {
		c.resources = NewFixedResourceManager(cfg.MaxConcurrency)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	c.logger = c.logger.WithComponent("coordinator")
	if c.buffer <= 0 {
		c.buffer = defaultEventBuffer
	}
	return c
}

// Stream is a running scan. Events are delivered in completion order and the
// channel is closed once every submitted target has produced its event.
type Stream struct {
	events    chan Event
	done      chan struct{}
	err       error
	submitted atomic.Int64
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed after the event channel has been closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the construction error that stopped submission early, if any.
// It is only meaningful after the event channel has been closed.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Submitted returns the number of targets submitted so far.
func (s *Stream) Submitted() int64 {
	return s.submitted.Load()
}

// Run starts probing every target in targets and returns immediately.
//
// Each submitted target yields exactly one Event: a ScanResult, or a task
// failure if the unit of work panicked or could not obtain a slot before ctx
// was cancelled.
//
// Submission is lazy: a target is handed to a worker as soon as targets
// yields it. A construction error therefore stops further submission but does
// not recall work already submitted; those targets still complete and the
// error is returned by Stream.Err. An error yielded first aborts the scan
// before anything is attempted. Sequences built from a netrange.NetworkRange
// only hold IPv4 addresses and never yield construction errors.
func (c *Coordinator) Run(ctx context.Context, targets iter.Seq2[Target, error]) *Stream {
	stream := &Stream{
		events: make(chan Event, c.buffer),
		done:   make(chan struct{}),
	}

	go func() {
		var wg sync.WaitGroup

		for target, err := range targets {
			if err != nil {
				c.logger.Error("Target construction failed", "error", err)
				stream.err = err
				break
			}

			taskID := uuid.NewString()
			stream.submitted.Add(1)
			c.logger.DebugProbe("Targeting", target.String(), "task_id", taskID)

			acquireErr := c.acquire(ctx, taskID)

			wg.Add(1)
			go func() {
				defer wg.Done()
				stream.events <- c.execute(ctx, taskID, target, acquireErr)
			}()
		}

		wg.Wait()
		close(stream.events)
		close(stream.done)
	}()

	return stream
}

func (c *Coordinator) acquire(ctx context.Context, taskID string) error {
	if c.resources == nil {
		return nil
	}
	return c.resources.Acquire(ctx, taskID)
}

// execute runs a single unit of work and converts panics into task failures.
func (c *Coordinator) execute(ctx context.Context, taskID string, target Target, acquireErr error) (event Event) {
	event = Event{TaskID: taskID, Target: target}

	if acquireErr != nil {
		event.Err = errors.ErrTaskFailed(target.String(), fmt.Errorf("waiting for slot: %w", acquireErr))
		c.recordFailure(event)
		return event
	}
	if c.resources != nil {
		defer c.resources.Release(taskID)
	}

	c.adjustActive(1)
	defer func() {
		c.adjustActive(-1)

		if r := recover(); r != nil {
			event.Result = nil
			event.Err = errors.ErrTaskFailed(target.String(), fmt.Errorf("panic: %v", r))
			c.recordFailure(event)
		}
	}()

	result := c.executor.Probe(ctx, target)
	event.Result = &result
	c.recordResult(event)
	return event
}

func (c *Coordinator) recordResult(event Event) {
	c.logger.DebugProbe("Probe completed", event.Target.String(),
		"task_id", event.TaskID,
		"status", event.Result.Status.String(),
		"duration", event.Result.Duration)

	if c.metrics == nil {
		return
	}
	labels := metrics.Labels{metrics.LabelStatus: event.Result.Status.String()}
	c.metrics.Counter(metrics.MetricProbesTotal, labels)
	c.metrics.Histogram(metrics.MetricProbeDuration, event.Result.Duration.Seconds(), labels)
}

func (c *Coordinator) recordFailure(event Event) {
	c.logger.WithTarget(event.Target.String()).WithError(event.Err).Warn("Task failed", "task_id", event.TaskID)

	if c.metrics != nil {
		c.metrics.Counter(metrics.MetricTaskFailures, nil)
	}
}

// adjustActive moves the shared in-flight gauge by delta. Several coordinators
// may report into one registry, so the gauge is never set to a local count.
func (c *Coordinator) adjustActive(delta float64) {
	if c.metrics != nil {
		c.metrics.GaugeAdd(metrics.MetricActiveProbes, delta, nil)
	}
}
