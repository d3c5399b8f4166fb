// Package engine polls an ingestion session on a fixed cadence and fans each
// drained batch out to the configured sinks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/udptelemetry/component"
	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/input/udp"
	"github.com/c360/udptelemetry/metric"
)

const (
	componentName = "drain-engine"

	// DefaultInterval is the poll cadence when none is configured.
	DefaultInterval = 10 * time.Millisecond
	// DefaultSinkTimeout bounds one delivery when none is configured.
	DefaultSinkTimeout = time.Second
)

// Source is the consumer side of an ingestion session.
type Source interface {
	Ready() bool
	Drain() udp.Batch
}

// Config sets the poll cadence and the per batch delivery deadline.
type Config struct {
	Interval    time.Duration
	SinkTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.SinkTimeout == 0 {
		c.SinkTimeout = DefaultSinkTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.Interval < 0 || c.SinkTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: interval %v and sink timeout %v must be positive", errors.ErrInvalidConfig, c.Interval, c.SinkTimeout),
			componentName, "Configure", "validate engine config")
	}
	return nil
}

// Deps holds runtime dependencies for an Engine
type Deps struct {
	Source          Source                  // Required
	Sinks           []Sink                  // Receive every non-empty batch
	Config          Config                  // Zero values take defaults
	MetricsRegistry *metric.MetricsRegistry // Optional
	Logger          *slog.Logger            // Optional
}

// Engine drives a Source: every interval it skips when the source is not
// ready, otherwise drains it and delivers the batch to all sinks at once.
// A failing sink is logged and counted; it never stops the engine.
type Engine struct {
	source  Source
	sinks   []Sink
	logger  *slog.Logger
	metrics *engineMetrics

	mu       sync.Mutex
	cfg      Config
	cancel   context.CancelFunc
	done     chan struct{}
	interval chan time.Duration

	state      atomic.Int32
	startedAt  atomic.Int64
	drains     atomic.Int64
	deliveries atomic.Int64
	sinkErrors atomic.Int64
	lastDrain  atomic.Int64
	lastRate   atomic.Uint64
	lastError  atomic.Value // string
}

var _ component.LifecycleComponent = (*Engine)(nil)

// New creates a stopped engine.
func New(deps Deps) (*Engine, error) {
	if deps.Source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "require source")
	}

	cfg := deps.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newEngineMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "New", "register metrics")
	}

	e := &Engine{
		source:   deps.Source,
		sinks:    append([]Sink(nil), deps.Sinks...),
		logger:   logger.With("component", componentName),
		metrics:  metrics,
		cfg:      cfg,
		interval: make(chan time.Duration, 1),
	}
	e.lastError.Store("")
	return e, nil
}

// Meta returns the component metadata
func (e *Engine) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "engine",
		Description: fmt.Sprintf("Drains every %v into %d sinks", e.Config().Interval, len(e.sinks)),
		Version:     "1.0.0",
	}
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// State returns the lifecycle state.
func (e *Engine) State() component.State {
	return component.State(e.state.Load())
}

// Initialize has nothing to set up; configuration was checked by New.
func (e *Engine) Initialize() error {
	return nil
}

// Configure changes the cadence and delivery deadline. A running engine picks
// up the new interval on its next loop iteration.
func (e *Engine) Configure(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	changed := cfg.Interval != e.cfg.Interval
	e.cfg = cfg
	if changed && e.done != nil {
		select {
		case <-e.interval:
		default:
		}
		e.interval <- cfg.Interval
	}
	return nil
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
		default:
			return errors.WrapInvalid(errors.ErrAlreadyRunning, componentName, "Start", "start poll loop")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state.Store(int32(component.StateRunning))
	e.startedAt.Store(time.Now().UnixNano())

	go e.run(ctx, e.cfg.Interval, e.done)

	e.logger.Info("Drain engine started", "interval", e.cfg.Interval, "sinks", len(e.sinks))
	return nil
}

// Stop ends the poll loop, waiting up to timeout for an in-flight delivery.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done == nil {
		return nil
	}

	e.state.Store(int32(component.StateStopping))
	e.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
		return errors.WrapTransient(fmt.Errorf("%w after %v", errors.ErrStopTimeout, timeout),
			componentName, "Stop", "join poll loop")
	}

	e.done = nil
	e.cancel = nil
	e.state.Store(int32(component.StateStopped))
	e.logger.Info("Drain engine stopped",
		"drains", e.drains.Load(),
		"sink_errors", e.sinkErrors.Load())
	return nil
}

func (e *Engine) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.state.CompareAndSwap(int32(component.StateRunning), int32(component.StateStopped))
			return
		case d := <-e.interval:
			ticker.Reset(d)
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick performs one poll. It returns the drained batch and whether the
// source was ready.
func (e *Engine) Tick(ctx context.Context) (udp.Batch, bool) {
	ready := e.source.Ready()
	e.metrics.recordTick(ready)
	if !ready {
		return udp.Batch{}, false
	}
	return e.Flush(ctx), true
}

// Flush drains the source regardless of readiness and delivers the batch.
// The daemon calls it once during shutdown.
func (e *Engine) Flush(ctx context.Context) udp.Batch {
	batch := e.source.Drain()

	e.drains.Add(1)
	e.lastDrain.Store(batch.DrainedAt.UnixNano())
	e.lastRate.Store(math.Float64bits(batch.Rate))
	e.metrics.recordDrain(batch.Count)

	if batch.Count > 0 && len(e.sinks) > 0 {
		if err := e.deliver(ctx, batch); err != nil {
			e.logger.Debug("Batch delivery incomplete", "start_index", batch.StartIndex, "error", err)
		}
	}
	return batch
}

// deliver hands batch to every sink concurrently and returns the first error.
func (e *Engine) deliver(ctx context.Context, batch udp.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, e.Config().SinkTimeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range e.sinks {
		g.Go(func() error {
			start := time.Now()
			err := sink.Deliver(ctx, batch)
			e.deliveries.Add(1)

			class := ""
			if err != nil {
				class = errors.Classify(err).String()
				e.sinkErrors.Add(1)
				e.lastError.Store(err.Error())
				e.logger.Warn("Sink rejected batch",
					"sink", sink.Name(),
					"start_index", batch.StartIndex,
					"count", batch.Count,
					"class", class,
					"error", err)
				err = errors.Wrap(err, componentName, "deliver", fmt.Sprintf("deliver to %s", sink.Name()))
			}
			e.metrics.recordDelivery(sink.Name(), time.Since(start).Seconds(), err, class)
			return err
		})
	}
	return g.Wait()
}

// Close stops the engine and releases its metrics.
func (e *Engine) Close(timeout time.Duration) error {
	if err := e.Stop(timeout); err != nil {
		return err
	}
	e.metrics.unregister()
	e.metrics = nil
	return nil
}

// Drains returns how many drains the engine performed.
func (e *Engine) Drains() int64 {
	return e.drains.Load()
}

// SinkErrors returns how many deliveries failed.
func (e *Engine) SinkErrors() int64 {
	return e.sinkErrors.Load()
}

// Health returns the current health status of the component
func (e *Engine) Health() component.HealthStatus {
	running := e.State() == component.StateRunning

	var uptime time.Duration
	if started := e.startedAt.Load(); running && started != 0 {
		uptime = time.Since(time.Unix(0, started))
	}
	lastError, _ := e.lastError.Load().(string)

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(e.sinkErrors.Load()),
		LastError:  lastError,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (e *Engine) DataFlow() component.FlowMetrics {
	var errorRate float64
	if n := e.deliveries.Load(); n > 0 {
		errorRate = float64(e.sinkErrors.Load()) / float64(n)
	}

	var lastActivity time.Time
	if ns := e.lastDrain.Load(); ns > 0 {
		lastActivity = time.Unix(0, ns)
	}

	return component.FlowMetrics{
		MessagesPerSecond: math.Float64frombits(e.lastRate.Load()),
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
