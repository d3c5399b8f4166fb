package udp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-catrate"

	"github.com/c360/udptelemetry/component"
	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/metric"
	"github.com/c360/udptelemetry/pkg/buffer"
)

const componentName = "udp-session"

// Batch is the result of one drain: every frame received since the previous
// drain, in arrival order.
type Batch struct {
	Session    string      `json:"session"`
	StartIndex uint64      `json:"start_index"`
	Count      int         `json:"count"`
	Channels   int         `json:"channels"`
	Scale      float64     `json:"scale"`
	Rate       float64     `json:"rate"`
	DrainedAt  time.Time   `json:"drained_at"`
	Raw        [][]int16   `json:"-"`
	Values     [][]float64 `json:"samples"`
}

// SessionDeps holds runtime dependencies for a Session
type SessionDeps struct {
	Name            string                  // Instance name, used in logs and metric labels
	Config          Config                  // Initial configuration
	MetricsRegistry *metric.MetricsRegistry // Optional
	Logger          *slog.Logger            // Optional
}

// Session owns one logical ingestion session: its configuration, its sample
// buffer, its rate estimate and the lifecycle of the socket loop feeding it.
//
// Lifecycle methods (Configure, Start, Stop, Restart) may be called from any
// goroutine. Drain and Ready form the consumer side and must be called from
// one goroutine at a time.
type Session struct {
	name     string
	id       string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *Metrics
	limiter  *catrate.Limiter
	counters counters
	created  time.Time

	state     atomic.Int32
	port      atomic.Int64
	startedAt atomic.Int64
	lastError atomic.Value // string

	// Consumer-side settings, applied without a restart.
	scaleBits atomic.Uint64
	threshold atomic.Int64

	buf atomic.Pointer[buffer.SampleBuffer]

	mu     sync.Mutex // serializes lifecycle operations
	cfg    Config
	active Config
	loop   *socketLoop

	drainMu   sync.Mutex
	rate      *RateEstimator
	nextIndex uint64
	scratch   []int16
	lastRate  atomic.Uint64
}

// Ensure Session implements the lifecycle contract
var _ component.LifecycleComponent = (*Session)(nil)

// NewSession creates a stopped session. The configuration is validated by
// Initialize and Start.
func NewSession(deps SessionDeps) (*Session, error) {
	cfg := deps.Config.withDefaults()

	name := deps.Name
	if name == "" {
		name = "ingest"
	}

	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", componentName, "session", name, "session_id", id)

	metrics, err := newMetrics(deps.MetricsRegistry, name)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "NewSession", "register metrics")
	}

	now := time.Now()
	s := &Session{
		name:     name,
		id:       id,
		logger:   logger,
		registry: deps.MetricsRegistry,
		metrics:  metrics,
		limiter:  newLogLimiter(),
		created:  now,
		cfg:      cfg,
		rate:     NewRateEstimator(now),
	}
	s.applyConsumerSettings(cfg)
	s.lastError.Store("")
	return s, nil
}

// Meta returns the component metadata
func (s *Session) Meta() component.Metadata {
	cfg := s.Config()
	return component.Metadata{
		Name:        s.name,
		Type:        "input",
		Description: fmt.Sprintf("UDP telemetry ingestion on %s, %d channels", cfg.address(), cfg.ChannelCount),
		Version:     "1.0.0",
	}
}

// ID returns the unique id of this session instance.
func (s *Session) ID() string {
	return s.id
}

// Config returns the current desired configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// State returns the lifecycle state of the socket loop.
func (s *Session) State() component.State {
	return component.State(s.state.Load())
}

func (s *Session) setState(state component.State) {
	s.state.Store(int32(state))
	if s.registry != nil {
		s.registry.CoreMetrics().RecordSessionStatus(s.name, int(state))
	}
}

// Port returns the port the running loop is bound to, or 0.
func (s *Session) Port() int {
	return int(s.port.Load())
}

func (s *Session) applyConsumerSettings(cfg Config) {
	s.scaleBits.Store(math.Float64bits(cfg.Scale))
	s.threshold.Store(int64(cfg.RefreshThreshold))
}

// Scale returns the multiplier applied to raw values at drain time.
func (s *Session) Scale() float64 {
	return math.Float64frombits(s.scaleBits.Load())
}

// Configure replaces the configuration. Scale and refresh threshold take
// effect immediately; restartRequired reports whether the change also
// affects the running socket loop, which keeps its old shape until Restart.
func (s *Session) Configure(cfg Config) (restartRequired bool, err error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.applyConsumerSettings(cfg)

	running := s.loop != nil && !isClosed(s.loop.done)
	return running && s.active.needsRestart(cfg), nil
}

// Initialize validates the configuration without opening resources
func (s *Session) Initialize() error {
	return s.Config().Validate()
}

// Start opens the socket and runs the loop in its own goroutine. It returns
// once the loop is serving or has failed to set up, and fails when a loop is
// already running. Cancelling ctx stops the loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.loop != nil {
		if !isClosed(s.loop.done) {
			return errors.WrapInvalid(errors.ErrAlreadyRunning, componentName, "Start", "start socket loop")
		}
		// The previous loop ended on its own.
		s.loop = nil
	}

	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.ensureBuffer(cfg); err != nil {
		return err
	}

	l := &socketLoop{
		buf:      s.buf.Load(),
		counters: &s.counters,
		metrics:  s.metrics,
		logger:   s.logger,
		limiter:  s.limiter,
		setState: s.setState,
		onError:  s.recordError,
		done:     make(chan struct{}),
	}

	s.setState(component.StateStarting)
	started := make(chan error, 1)
	go l.run(cfg, started)

	if err := <-started; err != nil {
		<-l.done
		s.setState(component.StateFailed)
		s.recordError(err)
		s.logger.Error("Socket loop failed to start", "address", cfg.address(), "error", err)
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrSocketSetup, err),
			componentName, "Start", "open socket loop")
	}

	s.loop = l
	s.active = cfg
	s.port.Store(int64(l.poller.localPort()))
	s.startedAt.Store(time.Now().UnixNano())
	if s.metrics != nil {
		s.metrics.restarts.Inc()
	}

	go func() {
		select {
		case <-ctx.Done():
			if err := l.poller.wakeup(); err != nil {
				s.logger.Warn("Waking socket loop on cancellation failed", "error", err)
			}
		case <-l.done:
		}
	}()

	s.logger.Info("Socket loop running",
		"bind", cfg.Bind,
		"port", s.Port(),
		"channels", cfg.ChannelCount,
		"capacity", cfg.Capacity)
	return nil
}

// ensureBuffer allocates a new sample buffer when none exists or the shape
// changed. It runs only while no loop is producing.
func (s *Session) ensureBuffer(cfg Config) error {
	old := s.buf.Load()
	if old != nil && old.Width() == cfg.ChannelCount && old.Capacity() == cfg.Capacity {
		return nil
	}

	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	if old != nil {
		old.Close()
	}

	var opts []buffer.Option
	if s.registry != nil {
		opts = append(opts, buffer.WithMetrics(s.registry, s.name))
	}
	buf, err := buffer.NewSampleBuffer(cfg.Capacity, cfg.ChannelCount, opts...)
	if err != nil {
		s.buf.Store(nil)
		return errors.Wrap(err, componentName, "Start", "allocate sample buffer")
	}
	s.buf.Store(buf)
	s.scratch = make([]int16, 0, cfg.Capacity*cfg.ChannelCount)
	return nil
}

// Stop signals the loop to shut down and waits up to timeout for it to close
// its descriptors. On timeout a transient error is returned and the loop is
// left to finish on its own. Stopping a stopped session is a no-op.
func (s *Session) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(timeout)
}

func (s *Session) stopLocked(timeout time.Duration) error {
	l := s.loop
	if l == nil {
		return nil
	}

	if !isClosed(l.done) {
		s.setState(component.StateStopping)
		if err := l.poller.wakeup(); err != nil {
			s.logger.Warn("Signalling socket loop failed", "error", err)
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-l.done:
		case <-timer.C:
			s.logger.Warn("Socket loop did not stop in time", "timeout", timeout)
			return errors.WrapTransient(fmt.Errorf("%w after %v", errors.ErrStopTimeout, timeout),
				componentName, "Stop", "join socket loop")
		}
	}

	s.loop = nil
	s.port.Store(0)

	attrs := []any{
		"packets_received", s.counters.packets.Load(),
		"packets_dropped", s.counters.drops.Load(),
	}
	if buf := s.buf.Load(); buf != nil {
		stats := buf.Stats()
		attrs = append(attrs,
			"frames_per_second", stats.Throughput(),
			"handoff_retries", stats.Retries())
	}
	s.logger.Info("Socket loop stopped", attrs...)
	return nil
}

// Restart applies cfg, stops the running loop and starts a new one. The old
// socket is closed before the new one binds. When the old loop does not stop
// within cfg.StopTimeout no new loop is started.
func (s *Session) Restart(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.applyConsumerSettings(cfg)

	if err := s.stopLocked(cfg.StopTimeout); err != nil {
		return err
	}

	s.drainMu.Lock()
	s.rate.Reset(time.Now())
	s.lastRate.Store(0)
	s.drainMu.Unlock()

	return s.startLocked(ctx)
}

// Close stops the session and releases its metrics.
func (s *Session) Close(timeout time.Duration) error {
	if err := s.Stop(timeout); err != nil {
		return err
	}

	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	if buf := s.buf.Load(); buf != nil {
		buf.Close()
	}
	if s.metrics != nil {
		s.metrics.unregister()
		s.metrics = nil
	}
	return nil
}

// Queued returns the number of frames waiting to be drained.
func (s *Session) Queued() int {
	if buf := s.buf.Load(); buf != nil {
		return buf.Len()
	}
	return 0
}

// Ready reports whether at least RefreshThreshold frames are queued.
func (s *Session) Ready() bool {
	buf := s.buf.Load()
	return buf != nil && int64(buf.Len()) >= s.threshold.Load()
}

// Drain takes every queued frame, applies the current scale and updates the
// rate estimate. It never blocks on the socket loop.
func (s *Session) Drain() Batch {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	now := time.Now()
	scale := s.Scale()
	batch := Batch{
		Session:    s.name,
		StartIndex: s.nextIndex,
		Scale:      scale,
		DrainedAt:  now,
	}

	if buf := s.buf.Load(); buf != nil {
		var flat []int16
		batch.Count, flat = buf.DrainAll(s.scratch[:0])
		s.scratch = flat
		batch.Channels = buf.Width()
		batch.Raw, batch.Values = splitFrames(flat, batch.Count, batch.Channels, scale)
	}

	s.nextIndex += uint64(batch.Count)
	batch.Rate = s.rate.Update(batch.Count, now)
	s.lastRate.Store(math.Float64bits(batch.Rate))

	if s.metrics != nil {
		s.metrics.packetRate.Set(batch.Rate)
		s.metrics.drainSize.Observe(float64(batch.Count))
	}
	return batch
}

// splitFrames copies flat into per-frame raw and scaled slices.
func splitFrames(flat []int16, count, width int, scale float64) ([][]int16, [][]float64) {
	raw := make([][]int16, count)
	values := make([][]float64, count)
	rawBacking := make([]int16, count*width)
	valBacking := make([]float64, count*width)
	copy(rawBacking, flat)

	for i := range count {
		lo, hi := i*width, (i+1)*width
		raw[i] = rawBacking[lo:hi:hi]
		values[i] = valBacking[lo:hi:hi]
		for c, v := range raw[i] {
			values[i][c] = float64(v) * scale
		}
	}
	return raw, values
}

// CurrentRate returns the packet rate computed by the latest Drain.
func (s *Session) CurrentRate() float64 {
	return math.Float64frombits(s.lastRate.Load())
}

// Dropped returns the number of datagrams dropped because the buffer was full.
func (s *Session) Dropped() int64 {
	return s.counters.drops.Load()
}

// Received returns the number of datagrams read from the socket.
func (s *Session) Received() int64 {
	return s.counters.packets.Load()
}

func (s *Session) recordError(err error) {
	s.lastError.Store(err.Error())
}

// Health returns the current health status of the component
func (s *Session) Health() component.HealthStatus {
	var uptime time.Duration
	if started := s.startedAt.Load(); started != 0 && s.State() == component.StateRunning {
		uptime = time.Since(time.Unix(0, started))
	}
	lastError, _ := s.lastError.Load().(string)

	return component.HealthStatus{
		Healthy:    s.State() == component.StateRunning,
		LastCheck:  time.Now(),
		ErrorCount: int(s.counters.recvErrors.Load()),
		LastError:  lastError,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (s *Session) DataFlow() component.FlowMetrics {
	packets := s.counters.packets.Load()
	drops := s.counters.drops.Load()

	var bytesPerSecond, errorRate float64
	if uptime := time.Since(s.created).Seconds(); uptime > 0 {
		bytesPerSecond = float64(s.counters.bytes.Load()) / uptime
	}
	if packets > 0 {
		errorRate = float64(drops+s.counters.recvErrors.Load()) / float64(packets)
	}

	var lastActivity time.Time
	if ns := s.counters.lastActivity.Load(); ns != 0 {
		lastActivity = time.Unix(0, ns)
	}

	return component.FlowMetrics{
		MessagesPerSecond: s.CurrentRate(),
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
