package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/udptelemetry/metric"
)

// engineMetrics holds Prometheus metrics for the drain pump.
type engineMetrics struct {
	registry *metric.MetricsRegistry
	core     *metric.Metrics

	ticks            prometheus.Counter
	skipped          prometheus.Counter // ticks where the source was not ready
	drains           prometheus.Counter
	frames           prometheus.Counter
	deliveryDuration *prometheus.HistogramVec // by sink
}

// newEngineMetrics creates and registers engine metrics. A nil registry
// disables metrics.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		registry: registry,
		core:     registry.CoreMetrics(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udptelemetry",
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Drain intervals elapsed",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udptelemetry",
			Subsystem: "engine",
			Name:      "ticks_skipped_total",
			Help:      "Drain intervals skipped because too few frames were queued",
		}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udptelemetry",
			Subsystem: "engine",
			Name:      "drains_total",
			Help:      "Total drains performed",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "udptelemetry",
			Subsystem: "engine",
			Name:      "frames_total",
			Help:      "Frames handed to sinks",
		}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "udptelemetry",
			Subsystem: "engine",
			Name:      "delivery_duration_seconds",
			Help:      "Time a sink took to accept one batch",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"sink"}),
	}

	names := []string{"ticks", "ticks_skipped", "drains", "frames", "delivery_duration"}
	regs := []func() error{
		func() error { return registry.RegisterCounter("engine", names[0], m.ticks) },
		func() error { return registry.RegisterCounter("engine", names[1], m.skipped) },
		func() error { return registry.RegisterCounter("engine", names[2], m.drains) },
		func() error { return registry.RegisterCounter("engine", names[3], m.frames) },
		func() error { return registry.RegisterHistogramVec("engine", names[4], m.deliveryDuration) },
	}
	for i, register := range regs {
		if err := register(); err != nil {
			for _, name := range names[:i] {
				registry.Unregister("engine", name)
			}
			return nil, err
		}
	}

	return m, nil
}

func (m *engineMetrics) recordTick(ready bool) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	if !ready {
		m.skipped.Inc()
	}
}

func (m *engineMetrics) recordDrain(frames int) {
	if m == nil {
		return
	}
	m.drains.Inc()
	m.frames.Add(float64(frames))
}

func (m *engineMetrics) recordDelivery(sink string, seconds float64, err error, class string) {
	if m == nil {
		return
	}
	m.deliveryDuration.WithLabelValues(sink).Observe(seconds)
	m.core.RecordBatchDelivered(sink, err == nil)
	if err != nil {
		m.core.RecordError("engine", class)
	}
}

func (m *engineMetrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"ticks", "ticks_skipped", "drains", "frames", "delivery_duration"} {
		m.registry.Unregister("engine", name)
	}
}
