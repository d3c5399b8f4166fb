package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/udptelemetry/metric"
)

var metricNames = []string{"buffer_publishes", "buffer_drops", "buffer_drains", "buffer_depth", "buffer_utilization"}

// bufferMetrics mirrors Statistics into Prometheus.
type bufferMetrics struct {
	registry *metric.MetricsRegistry
	prefix   string

	publishes   prometheus.Counter
	drops       prometheus.Counter
	drains      prometheus.Counter
	depth       prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &bufferMetrics{
		registry: registry,
		prefix:   prefix,
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "buffer",
			Name:        "publishes_total",
			ConstLabels: labels,
			Help:        "Frames published into the sample buffer",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "buffer",
			Name:        "drops_total",
			ConstLabels: labels,
			Help:        "Frames dropped because the sample buffer was full",
		}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "buffer",
			Name:        "drains_total",
			ConstLabels: labels,
			Help:        "Consumer drain calls",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "buffer",
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Frames waiting to be drained",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Filled fraction of the sample buffer (0.0 to 1.0)",
		}),
	}

	regs := []func() error{
		func() error { return registry.RegisterCounter(prefix, metricNames[0], m.publishes) },
		func() error { return registry.RegisterCounter(prefix, metricNames[1], m.drops) },
		func() error { return registry.RegisterCounter(prefix, metricNames[2], m.drains) },
		func() error { return registry.RegisterGauge(prefix, metricNames[3], m.depth) },
		func() error { return registry.RegisterGauge(prefix, metricNames[4], m.utilization) },
	}
	for i, register := range regs {
		if err := register(); err != nil {
			for _, name := range metricNames[:i] {
				registry.Unregister(prefix, name)
			}
			return nil, err
		}
	}

	return m, nil
}

func (m *bufferMetrics) unregister() {
	for _, name := range metricNames {
		m.registry.Unregister(m.prefix, name)
	}
}

func (m *bufferMetrics) setDepth(depth, capacity int) {
	m.depth.Set(float64(depth))
	m.utilization.Set(float64(depth) / float64(capacity))
}
