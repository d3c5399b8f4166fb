package udp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/udptelemetry/metric"
)

// Metrics holds Prometheus metrics for one ingestion session
type Metrics struct {
	registry    *metric.MetricsRegistry
	serviceName string

	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	packetsDropped  prometheus.Counter
	socketErrors    prometheus.Counter
	restarts        prometheus.Counter
	packetRate      prometheus.Gauge
	lastActivity    prometheus.Gauge
	drainSize       prometheus.Histogram
}

var sessionMetricNames = []string{
	"packets_received", "bytes_received", "packets_dropped", "socket_errors",
	"restarts", "packet_rate", "last_activity", "drain_size",
}

// newMetrics creates and registers session metrics. A nil registry disables
// metrics and yields a nil *Metrics.
func newMetrics(registry *metric.MetricsRegistry, session string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"session": session}
	m := &Metrics{
		registry:    registry,
		serviceName: "udp_" + session,
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP datagrams received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total payload bytes received",
			ConstLabels: labels,
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "packets_dropped_total",
			Help:        "Datagrams dropped because the sample buffer was full",
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			Help:        "Unexpected receive errors",
			ConstLabels: labels,
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "loop_starts_total",
			Help:        "Socket loop instances started",
			ConstLabels: labels,
		}),
		packetRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "packet_rate",
			Help:        "Smoothed packets per second observed at drain time",
			ConstLabels: labels,
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received datagram",
			ConstLabels: labels,
		}),
		drainSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "udptelemetry",
			Subsystem:   "udp",
			Name:        "drain_size",
			Help:        "Frames returned per drain",
			Buckets:     []float64{0, 1, 8, 32, 128, 256, 512, 1024},
			ConstLabels: labels,
		}),
	}

	regs := []func() error{
		func() error { return registry.RegisterCounter(m.serviceName, sessionMetricNames[0], m.packetsReceived) },
		func() error { return registry.RegisterCounter(m.serviceName, sessionMetricNames[1], m.bytesReceived) },
		func() error { return registry.RegisterCounter(m.serviceName, sessionMetricNames[2], m.packetsDropped) },
		func() error { return registry.RegisterCounter(m.serviceName, sessionMetricNames[3], m.socketErrors) },
		func() error { return registry.RegisterCounter(m.serviceName, sessionMetricNames[4], m.restarts) },
		func() error { return registry.RegisterGauge(m.serviceName, sessionMetricNames[5], m.packetRate) },
		func() error { return registry.RegisterGauge(m.serviceName, sessionMetricNames[6], m.lastActivity) },
		func() error { return registry.RegisterHistogram(m.serviceName, sessionMetricNames[7], m.drainSize) },
	}
	for i, register := range regs {
		if err := register(); err != nil {
			for _, name := range sessionMetricNames[:i] {
				registry.Unregister(m.serviceName, name)
			}
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) unregister() {
	for _, name := range sessionMetricNames {
		m.registry.Unregister(m.serviceName, name)
	}
}
