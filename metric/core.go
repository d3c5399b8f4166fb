package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "udptelemetry"

// Metrics contains the process-level metrics shared by every component
type Metrics struct {
	SessionStatus    *prometheus.GaugeVec
	BatchesDelivered *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	HealthStatus     *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metric set, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		SessionStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "status",
				Help:      "Session lifecycle state (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"session"},
		),
		BatchesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "batches_total",
				Help:      "Drained batches handed to a sink, by outcome",
			},
			[]string{"sink", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),
		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.SessionStatus,
		c.BatchesDelivered,
		c.ErrorsTotal,
		c.HealthStatus,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RecordSessionStatus updates the lifecycle gauge of a session
func (c *Metrics) RecordSessionStatus(session string, state int) {
	c.SessionStatus.WithLabelValues(session).Set(float64(state))
}

// RecordBatchDelivered counts a delivery attempt to a sink
func (c *Metrics) RecordBatchDelivered(sink string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	c.BatchesDelivered.WithLabelValues(sink, status).Inc()
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	c.HealthStatus.WithLabelValues(component).Set(boolGauge(healthy))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolGauge(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
