package metric

import (
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udptelemetry/errors"
)

func gatherFamilies(t *testing.T, r *MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	names := make(map[string]bool)
	for name := range gatherFamilies(t, r) {
		names[name] = true
	}
	return names
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "test"})
	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestMetricsRegistry_DuplicateIsInvalid(t *testing.T) {
	registry := NewMetricsRegistry()

	g1 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})
	g2 := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "test"})

	require.NoError(t, registry.RegisterGauge("svc", "dup", g1))

	err := registry.RegisterGauge("svc", "dup", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterGauge("other", "dup", g2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus level conflict is also invalid")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_hist", Help: "test"})
	require.NoError(t, registry.RegisterHistogram("svc", "hist", h))

	assert.True(t, registry.Unregister("svc", "hist"))
	assert.False(t, registry.Unregister("svc", "hist"))

	h2 := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_hist", Help: "test"})
	assert.NoError(t, registry.RegisterHistogram("svc", "hist", h2))
}

func TestMetricsRegistry_RegisterHistogramVec(t *testing.T) {
	registry := NewMetricsRegistry()

	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_delivery_seconds",
		Help:    "test",
		Buckets: []float64{0.01, 0.1},
	}, []string{"sink"})
	require.NoError(t, registry.RegisterHistogramVec("svc", "delivery", hv))

	hv.WithLabelValues("nats").Observe(0.05)
	hv.WithLabelValues("nats").Observe(0.5)

	mf := gatherFamilies(t, registry)["test_delivery_seconds"]
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
	require.Len(t, mf.GetMetric(), 1)

	m := mf.GetMetric()[0]
	assert.Equal(t, "nats", m.GetLabel()[0].GetValue())
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
	assert.Equal(t, uint64(0), m.GetHistogram().GetBucket()[0].GetCumulativeCount())
	assert.Equal(t, uint64(1), m.GetHistogram().GetBucket()[1].GetCumulativeCount())
}

func TestCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordSessionStatus("ingest", 2)
	core.RecordBatchDelivered("nats", true)
	core.RecordBatchDelivered("nats", false)
	core.RecordError("engine", "transient")
	core.RecordHealthStatus("ingest", true)
	core.RecordNATSStatus(true)
	core.RecordNATSReconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(core.SessionStatus.WithLabelValues("ingest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.BatchesDelivered.WithLabelValues("nats", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))
	assert.True(t, gatheredNames(t, registry)["udptelemetry_session_status"])

	errorsFamily := gatherFamilies(t, registry)["udptelemetry_errors_total"]
	require.NotNil(t, errorsFamily)
	assert.Equal(t, dto.MetricType_COUNTER, errorsFamily.GetType())
	assert.Equal(t, 1.0, errorsFamily.GetMetric()[0].GetCounter().GetValue())
}

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordSessionStatus("ingest", 2)

	var healthy atomic.Bool
	healthy.Store(true)
	srv := NewServer("127.0.0.1:0", "", registry, func() (any, bool) {
		return map[string]bool{"healthy": healthy.Load()}, healthy.Load()
	}, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(time.Second) })

	resp, err := http.Get(srv.Address())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "udptelemetry_session_status")

	healthURL := strings.TrimSuffix(srv.Address(), "/metrics") + "/health"
	resp, err = http.Get(healthURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.Store(false)
	resp, err = http.Get(healthURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Error(t, srv.Start(), "second start must fail")
}
