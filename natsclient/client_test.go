package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/metric"
)

// unreachableURL points at a port nothing listens on so connects fail fast.
const unreachableURL = "nats://127.0.0.1:1"

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
	assert.False(t, client.GetStatus().LastFailureTime.IsZero())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Zero(t, client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
	assert.True(t, client.GetStatus().LastFailureTime.IsZero())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient(unreachableURL, WithMaxBackoff(5*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 50; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 5*time.Second, client.Backoff(), "backoff is capped")
}

func TestCircuitBreaker_HalfOpensAfterBackoff(t *testing.T) {
	client, err := NewClient(unreachableURL, WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	// The first trip waits the initial one second backoff.
	assert.Eventually(t, func() bool { return client.Status() == StatusDisconnected },
		3*time.Second, 20*time.Millisecond)
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected bool
	}{
		{StatusConnected, true},
		{StatusDisconnected, false},
		{StatusConnecting, false},
		{StatusReconnecting, false},
		{StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			client, err := NewClient(unreachableURL)
			require.NoError(t, err)
			client.setStatus(tt.status)
			assert.Equal(t, tt.expected, client.IsHealthy())
		})
	}
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient(unreachableURL)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
		assert.True(t, errors.IsTransient(err))
	})

	t.Run("returns when connected", func(t *testing.T) {
		client, err := NewClient(unreachableURL)
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestOperationsWithoutConnection(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "telemetry.samples", []byte("x")), errors.ErrNoConnection)
	assert.ErrorIs(t, client.PublishToStream(ctx, "telemetry.samples", []byte("x")), errors.ErrNoConnection)

	_, err = client.JetStream()
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{Name: "TELEMETRY"})
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	_, err = client.RTT()
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.ErrorIs(t, client.Publish(ctx, "telemetry.samples", []byte("x")), errors.ErrCircuitOpen)
}

func TestConnect_Failures(t *testing.T) {
	client, err := NewClient(unreachableURL,
		WithMaxReconnects(0),
		WithTimeout(500*time.Millisecond),
		WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)

	err = client.Connect(ctx)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen, "open circuit fails fast")
	assert.Equal(t, int32(2), client.Failures())
}

func TestConnect_CancelledContext(t *testing.T) {
	client, err := NewClient(unreachableURL, WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestClose(t *testing.T) {
	client, err := NewClient(unreachableURL, WithCredentials("user", "pass"), WithToken("tok"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()), "second close is a no-op")
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestBuildConnectionOptions(t *testing.T) {
	plain, err := NewClient(unreachableURL)
	require.NoError(t, err)

	full, err := NewClient(unreachableURL,
		WithCredentials("user", "pass"),
		WithToken("tok"),
		WithName("telemetryd"),
		WithTLS("cert.pem", "key.pem", "ca.pem"))
	require.NoError(t, err)

	assert.Len(t, full.buildConnectionOptions(), len(plain.buildConnectionOptions())+5)
}

func TestWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient(unreachableURL, WithMetrics(registry))
	require.NoError(t, err)

	core := registry.CoreMetrics()
	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	client.setStatus(StatusReconnecting)
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSConnected))
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, fn := range []func(){
		func() { client.setStatus(StatusConnecting) },
		func() { client.setStatus(StatusConnected) },
		func() { _ = client.Status() },
		client.recordFailure,
		client.resetCircuit,
		func() { _ = client.GetStatus() },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fn()
			}
		}()
	}
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, client.Status())
}
