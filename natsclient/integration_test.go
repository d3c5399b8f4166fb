//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udptelemetry/errors"
)

func TestIntegration_ConnectAndPublish(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	assert.True(t, tc.Client.IsHealthy())
	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Positive(t, rtt)

	sub, err := tc.Client.conn.SubscribeSync("telemetry.samples")
	require.NoError(t, err)

	require.NoError(t, tc.Client.Publish(ctx, "telemetry.samples", []byte(`{"count":1}`)))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(msg.Data))
}

func TestIntegration_EnsureStreamAndPublish(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := jetstream.StreamConfig{Name: "TELEMETRY", Subjects: []string{"telemetry.>"}}
	_, err := tc.Client.EnsureStream(ctx, cfg)
	require.NoError(t, err)

	// A second call with the same config is accepted.
	stream, err := tc.Client.EnsureStream(ctx, cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tc.Client.PublishToStream(ctx, "telemetry.samples", []byte("batch")))
	}

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)
}

func TestIntegration_Close(t *testing.T) {
	tc := NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tc.Client.Close(ctx))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())
	assert.ErrorIs(t, tc.Client.Publish(ctx, "telemetry.samples", nil), errors.ErrNoConnection)
}
