package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udptelemetry/component"
	"github.com/c360/udptelemetry/config"
	"github.com/c360/udptelemetry/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Ingest.Port = 0
	cfg.Ingest.Bind = "127.0.0.1"
	cfg.Drain.Interval = time.Millisecond
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestDaemon_Pipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, "", testConfig(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, d.start(ctx))

	sender := testutil.NewSender(t, d.session.Port())
	for i := 0; i < 10; i++ {
		sender.Send(int16(i), int16(-i))
	}

	require.Eventually(t, func() bool { return d.session.Received() == 10 },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return d.session.Queued() == 0 },
		2*time.Second, 5*time.Millisecond, "engine drains the session")

	base := strings.TrimSuffix(d.server.Address(), "/metrics")

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["healthy"])

	resp, err = http.Get(d.server.Address())
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "udptelemetry_engine_drains_total")

	require.NoError(t, d.shutdown(2*time.Second))
	assert.Equal(t, component.StateStopped, d.session.State())
}

func TestDaemon_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetryd.yaml")
	writeConfig(t, path, `
ingest:
  port: 0
  bind: 127.0.0.1
  channel_count: 2
drain:
  interval: 1ms
metrics:
  enabled: false
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, path, cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, d.start(ctx))
	defer func() { _ = d.shutdown(2 * time.Second) }()

	writeConfig(t, path, `
ingest:
  port: 0
  bind: 127.0.0.1
  channel_count: 4
  scale: 0.5
drain:
  interval: 5ms
metrics:
  enabled: false
`)
	require.NoError(t, d.reload(ctx))

	assert.Equal(t, 4, d.session.Config().ChannelCount)
	assert.Equal(t, 0.5, d.session.Scale())
	assert.Equal(t, component.StateRunning, d.session.State())
	assert.Equal(t, 5*time.Millisecond, d.engine.Config().Interval)
	assert.Equal(t, 4, d.config.Get().Ingest.ChannelCount)

	sender := testutil.NewSender(t, d.session.Port())
	sender.Send(2, 4, 6, 8)
	require.Eventually(t, func() bool { return d.session.Received() >= 1 },
		2*time.Second, 5*time.Millisecond, "restarted loop receives")
}

func TestDaemon_ReloadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetryd.json")
	writeConfig(t, path, `{"ingest": {"port": 0, "bind": "127.0.0.1"}, "metrics": {"enabled": false}}`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, path, cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, d.start(ctx))
	defer func() { _ = d.shutdown(2 * time.Second) }()

	writeConfig(t, path, `{"ingest": {"channel_count": -1}}`)
	assert.Error(t, d.reload(ctx))
	assert.Equal(t, 2, d.config.Get().Ingest.ChannelCount, "previous config stays active")
	assert.Equal(t, component.StateRunning, d.session.State())
}

func TestDaemon_NATSUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.NATS.Enabled = true
	cfg.NATS.URLs = []string{"nats://127.0.0.1:1"}
	cfg.NATS.Retry.MaxRetries = 1
	cfg.NATS.Retry.InitialDelay = time.Millisecond
	cfg.NATS.Retry.MaxDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	_, err := newDaemon(ctx, "", cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to NATS")
}
