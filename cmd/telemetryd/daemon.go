package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/c360/udptelemetry/config"
	"github.com/c360/udptelemetry/engine"
	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/health"
	"github.com/c360/udptelemetry/input/udp"
	"github.com/c360/udptelemetry/metric"
	"github.com/c360/udptelemetry/natsclient"
	natsout "github.com/c360/udptelemetry/output/nats"
	"github.com/c360/udptelemetry/pkg/retry"
)

// daemon wires one ingestion session to the drain engine and its sinks.
type daemon struct {
	configPath string
	config     *config.SafeConfig
	logger     *slog.Logger
	registry   *metric.MetricsRegistry
	monitor    *health.Monitor

	session *udp.Session
	engine  *engine.Engine
	nats    *natsclient.Client
	server  *metric.Server
}

func newDaemon(ctx context.Context, configPath string, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		configPath: configPath,
		config:     config.NewSafeConfig(cfg),
		logger:     logger,
		registry:   metric.NewMetricsRegistry(),
		monitor:    health.NewMonitor(),
	}

	if err := d.build(ctx, cfg); err != nil {
		d.release(context.Background())
		return nil, err
	}
	return d, nil
}

func (d *daemon) build(ctx context.Context, cfg *config.Config) error {
	session, err := udp.NewSession(udp.SessionDeps{
		Name:            "ingest",
		Config:          cfg.Ingest,
		MetricsRegistry: d.registry,
		Logger:          d.logger,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	d.session = session

	var sinks []engine.Sink
	if cfg.Drain.LogBatches {
		sinks = append(sinks, engine.NewLogSink(d.logger, slog.LevelInfo))
	}

	if cfg.NATS.Enabled {
		client, err := d.connectNATS(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		d.nats = client

		sinkCfg := natsout.DefaultConfig()
		sinkCfg.Subject = cfg.NATS.Subject
		sinkCfg.Stream = cfg.NATS.Stream
		sink, err := natsout.NewSink(sinkCfg, client, d.logger)
		if err != nil {
			return fmt.Errorf("create NATS sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	eng, err := engine.New(engine.Deps{
		Source: session,
		Sinks:  sinks,
		Config: engine.Config{
			Interval:    cfg.Drain.Interval,
			SinkTimeout: cfg.Drain.SinkTimeout,
		},
		MetricsRegistry: d.registry,
		Logger:          d.logger,
	})
	if err != nil {
		return fmt.Errorf("create drain engine: %w", err)
	}
	d.engine = eng

	d.monitor.Watch("session", session)
	d.monitor.Watch("engine", eng)

	if cfg.Metrics.Enabled {
		d.server = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, d.registry, d.healthCheck,
			d.logger.With("component", "metrics-server"))
	}
	return nil
}

// connectNATS dials the configured servers, retrying transient failures.
func (d *daemon) connectNATS(ctx context.Context, cfg config.NATSConfig) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(d.logger),
		natsclient.WithMetrics(d.registry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				d.monitor.Update("nats", health.NewHealthy("nats", "Connected"))
				return
			}
			d.monitor.Update("nats", health.NewDegraded("nats", "Disconnected, batches are failing"))
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.CertFile != "" || cfg.TLS.CAFile != "" {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	d.logger.Info("Connecting to NATS", "servers", len(cfg.URLs))
	err = retry.Do(ctx, cfg.Retry.ToRetryConfig(), func() error {
		err := client.Connect(ctx)
		if err != nil && !errors.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	d.monitor.Update("nats", health.NewHealthy("nats", "Connected"))
	return client, nil
}

func (d *daemon) healthCheck() (any, bool) {
	status := d.monitor.AggregateHealth(appName)
	d.registry.CoreMetrics().RecordHealthStatus(appName, status.IsHealthy())
	return status, !status.IsUnhealthy()
}

// start brings up the socket loop first so the engine never polls an
// unbound session.
func (d *daemon) start(ctx context.Context) error {
	if err := d.session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := d.engine.Start(ctx); err != nil {
		return fmt.Errorf("start drain engine: %w", err)
	}
	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	d.logger.Info("Listening for telemetry",
		"port", d.session.Port(),
		"channels", d.session.Config().ChannelCount)
	return nil
}

// reload re-reads the configuration layers and applies what can change on a
// live process. Ingest changes restart the socket loop when needed; sink and
// metrics settings take effect on the next start.
func (d *daemon) reload(ctx context.Context) error {
	next, err := loadConfig(d.configPath)
	if err != nil {
		return err
	}

	prev := d.config.Get()
	if err := d.config.Update(next); err != nil {
		return err
	}

	restart, err := d.session.Configure(next.Ingest)
	if err != nil {
		return fmt.Errorf("configure session: %w", err)
	}
	if restart {
		d.logger.Info("Restarting socket loop", "port", next.Ingest.Port, "channels", next.Ingest.ChannelCount)
		if err := d.session.Restart(ctx, next.Ingest); err != nil {
			return fmt.Errorf("restart session: %w", err)
		}
	}

	if err := d.engine.Configure(engine.Config{
		Interval:    next.Drain.Interval,
		SinkTimeout: next.Drain.SinkTimeout,
	}); err != nil {
		return fmt.Errorf("configure drain engine: %w", err)
	}

	if !reflect.DeepEqual(prev.NATS, next.NATS) || prev.Metrics != next.Metrics ||
		prev.Drain.LogBatches != next.Drain.LogBatches {
		d.logger.Warn("Sink and metrics changes apply after a restart of the process")
	}

	d.logger.Info("Configuration reloaded", "restarted", restart)
	return nil
}

// shutdown stops polling, stops the socket, delivers whatever is still
// queued and then closes the sinks.
func (d *daemon) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.engine.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if err := d.session.Stop(d.session.Config().StopTimeout); err != nil {
		errs = append(errs, err)
	}

	if final := d.engine.Flush(ctx); final.Count > 0 {
		d.logger.Info("Delivered final batch", "count", final.Count)
	}

	d.release(ctx)

	if err := stderrors.Join(errs...); err != nil {
		return err
	}
	d.logger.Info("Shutdown complete",
		"received", d.session.Received(),
		"dropped", d.session.Dropped())
	return nil
}

// release closes whatever build created.
func (d *daemon) release(ctx context.Context) {
	if d.server != nil {
		if err := d.server.Stop(5 * time.Second); err != nil {
			d.logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	if d.nats != nil {
		if err := d.nats.Close(ctx); err != nil {
			d.logger.Warn("NATS close failed", "error", err)
		}
	}
	if d.engine != nil {
		if err := d.engine.Close(time.Second); err != nil {
			d.logger.Warn("Drain engine close failed", "error", err)
		}
	}
	if d.session != nil {
		if err := d.session.Close(d.session.Config().StopTimeout); err != nil {
			d.logger.Warn("Session close failed", "error", err)
		}
	}
}

// loadConfig layers path over the defaults and the environment. An empty
// path uses defaults and environment only.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
