// Package main implements telemetryd, the daemon that listens for UDP
// telemetry frames, drains them on a fixed cadence and forwards every batch
// to the configured sinks.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "telemetryd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(context.Background(), os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cli, err := parseFlags(args, os.Stderr)
	if stderrors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logger := setupLogger(level, format)
	slog.SetDefault(logger)

	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting telemetryd",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	d, err := newDaemon(signalCtx, cli.ConfigPath, cfg, logger)
	if err != nil {
		return err
	}

	if err := d.start(signalCtx); err != nil {
		_ = d.shutdown(cli.ShutdownTimeout)
		return err
	}

	for {
		select {
		case <-signalCtx.Done():
			logger.Info("Received shutdown signal")
			if err := d.shutdown(cli.ShutdownTimeout); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		case <-hup:
			logger.Info("Received SIGHUP, reloading configuration")
			if err := d.reload(signalCtx); err != nil {
				logger.Error("Configuration reload failed", "error", err)
			}
		}
	}
}
