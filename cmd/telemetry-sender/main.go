// Package main implements telemetry-sender, a synthetic source that streams
// sine wave frames to a telemetryd listener.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/udptelemetry/input/udp"
)

const appName = "telemetry-sender"

type options struct {
	Addr      string
	Rate      float64
	Count     uint64
	Channels  int
	Amplitude float64
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "Destination host:port")
	fs.Float64Var(&opts.Rate, "rate", 1000, "Datagrams per second")
	fs.Uint64Var(&opts.Count, "count", 0, "Datagrams to send, 0 sends until interrupted")
	fs.IntVar(&opts.Channels, "channels", 2, "Channels per frame")
	fs.Float64Var(&opts.Amplitude, "amplitude", 10000, "Peak value of each sine")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case opts.Rate <= 0:
		return nil, fmt.Errorf("rate must be positive: %v", opts.Rate)
	case opts.Channels < 1 || opts.Channels > udp.MaxChannels:
		return nil, fmt.Errorf("channels must be between 1 and %d: %d", udp.MaxChannels, opts.Channels)
	case opts.Amplitude < 0 || opts.Amplitude > 32767:
		return nil, fmt.Errorf("amplitude must be between 0 and 32767: %v", opts.Amplitude)
	}
	return opts, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", appName)

	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if stderrors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Error("Invalid flags", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := net.Dial("udp", opts.Addr)
	if err != nil {
		logger.Error("Dial failed", "addr", opts.Addr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	logger.Info("Sending telemetry",
		"addr", opts.Addr,
		"rate", opts.Rate,
		"channels", opts.Channels,
		"count", opts.Count)

	start := time.Now()
	sent, err := send(ctx, conn, opts)
	logger.Info("Sender finished", "sent", sent, "elapsed", time.Since(start).Round(time.Millisecond))
	if err != nil && !stderrors.Is(err, context.Canceled) {
		logger.Error("Send failed", "error", err)
		os.Exit(1)
	}
}

// send writes frames to w at opts.Rate until opts.Count frames went out or
// ctx ends.
func send(ctx context.Context, w io.Writer, opts *options) (uint64, error) {
	limiter := rate.NewLimiter(rate.Limit(opts.Rate), 1)
	values := make([]int16, opts.Channels)
	payload := make([]byte, 0, 2*opts.Channels)

	var frame uint64
	for opts.Count == 0 || frame < opts.Count {
		if err := limiter.Wait(ctx); err != nil {
			return frame, err
		}

		udp.SineFrame(values, frame, opts.Amplitude)
		payload = udp.EncodeFrame(payload[:0], values)
		if _, err := w.Write(payload); err != nil {
			return frame, fmt.Errorf("write frame %d: %w", frame, err)
		}
		frame++
	}
	return frame, nil
}
