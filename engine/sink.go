package engine

import (
	"context"
	"log/slog"

	"github.com/c360/udptelemetry/input/udp"
)

// Sink receives drained batches. Deliver is called from its own goroutine
// for every non-empty batch and must not modify the batch.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, batch udp.Batch) error
}

// LogSink writes one summary line per batch.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a sink logging at level through logger.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "log-sink"), level: level}
}

// Name implements Sink
func (s *LogSink) Name() string {
	return "log"
}

// Deliver implements Sink
func (s *LogSink) Deliver(ctx context.Context, batch udp.Batch) error {
	if !s.logger.Enabled(ctx, s.level) {
		return nil
	}

	attrs := []any{
		"session", batch.Session,
		"start_index", batch.StartIndex,
		"count", batch.Count,
		"channels", batch.Channels,
		"rate", batch.Rate,
	}
	if batch.Count > 0 {
		attrs = append(attrs, "last", batch.Values[batch.Count-1])
	}
	s.logger.Log(ctx, s.level, "Batch drained", attrs...)
	return nil
}
