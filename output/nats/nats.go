// Package nats provides the NATS batch sink: every drained batch is encoded
// as one JSON message and published to a subject or a JetStream stream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/input/udp"
	"github.com/c360/udptelemetry/pkg/retry"
)

// Publisher is the slice of natsclient.Client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Config holds configuration for the NATS sink
type Config struct {
	Subject string       `json:"subject"`
	Stream  string       `json:"stream,omitempty"` // Publish through JetStream when set
	Retry   retry.Config `json:"-"`
}

// DefaultConfig returns the default sink configuration
func DefaultConfig() Config {
	return Config{
		Subject: "telemetry.samples",
		Retry: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "nats-sink", "Validate", "subject is required")
	}
	if strings.ContainsAny(c.Subject, "*> ") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: subject %q must not contain wildcards or spaces", errors.ErrInvalidConfig, c.Subject),
			"nats-sink", "Validate", "check subject")
	}
	return nil
}

// Message is the JSON document published per batch.
type Message struct {
	ID         string      `json:"id"`
	Session    string      `json:"session"`
	StartIndex uint64      `json:"start_index"`
	Count      int         `json:"count"`
	Channels   int         `json:"channels"`
	Rate       float64     `json:"rate"`
	Scale      float64     `json:"scale"`
	DrainedAt  time.Time   `json:"drained_at"`
	Samples    [][]float64 `json:"samples"`
}

// NewMessage builds the wire document for b with a fresh id.
func NewMessage(b udp.Batch) Message {
	return Message{
		ID:         uuid.NewString(),
		Session:    b.Session,
		StartIndex: b.StartIndex,
		Count:      b.Count,
		Channels:   b.Channels,
		Rate:       b.Rate,
		Scale:      b.Scale,
		DrainedAt:  b.DrainedAt,
		Samples:    b.Values,
	}
}

// Sink publishes batches to NATS.
type Sink struct {
	config    Config
	publisher Publisher
	logger    *slog.Logger

	streamMu    sync.Mutex
	streamReady bool

	published atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
}

// NewSink creates a sink publishing through p.
func NewSink(cfg Config, p Publisher, logger *slog.Logger) (*Sink, error) {
	if p == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "nats-sink", "NewSink", "require publisher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{
		config:    cfg,
		publisher: p,
		logger:    logger.With("component", "nats-sink", "subject", cfg.Subject),
	}, nil
}

// Name implements engine.Sink
func (s *Sink) Name() string {
	return "nats"
}

// Deliver implements engine.Sink
func (s *Sink) Deliver(ctx context.Context, batch udp.Batch) error {
	data, err := json.Marshal(NewMessage(batch))
	if err != nil {
		s.failed.Add(1)
		return errors.WrapInvalid(err, "nats-sink", "Deliver", "encode batch")
	}

	if s.config.Stream != "" {
		if err := s.ensureStream(ctx); err != nil {
			s.failed.Add(1)
			return err
		}
	}

	err = retry.Do(ctx, s.config.Retry, func() error {
		var err error
		if s.config.Stream != "" {
			err = s.publisher.PublishToStream(ctx, s.config.Subject, data)
		} else {
			err = s.publisher.Publish(ctx, s.config.Subject, data)
		}
		if err != nil && !errors.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		s.failed.Add(1)
		return errors.Wrap(err, "nats-sink", "Deliver", "publish batch")
	}

	s.published.Add(1)
	s.bytes.Add(int64(len(data)))
	return nil
}

// ensureStream creates the configured stream once. A failure is retried on
// the next batch.
func (s *Sink) ensureStream(ctx context.Context) error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.streamReady {
		return nil
	}

	_, err := s.publisher.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     s.config.Stream,
		Subjects: []string{s.config.Subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return errors.Wrap(err, "nats-sink", "ensureStream", fmt.Sprintf("create stream %s", s.config.Stream))
	}

	s.streamReady = true
	s.logger.Info("JetStream stream ready", "stream", s.config.Stream)
	return nil
}

// Stats reports published and failed batch counts and bytes sent.
func (s *Sink) Stats() (published, failed, bytes int64) {
	return s.published.Load(), s.failed.Load(), s.bytes.Load()
}
