package udp

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/c360/udptelemetry/component"
	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/pkg/buffer"
)

// Log categories for the hot path limiter.
const (
	logDrop    = "drop"
	logReceive = "receive"
)

// newLogLimiter allows one hot path log line per second and ten per minute
// for each category.
func newLogLimiter() *catrate.Limiter {
	return catrate.NewLimiter(map[time.Duration]int{
		time.Second: 1,
		time.Minute: 10,
	})
}

// counters survive loop restarts; every field is written by the loop
// goroutine and read from anywhere.
type counters struct {
	packets      atomic.Int64
	bytes        atomic.Int64
	drops        atomic.Int64
	recvErrors   atomic.Int64
	lastActivity atomic.Int64 // unix nanoseconds
}

// socketLoop is one instance of the readiness loop. It is the only producer
// of buf for as long as done is open.
type socketLoop struct {
	poller   *poller
	buf      *buffer.SampleBuffer
	counters *counters
	metrics  *Metrics
	logger   *slog.Logger
	limiter  *catrate.Limiter
	setState func(component.State)
	onError  func(error)
	done     chan struct{}
}

// receiveError tags a failed socket read so callers can match it with
// errors.Is against ErrReceiveFailed and the underlying errno alike.
func receiveError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errors.ErrReceiveFailed, op, err)
}

// run opens the poller, reports the outcome on started and then serves until
// the shutdown signal fires or the readiness wait fails. The descriptors are
// closed before done closes.
func (l *socketLoop) run(cfg Config, started chan<- error) {
	defer close(l.done)

	p, err := openPoller(cfg, l.logger.Warn)
	if err != nil {
		started <- err
		return
	}
	l.poller = p
	l.setState(component.StateRunning)
	started <- nil

	runErr := p.run(make([]byte, MaxDatagramSize), l.handlePacket, l.handleError)
	if runErr != nil {
		l.exited(runErr)
	}

	l.setState(component.StateStopping)
	if err := p.close(); err != nil {
		l.logger.Warn("Closing socket loop descriptors failed", "error", err)
	}
	if runErr != nil {
		l.setState(component.StateFailed)
		return
	}
	l.setState(component.StateStopped)
}

// exited records a loop that ended without being asked to. It runs at most
// once per loop and bypasses the limiter.
func (l *socketLoop) exited(err error) {
	l.counters.recvErrors.Add(1)
	if l.metrics != nil {
		l.metrics.socketErrors.Inc()
	}
	l.onError(err)
	l.logger.Error("Socket loop exited unexpectedly", "error", err)
}

// handlePacket publishes one datagram. The packets counter moves last so a
// reader that observes it also observes the publish outcome.
func (l *socketLoop) handlePacket(payload []byte) {
	now := time.Now()
	published := l.buf.Publish(payload, DecodeFrame)

	if l.metrics != nil {
		l.metrics.packetsReceived.Inc()
		l.metrics.bytesReceived.Add(float64(len(payload)))
		l.metrics.lastActivity.Set(float64(now.Unix()))
	}
	l.counters.bytes.Add(int64(len(payload)))
	l.counters.lastActivity.Store(now.UnixNano())

	if !published {
		dropped := l.counters.drops.Add(1)
		if l.metrics != nil {
			l.metrics.packetsDropped.Inc()
		}
		if _, ok := l.limiter.Allow(logDrop); ok {
			l.logger.Warn("Sample buffer full, dropping frame",
				"capacity", l.buf.Capacity(),
				"dropped_total", dropped)
		}
	}

	l.counters.packets.Add(1)
}

func (l *socketLoop) handleError(err error) {
	total := l.counters.recvErrors.Add(1)
	if l.metrics != nil {
		l.metrics.socketErrors.Inc()
	}
	l.onError(err)
	if _, ok := l.limiter.Allow(logReceive); ok {
		l.logger.Error("Receive failed", "error", err, "errors_total", total)
	}
}
