package buffer

import (
	"github.com/c360/udptelemetry/metric"
)

// Option configures a SampleBuffer.
type Option func(*bufferOptions)

// DropCallback is called from the producer goroutine each time a frame is
// dropped, with the running drop total.
type DropCallback func(total int64)

// Statistics are always collected. Metrics are exported only with WithMetrics.
type bufferOptions struct {
	dropCallback  DropCallback
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMetrics exports buffer statistics as Prometheus metrics labeled with
// prefix. A nil registry or empty prefix leaves metrics disabled.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(opts *bufferOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithDropCallback registers fn to run on every dropped frame.
func WithDropCallback(fn DropCallback) Option {
	return func(opts *bufferOptions) {
		opts.dropCallback = fn
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
