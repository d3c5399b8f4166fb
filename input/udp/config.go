package udp

import (
	"fmt"
	"math"
	"net"
	"time"

	"github.com/c360/udptelemetry/errors"
)

const (
	// MaxChannels bounds the values carried by one frame.
	MaxChannels = 128
	// DefaultCapacity is the number of frames buffered between drains.
	DefaultCapacity = 1024
	// DefaultPort is the UDP port listened on when none is configured.
	DefaultPort = 8080
	// MaxDatagramSize is the largest payload read from the socket; longer
	// datagrams are truncated by the kernel.
	MaxDatagramSize = 65536

	defaultReadBuffer  = 2 * 1024 * 1024
	defaultStopTimeout = 500 * time.Millisecond
)

// Config describes one ingestion session. Port, Bind, ChannelCount,
// Capacity and ReadBufferBytes shape the socket loop and need a restart to
// change; Scale and RefreshThreshold are read on every drain.
type Config struct {
	Port             int           `json:"port" yaml:"port"`
	Bind             string        `json:"bind" yaml:"bind"`
	ChannelCount     int           `json:"channel_count" yaml:"channel_count"`
	Scale            float64       `json:"scale" yaml:"scale"`
	RefreshThreshold int           `json:"refresh_threshold" yaml:"refresh_threshold"`
	Capacity         int           `json:"capacity" yaml:"capacity"`
	ReadBufferBytes  int           `json:"read_buffer_bytes" yaml:"read_buffer_bytes"`
	StopTimeout      time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// DefaultConfig returns a two channel session on port 8080.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		Bind:             "0.0.0.0",
		ChannelCount:     2,
		Scale:            1.0,
		RefreshThreshold: 0,
		Capacity:         DefaultCapacity,
		ReadBufferBytes:  defaultReadBuffer,
		StopTimeout:      defaultStopTimeout,
	}
}

// withDefaults fills zero values that have no meaningful zero.
func (c Config) withDefaults() Config {
	if c.Bind == "" {
		c.Bind = "0.0.0.0"
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = defaultStopTimeout
	}
	return c
}

// Validate checks the configuration. Port 0 asks the OS for a free port.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"udp-config", "Validate", "validate session config")
	}

	if c.Port < 0 || c.Port > math.MaxUint16 {
		return invalid("port %d out of range", c.Port)
	}
	if c.Bind != "" && net.ParseIP(c.Bind).To4() == nil {
		return invalid("bind address %q is not an IPv4 address", c.Bind)
	}
	if c.ChannelCount < 0 || c.ChannelCount > MaxChannels {
		return invalid("channel count %d outside 0..%d", c.ChannelCount, MaxChannels)
	}
	if math.IsNaN(c.Scale) || math.IsInf(c.Scale, 0) {
		return invalid("scale must be finite")
	}
	if c.RefreshThreshold < 0 {
		return invalid("refresh threshold %d is negative", c.RefreshThreshold)
	}
	if c.Capacity < 0 {
		return invalid("capacity %d is negative", c.Capacity)
	}
	if c.ReadBufferBytes < 0 {
		return invalid("read buffer size %d is negative", c.ReadBufferBytes)
	}
	if c.StopTimeout < 0 {
		return invalid("stop timeout %v is negative", c.StopTimeout)
	}
	return nil
}

// needsRestart reports whether moving a live loop from c to next requires
// tearing the socket down.
func (c Config) needsRestart(next Config) bool {
	return c.Port != next.Port ||
		c.Bind != next.Bind ||
		c.ChannelCount != next.ChannelCount ||
		c.Capacity != next.Capacity ||
		c.ReadBufferBytes != next.ReadBufferBytes
}

func (c Config) address() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}
