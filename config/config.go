// Package config loads and validates the telemetry daemon configuration.
//
// Configuration is assembled in layers: built-in defaults, then each file
// added to a Loader (JSON, or YAML by extension), then UDPTELEMETRY_*
// environment variables. SafeConfig holds the current snapshot for readers
// while a reload replaces it.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/udptelemetry/base.yaml")
//	loader.AddLayer("/etc/udptelemetry/site.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/input/udp"
)

// Config represents the complete daemon configuration
type Config struct {
	Ingest  udp.Config    `json:"ingest"`
	Drain   DrainConfig   `json:"drain"`
	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
}

// DrainConfig controls how often the engine polls the session and how long
// sinks get per batch.
type DrainConfig struct {
	Interval    time.Duration `json:"interval"`
	SinkTimeout time.Duration `json:"sink_timeout"`
	LogBatches  bool          `json:"log_batches"`
}

// NATSConfig defines the NATS batch sink and its connection settings
type NATSConfig struct {
	Enabled       bool               `json:"enabled"`
	URLs          []string           `json:"urls,omitempty"`
	Subject       string             `json:"subject"`
	Stream        string             `json:"stream,omitempty"` // publish through JetStream when set
	Name          string             `json:"name,omitempty"`
	Username      string             `json:"username,omitempty"`
	Password      string             `json:"password,omitempty"`
	Token         string             `json:"token,omitempty"`
	MaxReconnects int                `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration      `json:"reconnect_wait,omitempty"`
	TLS           NATSTLSConfig      `json:"tls,omitempty"`
	Retry         errors.RetryConfig `json:"retry"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// LogConfig selects the slog level and handler
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Ingest: udp.DefaultConfig(),
		Drain: DrainConfig{
			Interval:    10 * time.Millisecond,
			SinkTimeout: time.Second,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Subject:       "telemetry.samples",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Retry:         errors.DefaultRetryConfig(),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"config", "Validate", "validate configuration")
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return err
	}

	if c.Drain.Interval <= 0 {
		return invalid("drain.interval must be positive, got %v", c.Drain.Interval)
	}
	if c.Drain.SinkTimeout <= 0 {
		return invalid("drain.sink_timeout must be positive, got %v", c.Drain.SinkTimeout)
	}

	if c.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when nats is enabled")
		}
		if !isValidSubject(c.NATS.Subject) {
			return invalid("nats.subject %q is not a valid publish subject", c.NATS.Subject)
		}
		if c.NATS.Stream != "" && !isValidStreamName(c.NATS.Stream) {
			return invalid("nats.stream %q is not a valid stream name", c.NATS.Stream)
		}
		if c.NATS.Retry.MaxRetries < 0 {
			return invalid("nats.retry.max_retries must not be negative")
		}
		if (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
			return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return invalid("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == "/health" {
			return invalid("metrics.path %q must start with / and not be /health", c.Metrics.Path)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format %q must be json or text", c.Log.Format)
	}

	return nil
}

// isValidSubject checks a concrete publish subject: dot separated, non-empty
// tokens without wildcards or whitespace.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" || token == "*" || token == ">" {
			return false
		}
		for _, r := range token {
			if unicode.IsSpace(r) || r == '*' || r == '>' {
				return false
			}
		}
	}
	return true
}

// isValidStreamName checks a JetStream stream name.
func isValidStreamName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return s != ""
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	return &clone
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, secret := range []*string{&masked.NATS.Password, &masked.NATS.Token} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Update", "replace configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
