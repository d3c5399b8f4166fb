package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/udptelemetry/errors"
)

// EnvPrefix prefixes every environment override, e.g. UDPTELEMETRY_INGEST_PORT.
const EnvPrefix = "UDPTELEMETRY"

// durationPaths lists the keys that accept Go duration strings in files.
var durationPaths = [][]string{
	{"ingest", "stop_timeout"},
	{"drain", "interval"},
	{"drain", "sink_timeout"},
	{"nats", "reconnect_wait"},
	{"nats", "retry", "initial_delay"},
	{"nats", "retry", "max_delay"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every file layer and the environment, then validates
// when enabled.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("load %s", path))
		}
		if cfg, err = mergeFromMap(cfg, raw); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads one layer into a generic map, choosing the decoder by
// extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrInvalidData, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrInvalidData, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for _, path := range durationPaths {
		parent := data
		for _, key := range path[:len(path)-1] {
			next, ok := parent[key].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		leaf := path[len(path)-1]
		s, ok := parent[leaf].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		parent[leaf] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidData, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

type envBinding struct {
	key   string
	apply func(cfg *Config, val string) error
}

func envInt(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func envFloat(dst func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		*dst(cfg) = f
		return nil
	}
}

func envBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

func envDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

func envString(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		*dst(cfg) = val
		return nil
	}
}

var envBindings = []envBinding{
	{"INGEST_PORT", envInt(func(c *Config) *int { return &c.Ingest.Port })},
	{"INGEST_BIND", envString(func(c *Config) *string { return &c.Ingest.Bind })},
	{"INGEST_CHANNELS", envInt(func(c *Config) *int { return &c.Ingest.ChannelCount })},
	{"INGEST_SCALE", envFloat(func(c *Config) *float64 { return &c.Ingest.Scale })},
	{"INGEST_THRESHOLD", envInt(func(c *Config) *int { return &c.Ingest.RefreshThreshold })},
	{"INGEST_CAPACITY", envInt(func(c *Config) *int { return &c.Ingest.Capacity })},
	{"DRAIN_INTERVAL", envDuration(func(c *Config) *time.Duration { return &c.Drain.Interval })},
	{"DRAIN_SINK_TIMEOUT", envDuration(func(c *Config) *time.Duration { return &c.Drain.SinkTimeout })},
	{"NATS_ENABLED", envBool(func(c *Config) *bool { return &c.NATS.Enabled })},
	{"NATS_URLS", func(c *Config, val string) error {
		c.NATS.URLs = strings.Split(val, ",")
		return nil
	}},
	{"NATS_SUBJECT", envString(func(c *Config) *string { return &c.NATS.Subject })},
	{"NATS_STREAM", envString(func(c *Config) *string { return &c.NATS.Stream })},
	{"NATS_USERNAME", envString(func(c *Config) *string { return &c.NATS.Username })},
	{"NATS_PASSWORD", envString(func(c *Config) *string { return &c.NATS.Password })},
	{"NATS_TOKEN", envString(func(c *Config) *string { return &c.NATS.Token })},
	{"METRICS_ENABLED", envBool(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"METRICS_ADDR", envString(func(c *Config) *string { return &c.Metrics.Addr })},
	{"LOG_LEVEL", envString(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", envString(func(c *Config) *string { return &c.Log.Format })},
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, binding := range envBindings {
		key := l.envPrefix + "_" + binding.key
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if err := binding.apply(cfg, val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
