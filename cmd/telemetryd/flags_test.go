package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer

	cli, err := parseFlags([]string{"--log-level=debug", "-c", "telemetryd.yaml", "--validate"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "telemetryd.yaml", cli.ConfigPath)
	assert.True(t, cli.Validate)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)

	_, err = parseFlags([]string{"--help"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "SIGHUP")
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))

	tests := []struct {
		name    string
		cli     CLIConfig
		wantErr string
	}{
		{"defaults", CLIConfig{ShutdownTimeout: time.Second}, ""},
		{"existing config", CLIConfig{ConfigPath: existing, ShutdownTimeout: time.Second}, ""},
		{"missing config", CLIConfig{ConfigPath: "/nonexistent.json", ShutdownTimeout: time.Second}, "config file not found"},
		{"bad level", CLIConfig{LogLevel: "trace", ShutdownTimeout: time.Second}, "invalid log level"},
		{"bad format", CLIConfig{LogFormat: "xml", ShutdownTimeout: time.Second}, "invalid log format"},
		{"zero timeout", CLIConfig{}, "invalid shutdown timeout"},
		{"version skips checks", CLIConfig{ShowVersion: true, LogLevel: "trace"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cli)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	newLogger(&buf, "warn", "json").Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(&buf, "info", "text").Info("shown", "key", "value")
	assert.Contains(t, buf.String(), "key=value")
	assert.Contains(t, buf.String(), "service=telemetryd")
}
