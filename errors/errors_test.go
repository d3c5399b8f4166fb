package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"stop timeout", ErrStopTimeout, ErrorTransient},
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"context deadline", context.DeadlineExceeded, ErrorTransient},
		{"timeout in message", fmt.Errorf("read timeout on socket"), ErrorTransient},
		{"socket setup", ErrSocketSetup, ErrorFatal},
		{"address in use", fmt.Errorf("bind: address already in use"), ErrorFatal},
		{"invalid config", ErrInvalidConfig, ErrorInvalid},
		{"invalid data", ErrInvalidData, ErrorInvalid},
		{"unknown", errors.New("something odd"), ErrorTransient},
		{"wrapped fatal", WrapFatal(errors.New("eventfd"), "session", "Start", "create wake handle"), ErrorFatal},
		{"wrapped invalid", WrapInvalid(ErrInvalidConfig, "session", "Configure", "validate"), ErrorInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestNilHandling(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(ErrSocketSetup, "udp-session", "Start", "bind socket")
	assert.Equal(t, "udp-session.Start: bind socket failed: socket setup failed", err.Error())
	assert.ErrorIs(t, err, ErrSocketSetup)
}

func TestClassifiedError_Fields(t *testing.T) {
	err := WrapTransient(ErrStopTimeout, "udp-session", "Stop", "join loop")

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "udp-session", ce.Component)
	assert.Equal(t, "Stop", ce.Operation)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Contains(t, err.Error(), "join loop failed")
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, 3))
	assert.False(t, rc.ShouldRetry(ErrSocketSetup, 0))
	assert.False(t, rc.ShouldRetry(nil, 0))

	cfg := rc.ToRetryConfig()
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
