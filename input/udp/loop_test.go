package udp

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udptelemetry/errors"
)

func TestReceiveError(t *testing.T) {
	err := receiveError("recvfrom", syscall.ECONNREFUSED)
	assert.ErrorIs(t, err, errors.ErrReceiveFailed)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Contains(t, err.Error(), "recvfrom")
}

func TestSocketLoop_ExitedIsLogged(t *testing.T) {
	var logs bytes.Buffer
	var recorded []error
	l := &socketLoop{
		counters: &counters{},
		logger:   slog.New(slog.NewJSONHandler(&logs, nil)),
		limiter:  newLogLimiter(),
		onError:  func(err error) { recorded = append(recorded, err) },
	}

	l.exited(receiveError("epoll_wait", syscall.EBADF))

	assert.Equal(t, int64(1), l.counters.recvErrors.Load())
	require.Len(t, recorded, 1)
	assert.ErrorIs(t, recorded[0], errors.ErrReceiveFailed)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "Socket loop exited unexpectedly", entry["msg"])
	assert.Contains(t, entry["error"], "epoll_wait")
}

// Receive errors past the limiter budget are still counted and recorded.
func TestSocketLoop_HandleErrorRateLimitsLog(t *testing.T) {
	var logs bytes.Buffer
	var recorded int
	l := &socketLoop{
		counters: &counters{},
		logger:   slog.New(slog.NewJSONHandler(&logs, nil)),
		limiter:  newLogLimiter(),
		onError:  func(error) { recorded++ },
	}

	for i := 0; i < 5; i++ {
		l.handleError(receiveError("recvfrom", syscall.ECONNREFUSED))
	}

	assert.Equal(t, int64(5), l.counters.recvErrors.Load())
	assert.Equal(t, 5, recorded)
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("Receive failed")))
}
