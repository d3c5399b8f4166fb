package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateRunning:  "running",
		StateStopping: "stopping",
		StateFailed:   "failed",
		State(42):     "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
