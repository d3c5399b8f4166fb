package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateStopped is the initial and terminal state
	StateStopped State = iota
	// StateStarting covers resource setup before the component serves
	StateStarting
	// StateRunning indicates the component is serving
	StateRunning
	// StateStopping covers teardown after a stop request
	StateStopping
	// StateFailed indicates the last start attempt aborted
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is the lifecycle contract every supervised component
// follows:
//   - Initialize() error                 setup only, no goroutines
//   - Start(ctx context.Context) error   start serving
//   - Stop(timeout time.Duration) error  orderly shutdown with a bounded wait
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
