package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. Every field is updated atomically and
// may be read from any goroutine.
type Statistics struct {
	publishes atomic.Int64
	drops     atomic.Int64
	drains    atomic.Int64
	drained   atomic.Int64
	retries   atomic.Int64
	maxDepth  atomic.Int64
	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) publish(depth int64) {
	s.publishes.Add(1)
	for {
		cur := s.maxDepth.Load()
		if depth <= cur || s.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

func (s *Statistics) drop() int64 {
	return s.drops.Add(1)
}

func (s *Statistics) drain(n int) {
	s.drains.Add(1)
	s.drained.Add(int64(n))
}

func (s *Statistics) retry() {
	s.retries.Add(1)
}

// Publishes returns the number of frames made visible to the consumer.
func (s *Statistics) Publishes() int64 { return s.publishes.Load() }

// Drops returns the number of frames discarded because the buffer was full.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Drains returns the number of DrainAll calls.
func (s *Statistics) Drains() int64 { return s.drains.Load() }

// Drained returns the total number of frames handed to the consumer.
func (s *Statistics) Drained() int64 { return s.drained.Load() }

// Retries returns how often a publish or drain lost its compare-and-swap and
// had to redo its step.
func (s *Statistics) Retries() int64 { return s.retries.Load() }

// MaxDepth returns the highest queue depth observed.
func (s *Statistics) MaxDepth() int64 { return s.maxDepth.Load() }

// DropRate returns drops as a fraction of all frames offered (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	drops := s.Drops()
	total := s.Publishes() + drops
	if total == 0 {
		return 0
	}
	return float64(drops) / float64(total)
}

// Throughput returns published frames per second since creation.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Publishes()) / elapsed
}
