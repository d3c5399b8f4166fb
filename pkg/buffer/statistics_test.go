package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	assert.Zero(t, s.DropRate())

	s.publish(1)
	s.publish(2)
	s.drop()
	s.drain(2)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int64(2), s.Publishes())
	assert.Equal(t, int64(1), s.Drops())
	assert.Equal(t, int64(1), s.Drains())
	assert.Equal(t, int64(2), s.Drained())
	assert.Equal(t, int64(2), s.MaxDepth())
	assert.InDelta(t, 1.0/3, s.DropRate(), 1e-9)

	// Two publishes over at least 10ms.
	throughput := s.Throughput()
	assert.Greater(t, throughput, 0.0)
	assert.LessOrEqual(t, throughput, 200.0)
}

func TestStatistics_MaxDepthKeepsHighest(t *testing.T) {
	s := NewStatistics()
	s.publish(5)
	s.publish(3)
	assert.Equal(t, int64(5), s.MaxDepth())
}
