package buffer

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udptelemetry/errors"
	"github.com/c360/udptelemetry/metric"
)

func decodeLE(dst []int16, payload []byte) int {
	n := min(len(dst), len(payload)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return n
}

func TestNewSampleBuffer_Validation(t *testing.T) {
	_, err := NewSampleBuffer(0, 2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewSampleBuffer(8, -1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	buf, err := NewSampleBuffer(8, 0)
	require.NoError(t, err)
	assert.True(t, buf.PublishValues(nil), "zero width frames still count")
	assert.Equal(t, 1, buf.Len())
}

func TestSampleBuffer_PublishAndDrain(t *testing.T) {
	buf, err := NewSampleBuffer(4, 2)
	require.NoError(t, err)

	assert.True(t, buf.Publish([]byte{0x64, 0x00, 0x9C, 0xFF}, decodeLE))
	assert.True(t, buf.PublishValues([]int16{1, 2}))
	assert.Equal(t, 2, buf.Len())

	n, out := buf.DrainAll(nil)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int16{100, -100, 1, 2}, out)
	assert.Equal(t, 0, buf.Len())
}

func TestSampleBuffer_SecondDrainIsEmpty(t *testing.T) {
	buf, err := NewSampleBuffer(4, 1)
	require.NoError(t, err)
	buf.PublishValues([]int16{7})

	n, _ := buf.DrainAll(nil)
	require.Equal(t, 1, n)

	n, out := buf.DrainAll(nil)
	assert.Equal(t, 0, n)
	assert.Empty(t, out)
}

func TestSampleBuffer_OverflowDrops(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		sent     int
	}{
		{"under capacity", 16, 10},
		{"exactly full", 16, 16},
		{"overflow", 16, 40},
		{"design capacity", 1024, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lastTotal int64
			buf, err := NewSampleBuffer(tt.capacity, 2, WithDropCallback(func(total int64) {
				lastTotal = total
			}))
			require.NoError(t, err)

			for i := 0; i < tt.sent; i++ {
				buf.PublishValues([]int16{int16(i), int16(-i)})
			}

			wantDrops := max(0, tt.sent-tt.capacity)
			assert.Equal(t, int64(wantDrops), buf.Stats().Drops())
			assert.Equal(t, int64(wantDrops), lastTotal)

			n, out := buf.DrainAll(nil)
			assert.Equal(t, min(tt.sent, tt.capacity), n)
			assert.Len(t, out, n*2)
			// Overflow discards the newest frames, never overwrites.
			assert.Equal(t, int16(0), out[0])
			assert.Equal(t, int16(n-1), out[2*(n-1)])
		})
	}
}

func TestSampleBuffer_ShortFrameLeavesSlotTail(t *testing.T) {
	buf, err := NewSampleBuffer(2, 8)
	require.NoError(t, err)

	buf.PublishValues([]int16{100, -200, 300, -400})
	_, out := buf.DrainAll(nil)
	assert.Equal(t, []int16{100, -200, 300, -400, 0, 0, 0, 0}, out)

	// The slot is reused; channels the next frame does not carry keep the
	// previous values.
	buf.PublishValues([]int16{1, 2, 3, 4, 5, 6, 7, 8})
	buf.DrainAll(nil)
	buf.PublishValues([]int16{9})
	_, out = buf.DrainAll(nil)
	assert.Equal(t, []int16{9, 2, 3, 4, 5, 6, 7, 8}, out)
}

func TestSampleBuffer_DrainAppendsToDst(t *testing.T) {
	buf, err := NewSampleBuffer(4, 1)
	require.NoError(t, err)
	buf.PublishValues([]int16{5})

	scratch := make([]int16, 0, 16)
	scratch = append(scratch, 42)
	n, out := buf.DrainAll(scratch)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int16{42, 5}, out)
}

// One producer and one consumer running flat out must hand over every frame
// that was not dropped, exactly once and in order.
func TestSampleBuffer_ConcurrentHandOff(t *testing.T) {
	const frames = 30000
	buf, err := NewSampleBuffer(64, 2)
	require.NoError(t, err)

	var done atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= frames; i++ {
			v := int16(i)
			buf.PublishValues([]int16{v, -v})
		}
		done.Store(true)
	}()

	received := 0
	last := int16(0)
	scratch := make([]int16, 0, 128)
	for {
		finished := done.Load()
		n, out := buf.DrainAll(scratch[:0])
		for i := 0; i < n; i++ {
			v := out[2*i]
			require.Equal(t, -v, out[2*i+1], "frame halves must belong together")
			require.Greater(t, v, last, "frames arrive in publish order")
			last = v
		}
		received += n
		if finished && n == 0 {
			break
		}
	}
	wg.Wait()

	stats := buf.Stats()
	assert.Equal(t, int64(frames), stats.Publishes()+stats.Drops())
	assert.Equal(t, stats.Publishes(), int64(received))
	assert.Equal(t, int64(received), stats.Drained())
	assert.LessOrEqual(t, stats.MaxDepth(), int64(64))
}

func TestSampleBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewSampleBuffer(2, 1, WithMetrics(registry, "ingest"))
	require.NoError(t, err)

	buf.PublishValues([]int16{1})
	buf.PublishValues([]int16{2})
	buf.PublishValues([]int16{3})

	assert.Equal(t, 2.0, testutil.ToFloat64(buf.metrics.publishes))
	assert.Equal(t, 1.0, testutil.ToFloat64(buf.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(buf.metrics.utilization))

	buf.DrainAll(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(buf.metrics.depth))

	_, err = NewSampleBuffer(2, 1, WithMetrics(registry, "ingest"))
	assert.Error(t, err, "same prefix is taken while the first buffer is open")

	buf.Close()
	replacement, err := NewSampleBuffer(2, 1, WithMetrics(registry, "ingest"))
	require.NoError(t, err)
	replacement.Close()
}

func TestStatistics_DropRate(t *testing.T) {
	s := NewStatistics()
	assert.Equal(t, 0.0, s.DropRate())

	s.publish(1)
	s.publish(2)
	s.publish(3)
	s.drop()
	assert.InDelta(t, 0.25, s.DropRate(), 1e-9)
	assert.Equal(t, int64(3), s.MaxDepth())
}

// A drain that lands while the producer fills its slot hides that slot, so
// the producer must write the frame again at the reset index.
func TestSampleBuffer_PublishRetriesAfterDrain(t *testing.T) {
	buf, err := NewSampleBuffer(4, 1)
	require.NoError(t, err)
	require.True(t, buf.PublishValues([]int16{1}))

	var drained []int16
	calls := 0
	ok := buf.Publish(nil, func(dst []int16, _ []byte) int {
		calls++
		if calls == 1 {
			_, drained = buf.DrainAll(nil)
		}
		dst[0] = 2
		return 1
	})
	require.True(t, ok)
	assert.Equal(t, 2, calls, "frame written twice")
	assert.Equal(t, []int16{1}, drained)
	assert.Equal(t, int64(1), buf.Stats().Retries())

	n, out := buf.DrainAll(nil)
	require.Equal(t, 1, n)
	assert.Equal(t, []int16{2}, out)
	assert.Equal(t, int64(2), buf.Stats().Drains())
}
