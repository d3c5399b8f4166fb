package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/c360/udptelemetry/errors"
)

// DecodeFunc fills dst from payload and returns how many values it wrote.
type DecodeFunc func(dst []int16, payload []byte) int

// SampleBuffer is a bounded single-producer / single-consumer frame store.
// See the package documentation for the hand-off protocol.
type SampleBuffer struct {
	capacity int
	width    int
	slots    []int16
	count    atomic.Int64

	stats   *Statistics
	metrics *bufferMetrics
	onDrop  DropCallback
}

// NewSampleBuffer allocates capacity zeroed slots of width values each.
func NewSampleBuffer(capacity, width int, options ...Option) (*SampleBuffer, error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("capacity must be positive, got %d", capacity),
			"SampleBuffer", "New", "validate capacity")
	}
	if width < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("width must not be negative, got %d", width),
			"SampleBuffer", "New", "validate width")
	}

	opts := applyOptions(options...)
	b := &SampleBuffer{
		capacity: capacity,
		width:    width,
		slots:    make([]int16, capacity*width),
		stats:    NewStatistics(),
		onDrop:   opts.dropCallback,
	}

	if opts.metricsReg != nil {
		m, err := newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, err
		}
		b.metrics = m
	}

	return b, nil
}

func (b *SampleBuffer) slot(idx int64) []int16 {
	start := int(idx) * b.width
	return b.slots[start : start+b.width : start+b.width]
}

// Publish decodes payload into the next free slot and makes it visible to
// the consumer. It returns false, counting a drop, when every slot is full.
// Producer goroutine only.
func (b *SampleBuffer) Publish(payload []byte, decode DecodeFunc) bool {
	idx := b.count.Load()
	if idx >= int64(b.capacity) {
		b.dropped()
		return false
	}

	for {
		decode(b.slot(idx), payload)
		if b.count.CompareAndSwap(idx, idx+1) {
			break
		}
		// The consumer reset the count after our load; the slot we wrote
		// was never visible, so write the frame again at the new index.
		b.stats.retry()
		idx = b.count.Load()
	}

	b.published(idx + 1)
	return true
}

// PublishValues copies values into the next free slot. Values past the slot
// width are ignored. Producer goroutine only.
func (b *SampleBuffer) PublishValues(values []int16) bool {
	return b.Publish(nil, func(dst []int16, _ []byte) int {
		return copy(dst, values)
	})
}

func (b *SampleBuffer) dropped() {
	total := b.stats.drop()
	if b.metrics != nil {
		b.metrics.drops.Inc()
	}
	if b.onDrop != nil {
		b.onDrop(total)
	}
}

func (b *SampleBuffer) published(depth int64) {
	b.stats.publish(depth)
	if b.metrics != nil {
		b.metrics.publishes.Inc()
		b.metrics.setDepth(int(depth), b.capacity)
	}
}

// DrainAll appends every published slot to dst, resets the queue to empty
// and returns the number of frames drained with the extended slice. The
// result holds count*Width() values, frame after frame. It never blocks.
// Consumer goroutine only.
func (b *SampleBuffer) DrainAll(dst []int16) (int, []int16) {
	var copied int64
	n := b.count.Load()

	for {
		dst = append(dst, b.slots[int(copied)*b.width:int(n)*b.width]...)
		copied = n
		if b.count.CompareAndSwap(n, 0) {
			break
		}
		// The producer published more frames between the load and the
		// reset. Take those too before trying again.
		b.stats.retry()
		n = b.count.Load()
	}

	b.stats.drain(int(copied))
	if b.metrics != nil {
		b.metrics.drains.Inc()
		b.metrics.setDepth(0, b.capacity)
	}
	return int(copied), dst
}

// Len returns the number of frames waiting to be drained.
func (b *SampleBuffer) Len() int {
	return int(b.count.Load())
}

// Capacity returns the number of slots.
func (b *SampleBuffer) Capacity() int {
	return b.capacity
}

// Width returns the number of values per slot.
func (b *SampleBuffer) Width() int {
	return b.width
}

// Stats returns the live statistics of the buffer.
func (b *SampleBuffer) Stats() *Statistics {
	return b.stats
}

// Close releases the Prometheus metrics of the buffer so a replacement can
// register under the same prefix. Call it only once neither side uses the
// buffer any more.
func (b *SampleBuffer) Close() {
	if b.metrics != nil {
		b.metrics.unregister()
		b.metrics = nil
	}
}
