// Package buffer provides SampleBuffer, the bounded single-producer /
// single-consumer staging area between a socket loop and the code that drains
// decoded frames.
//
// The buffer is a flat array of capacity slots, each width int16 values wide,
// and one atomic count. The producer writes a slot and then publishes it by
// advancing the count; the consumer copies every published slot and then
// resets the count to zero. Both transitions are compare-and-swap so a reset
// that races a publish is detected by whichever side loses, and that side
// redoes its step against the new count. No lock is taken on either path.
//
// Exactly one goroutine may call Publish and exactly one may call DrainAll.
// Adding a second producer requires a different structure (a mutex guarded
// double buffer or a multi-producer queue).
//
// Overflow never blocks and never overwrites: when all slots are filled the
// frame is dropped and counted.
//
// Slots are zeroed when the buffer is allocated and then only overwritten
// value by value, so a short frame leaves the tail of its slot holding
// whatever the slot held before.
//
//	buf, err := buffer.NewSampleBuffer(1024, 2,
//		buffer.WithMetrics(registry, "ingest"),
//	)
//	buf.Publish(payload, decode) // decode(slot, payload) fills one slot
//	n, flat := buf.DrainAll(scratch[:0])
package buffer
