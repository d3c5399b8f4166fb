// Package udp ingests multi-channel telemetry frames from a UDP socket.
//
// A Session binds one socket and runs a socket loop in its own goroutine. On
// Linux the loop blocks in epoll_wait on the non-blocking socket (edge
// triggered) and on an eventfd that serves as the shutdown signal; every wake
// drains the socket until it would block. Elsewhere the runtime netpoller
// takes that role and closing the connection is the shutdown signal.
//
// Each datagram is a flat array of little-endian int16 values, one per
// channel, with no header. Frames are decoded straight into a
// buffer.SampleBuffer slot; when the buffer is full the frame is dropped,
// counted, and logged at a bounded rate.
//
// The consumer polls:
//
//	if session.Ready() {
//		batch := session.Drain()
//		// batch.Values holds batch.Count frames scaled by the session scale
//	}
//
// Drain also feeds a RateEstimator, so CurrentRate reflects the packets per
// second seen by the consumer.
//
// Exactly one goroutine may drain a session at a time. Lifecycle calls can
// come from anywhere.
package udp
