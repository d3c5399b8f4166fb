package udp

import (
	"encoding/binary"
	"math"
)

// DecodeFrame decodes the little-endian int16 values of payload into dst and
// returns how many it wrote: min(len(dst), len(payload)/2). Values of dst past
// that count are left untouched, bytes past it are ignored. It never fails.
func DecodeFrame(dst []int16, payload []byte) int {
	n := min(len(dst), len(payload)/2)
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return n
}

// EncodeFrame appends the wire form of values to dst.
func EncodeFrame(dst []byte, values []int16) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

// SineFrame fills dst with one frame of the synthetic test signal: channel c
// of frame carries amplitude*sin(frame*0.01 + c).
func SineFrame(dst []int16, frame uint64, amplitude float64) {
	amplitude = math.Max(0, math.Min(amplitude, math.MaxInt16))
	phase := float64(frame) * 0.01
	for c := range dst {
		dst[c] = int16(math.Round(amplitude * math.Sin(phase+float64(c))))
	}
}
