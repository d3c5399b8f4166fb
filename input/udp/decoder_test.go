package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		payload []byte
		want    []int16
		n       int
	}{
		{
			name:    "two channels",
			width:   2,
			payload: []byte{0x64, 0x00, 0x9C, 0xFF},
			want:    []int16{100, -100},
			n:       2,
		},
		{
			name:    "short datagram leaves tail",
			width:   4,
			payload: []byte{0x01, 0x00},
			want:    []int16{1, 0, 0, 0},
			n:       1,
		},
		{
			name:    "oversized datagram truncated",
			width:   1,
			payload: []byte{0xFF, 0x7F, 0x00, 0x80},
			want:    []int16{32767},
			n:       1,
		},
		{
			name:    "odd trailing byte ignored",
			width:   2,
			payload: []byte{0x00, 0x80, 0x05},
			want:    []int16{-32768, 0},
			n:       1,
		},
		{
			name:    "empty payload",
			width:   2,
			payload: nil,
			want:    []int16{0, 0},
			n:       0,
		},
		{
			name:    "zero channels",
			width:   0,
			payload: []byte{0x01, 0x00},
			want:    []int16{},
			n:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]int16, tt.width)
			n := DecodeFrame(dst, tt.payload)
			assert.Equal(t, tt.n, n)
			assert.Equal(t, tt.want, dst)
		})
	}
}

func TestDecodeFrame_RoundTrip(t *testing.T) {
	values := []int16{100, -200, 300, -400}
	payload := EncodeFrame(nil, values)
	assert.Len(t, payload, 8)

	// A wider slot keeps its previous contents past the decoded channels.
	dst := []int16{9, 9, 9, 9, 7, 7, 7, 7}
	n := DecodeFrame(dst, payload)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int16{100, -200, 300, -400, 7, 7, 7, 7}, dst)
}

func TestDecodeFrame_DoesNotAllocate(t *testing.T) {
	dst := make([]int16, 64)
	payload := make([]byte, 128)
	allocs := testing.AllocsPerRun(100, func() {
		DecodeFrame(dst, payload)
	})
	assert.Zero(t, allocs)
}

func TestSineFrame(t *testing.T) {
	dst := make([]int16, 3)

	SineFrame(dst, 0, 1000)
	assert.Equal(t, int16(0), dst[0])
	assert.Equal(t, int16(841), dst[1]) // sin(1) * 1000
	assert.Equal(t, int16(909), dst[2]) // sin(2) * 1000

	SineFrame(dst, 0, 1e9)
	assert.Equal(t, int16(27572), dst[1], "amplitude is clamped to int16 range")
}
