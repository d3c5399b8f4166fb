// Package testutil holds helpers shared by tests that exercise real sockets.
package testutil

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// FreeUDPPort returns a UDP port on 127.0.0.1 that was free a moment ago.
func FreeUDPPort(t testing.TB) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

// PortFree reports whether port can be bound on 127.0.0.1 right now.
func PortFree(port int) bool {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Sender writes telemetry datagrams to one local port.
type Sender struct {
	t    testing.TB
	conn *net.UDPConn
}

// NewSender dials 127.0.0.1:port and closes the socket when the test ends.
func NewSender(t testing.TB, port int) *Sender {
	t.Helper()

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &Sender{t: t, conn: conn}
}

// SendRaw writes payload as one datagram.
func (s *Sender) SendRaw(payload []byte) {
	s.t.Helper()
	_, err := s.conn.Write(payload)
	require.NoError(s.t, err)
}

// Send writes values as one little-endian int16 frame.
func (s *Sender) Send(values ...int16) {
	s.t.Helper()
	payload := make([]byte, 0, 2*len(values))
	for _, v := range values {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(v))
	}
	s.SendRaw(payload)
}
