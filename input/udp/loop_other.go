//go:build !linux

package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// poller is the portable socket loop. The runtime netpoller provides the
// readiness wait and closing the connection is the shutdown signal, since
// it wakes the blocked read.
type poller struct {
	conn *net.UDPConn
	port int

	mu      sync.Mutex
	closing bool
	closed  bool
}

func openPoller(cfg Config, warn func(msg string, args ...any)) (*poller, error) {
	addr, err := net.ResolveUDPAddr("udp4", cfg.address())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.address(), err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.address(), err)
	}

	if cfg.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(cfg.ReadBufferBytes); err != nil {
			warn("Could not set UDP receive buffer size", "buffer_size", cfg.ReadBufferBytes, "error", err)
		}
	}

	return &poller{
		conn: conn,
		port: conn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

func (p *poller) run(buf []byte, onPacket func([]byte), onError func(error)) error {
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || p.isClosing() {
				return nil
			}
			onError(receiveError("read", err))
			continue
		}
		if n > 0 {
			onPacket(buf[:n])
		}
	}
}

func (p *poller) isClosing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

func (p *poller) wakeup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		return nil
	}
	p.closing = true
	return p.conn.Close()
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.closing {
		return nil
	}
	p.closing = true
	return p.conn.Close()
}

func (p *poller) localPort() int {
	return p.port
}
