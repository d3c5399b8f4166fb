//go:build linux

package udp

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// poller owns the three descriptors of one socket loop instance: the
// non-blocking UDP socket, the eventfd used as shutdown signal and the epoll
// instance watching both.
type poller struct {
	sock int
	wake int
	epfd int
	port int

	mu     sync.Mutex
	closed bool
}

// openPoller creates, binds and registers everything the loop needs. On any
// failure the descriptors opened so far are closed again.
func openPoller(cfg Config, warn func(msg string, args ...any)) (_ *poller, err error) {
	p := &poller{sock: -1, wake: -1, epfd: -1}
	defer func() {
		if err != nil {
			_ = p.closeFDs()
		}
	}()

	ip := net.ParseIP(cfg.Bind).To4()
	if ip == nil {
		return nil, fmt.Errorf("bind address %q is not IPv4", cfg.Bind)
	}

	if p.sock, err = unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP); err != nil {
		return nil, fmt.Errorf("create socket: %w", err)
	}
	if err = unix.SetsockoptInt(p.sock, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if cfg.ReadBufferBytes > 0 {
		if rerr := unix.SetsockoptInt(p.sock, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReadBufferBytes); rerr != nil {
			warn("Could not set UDP receive buffer size", "buffer_size", cfg.ReadBufferBytes, "error", rerr)
		}
	}

	addr := &unix.SockaddrInet4{Port: cfg.Port}
	copy(addr.Addr[:], ip)
	if err = unix.Bind(p.sock, addr); err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.address(), err)
	}

	bound, err := unix.Getsockname(p.sock)
	if err != nil {
		return nil, fmt.Errorf("read bound address: %w", err)
	}
	if in4, ok := bound.(*unix.SockaddrInet4); ok {
		p.port = in4.Port
	}

	if p.wake, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK); err != nil {
		return nil, fmt.Errorf("create eventfd: %w", err)
	}
	if p.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create epoll instance: %w", err)
	}

	sockEv := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(p.sock)}
	if err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.sock, &sockEv); err != nil {
		return nil, fmt.Errorf("register socket with epoll: %w", err)
	}
	wakeEv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p.wake)}
	if err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.wake, &wakeEv); err != nil {
		return nil, fmt.Errorf("register eventfd with epoll: %w", err)
	}

	return p, nil
}

// run blocks in epoll_wait until the shutdown signal fires. Every socket
// readiness event drains the socket until it would block. A failing
// epoll_wait ends the loop and is returned.
func (p *poller) run(buf []byte, onPacket func([]byte), onError func(error)) error {
	var events [2]unix.EpollEvent

	for {
		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return receiveError("epoll_wait", err)
		}

		readable := false
		for i := range n {
			switch int(events[i].Fd) {
			case p.wake:
				return nil
			case p.sock:
				readable = true
			}
		}
		if readable {
			p.drain(buf, onPacket, onError)
		}
	}
}

func (p *poller) drain(buf []byte, onPacket func([]byte), onError func(error)) {
	for {
		n, _, err := unix.Recvfrom(p.sock, buf, 0)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return
		case err != nil:
			onError(receiveError("recvfrom", err))
			return
		case n == 0:
			return
		}
		onPacket(buf[:n])
	}
}

// wakeup fires the shutdown signal. It is safe from any goroutine and a no-op
// once the descriptors are closed.
func (p *poller) wakeup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wake, one[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("write eventfd: %w", err)
	}
	return nil
}

// close releases the epoll instance, the eventfd and the socket, in that
// order.
func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.closeFDs()
}

func (p *poller) closeFDs() error {
	var first error
	for _, fd := range []*int{&p.epfd, &p.wake, &p.sock} {
		if *fd < 0 {
			continue
		}
		if err := unix.Close(*fd); err != nil && first == nil {
			first = err
		}
		*fd = -1
	}
	return first
}

func (p *poller) localPort() int {
	return p.port
}
