//go:build linux

package poll

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/jgor/rawd/internal/metrics"
)

// Loop - single-goroutine epoll relay over raw socket descriptors.
type Loop struct {
	cfg Config
	log Logger

	epfd     int
	listenFD int
	// wakeFD - eventfd registered in the epoll set, written by Shutdown
	// to break the otherwise unbounded readiness wait.
	wakeFD int

	port    int
	conns   map[int]struct{}
	clients atomic.Int64
	buf     []byte

	// stopMu guards stopped: after closeAll released the descriptors
	// their numbers may be reused, so Shutdown must not touch wakeFD.
	stopMu  sync.Mutex
	stopped bool
}

// New - binds the listening socket, prepares the epoll set and returns
// the loop ready to Run.
func New(cfg Config, log Logger) (*Loop, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	listenFD, port, err := bindAndListen(cfg)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(listenFD)
		return nil, fmt.Errorf("poll.New: epoll create: %w", err)
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		unix.Close(listenFD)
		return nil, fmt.Errorf("poll.New: eventfd: %w", err)
	}

	for _, fd := range []int{listenFD, wakeFD} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			unix.Close(wakeFD)
			unix.Close(epfd)
			unix.Close(listenFD)
			return nil, fmt.Errorf("poll.New: epoll ctl add: %w", err)
		}
	}

	return &Loop{
		cfg:      cfg,
		log:      log,
		epfd:     epfd,
		listenFD: listenFD,
		wakeFD:   wakeFD,
		port:     port,
		conns:    make(map[int]struct{}),
		buf:      make([]byte, cfg.BufferSize),
	}, nil
}

// Port - actual port the loop is listening on.
func (l *Loop) Port() int {
	return l.port
}

// NumClients - number of currently registered connections.
func (l *Loop) NumClients() int {
	return int(l.clients.Load())
}

// Run - serves the relay until Shutdown or an infrastructure failure.
// Per-connection read and write errors drop the affected connection only,
// failures of the epoll set or the listening socket are returned as fatal.
func (l *Loop) Run() error {
	defer l.closeAll()

	events := make([]unix.EpollEvent, 64)
	ready := make([]int, 0, 64)
	for {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll.Run: epoll wait: %w", err)
		}

		// service all ready descriptors of this pass in ascending order
		ready = ready[:0]
		for i := 0; i < n; i++ {
			ready = append(ready, int(events[i].Fd))
		}
		slices.Sort(ready)

		for _, fd := range ready {
			switch fd {
			case l.wakeFD:
				return nil
			case l.listenFD:
				if err := l.acceptClient(); err != nil {
					return err
				}
			default:
				l.serviceClient(fd)
			}
		}
	}
}

// acceptClient - accepts one pending connection and registers it.
// The listening socket is non-blocking, so a connection reset by the peer
// between readiness and accept surfaces as EAGAIN instead of stalling the loop.
func (l *Loop) acceptClient() error {
	for {
		fd, sa, err := unix.Accept4(l.listenFD, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil
		default:
			return fmt.Errorf("poll: accept: %w", err)
		}

		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			unix.Close(fd)
			return fmt.Errorf("poll: epoll ctl add: %w", err)
		}
		l.conns[fd] = struct{}{}
		l.clients.Add(1)
		metrics.ConnectionsAccepted.Inc()
		metrics.ConnectionsActive.Inc()
		logInfo(l.log, "joined", formatSockaddr(sa))
		return nil
	}
}

// serviceClient - reads one fragment from the ready descriptor and fans it out.
func (l *Loop) serviceClient(fd int) {
	if _, ok := l.conns[fd]; !ok {
		// dropped earlier in the same pass
		return
	}
	n, err := unix.Read(fd, l.buf)
	switch {
	case err != nil:
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return
		}
		logError(l.log, "read fd", fd, err)
		l.dropClient(fd, metrics.ReasonReadError)
	case n == 0:
		// orderly close by peer
		l.dropClient(fd, metrics.ReasonClosed)
	default:
		l.fanOut(fd, l.buf[:n])
	}
}

// fanOut - writes the fragment to every registered descriptor except
// the source, in ascending order. A failed destination is dropped,
// the rest keep receiving.
func (l *Loop) fanOut(src int, data []byte) {
	metrics.RelayedFragments.Inc()
	targets := make([]int, 0, len(l.conns))
	for fd := range l.conns {
		if fd != src {
			targets = append(targets, fd)
		}
	}
	slices.Sort(targets)

	for _, fd := range targets {
		if err := writeFull(fd, data); err != nil {
			logError(l.log, "write fd", fd, err)
			l.dropClient(fd, metrics.ReasonWriteError)
			continue
		}
		metrics.RelayedBytes.Add(float64(len(data)))
	}
}

// dropClient - deregisters and closes the descriptor.
func (l *Loop) dropClient(fd int, reason string) {
	if _, ok := l.conns[fd]; !ok {
		return
	}
	unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	delete(l.conns, fd)
	l.clients.Add(-1)
	metrics.ConnectionsActive.Dec()
	metrics.PeersDropped.WithLabelValues(reason).Inc()
	logInfo(l.log, "left fd", fd, "("+reason+")")
}

// Shutdown - wakes the loop up, Run returns after releasing all sockets.
// Safe to call from any goroutine and more than once, including after Run returned.
func (l *Loop) Shutdown() {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	if l.stopped {
		return
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	unix.Write(l.wakeFD, one[:])
}

func (l *Loop) closeAll() {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	for fd := range l.conns {
		unix.Close(fd)
		l.clients.Add(-1)
		metrics.ConnectionsActive.Dec()
		metrics.PeersDropped.WithLabelValues(metrics.ReasonShutdown).Inc()
	}
	l.conns = make(map[int]struct{})
	unix.Close(l.listenFD)
	unix.Close(l.epfd)
	unix.Close(l.wakeFD)
}

// writeFull - writes the whole fragment, retrying interrupted and short writes.
// There is no outbound queue: when the destination socket buffer is full
// the loop waits for writability, matching blocking-write delivery semantics.
func writeFull(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := waitWritable(fd); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}
		data = data[n:]
	}
	return nil
}

func waitWritable(fd int) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if _, err := unix.Poll(pfd, -1); !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// bindAndListen - walks address family candidates the way getaddrinfo would:
// dual-stack IPv6 wildcard first, IPv4 as fallback, SO_REUSEADDR on both.
func bindAndListen(cfg Config) (fd, port int, err error) {
	var ip net.IP
	if cfg.Address != "" {
		ip = net.ParseIP(cfg.Address)
		if ip == nil {
			return 0, 0, fmt.Errorf("poll: unresolvable bind address %q", cfg.Address)
		}
	}

	var firstErr error
	if ip == nil || ip.To4() == nil {
		sa := &unix.SockaddrInet6{Port: cfg.Port}
		if ip != nil {
			copy(sa.Addr[:], ip.To16())
		}
		fd, err := listenSocket(unix.AF_INET6, sa, cfg.Backlog)
		if err == nil {
			return fd, boundPort(fd), nil
		}
		firstErr = err
	}
	if ip == nil || ip.To4() != nil {
		sa := &unix.SockaddrInet4{Port: cfg.Port}
		if ip != nil {
			copy(sa.Addr[:], ip.To4())
		}
		fd, err := listenSocket(unix.AF_INET, sa, cfg.Backlog)
		if err == nil {
			return fd, boundPort(fd), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return 0, 0, fmt.Errorf("poll: no bindable address: %w", firstErr)
}

func listenSocket(family int, sa unix.Sockaddr, backlog int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if family == unix.AF_INET6 {
		// accept IPv4 peers on the same socket
		unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

func boundPort(fd int) int {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	}
	return 0
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("tcp %s:%d", net.IP(a.Addr[:]), a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("tcp [%s]:%d", net.IP(a.Addr[:]), a.Port)
	}
	return "tcp <unknown>"
}
