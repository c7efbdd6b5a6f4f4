package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jgor/rawd/internal/metrics"
	"github.com/jgor/rawd/pkg/background"
)

const (
	// DefaultBufferSize - read buffer capacity, one fragment at most.
	DefaultBufferSize = 255
	// DefaultOutboxSize - per-peer outbound queue capacity in fragments.
	DefaultOutboxSize = 64
)

// Relay - multi-party byte pipe over any net.Listener implementation.
type Relay struct {
	bufSize    int
	outboxSize int
	log        Logger

	scope   *background.Scope
	clients *registry
	frames  chan frame
}

// frame - one read's worth of bytes pending fan-out.
type frame struct {
	src  *peer
	data []byte
}

// New - builds Relay with needed options and starts its dispatcher.
func New(options ...relayOption) (*Relay, error) {
	r := &Relay{
		bufSize:    DefaultBufferSize,
		outboxSize: DefaultOutboxSize,
	}
	if err := setup(r, options...); err != nil {
		return nil, err
	}
	// the scope and its context exist only for a relay that launches
	r.scope = background.NewScope(context.Background())
	r.clients = newRegistry()
	r.frames = make(chan frame)
	r.scope.Go(r.dispatch)
	return r, nil
}

// NumClients - number of currently registered connections.
func (r *Relay) NumClients() int {
	return r.clients.len()
}

// Serve - accepts connections from the listener until shutdown or listener-level failure.
// Timeout-style accept errors are retried, anything else is returned as fatal.
func (r *Relay) Serve(listener net.Listener) error {
	if listener == nil {
		return errors.New("relay.Serve: listener is nil")
	}
	if r.scope.Err() != nil {
		return ErrUnderStopCondition
	}

	// close listener to break Accept on shutdown
	r.scope.Go(func(ctx context.Context) {
		<-ctx.Done()
		listener.Close()
	})

	for {
		conn, err := listener.Accept()
		if err != nil {
			if r.scope.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logError(r.log, "accept:", err)
			return fmt.Errorf("relay.Serve: accept: %w", err)
		}
		if err := r.keep(conn); err != nil {
			logError(r.log, "keep connection:", err)
		}
	}
}

// keep - registers new client connection and starts its IO handlers.
func (r *Relay) keep(conn net.Conn) error {
	if r.scope.Err() != nil {
		conn.Close()
		return ErrUnderStopCondition
	}

	ctx, cancel := context.WithCancel(r.scope.Context())
	p := &peer{
		conn:   conn,
		outbox: make(chan []byte, r.outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if !r.clients.add(conn, p) {
		cancel()
		return ErrConnKept
	}

	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()
	logInfo(r.log, "joined", formatAddress(conn))

	r.scope.Go(func(context.Context) { r.writePump(p) })
	r.scope.Go(func(context.Context) { r.readPump(p) })
	return nil
}

// readPump - reads fragments from the peer and hands them to the dispatcher.
// Orderly close deregisters the peer, a read failure does the same,
// neither affects any other connection.
func (r *Relay) readPump(p *peer) {
	buf := make([]byte, r.bufSize)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case r.frames <- frame{src: p, data: data}:
			case <-p.ctx.Done():
				return
			}
		}
		if err != nil {
			switch {
			case p.ctx.Err() != nil:
				// deregistered elsewhere
			case errors.Is(err, io.EOF):
				r.drop(p, metrics.ReasonClosed)
			default:
				logError(r.log, "read", formatAddress(p.conn), err)
				r.drop(p, metrics.ReasonReadError)
			}
			return
		}
	}
}

// writePump - drains peer outbox into the connection preserving fragment order.
func (r *Relay) writePump(p *peer) {
	for {
		select {
		case data := <-p.outbox:
			if _, err := p.conn.Write(data); err != nil {
				if p.ctx.Err() == nil {
					logError(r.log, "write", formatAddress(p.conn), err)
					r.drop(p, metrics.ReasonWriteError)
				}
				return
			}
			metrics.RelayedBytes.Add(float64(len(data)))
		case <-p.ctx.Done():
			return
		}
	}
}

// drop - deregisters the peer exactly once and releases its connection.
func (r *Relay) drop(p *peer, reason string) {
	p.gone.Do(func() {
		p.cancel()
		p.conn.Close()
		r.clients.delete(p.conn)
		metrics.ConnectionsActive.Dec()
		metrics.PeersDropped.WithLabelValues(reason).Inc()
		logInfo(r.log, "left", formatAddress(p.conn), "("+reason+")")
	})
}

// Shutdown - deregisters all peers, stops serving and waits IO handlers
// no longer than the specified timeout. Returns stopping duration.
func (r *Relay) Shutdown(timeout time.Duration) time.Duration {
	if r.scope.Err() != nil {
		return 0
	}
	from := time.Now()
	for _, p := range r.clients.snapshot() {
		r.drop(p, metrics.ReasonShutdown)
	}
	r.scope.Stop(timeout)
	return time.Since(from)
}
