package relay

import (
	"context"
	"net"
	"sync"
)

// peer - registered client connection with its outbound queue.
type peer struct {
	conn   net.Conn
	outbox chan []byte

	// ctx - cancelled exactly once when peer is deregistered,
	// helps reader and writer to release the connection.
	ctx    context.Context
	cancel context.CancelFunc
	gone   sync.Once
}

// registry - keeper of currently registered peers.
type registry struct {
	mu   sync.RWMutex
	list map[net.Conn]*peer
}

func newRegistry() *registry {
	return &registry{
		list: make(map[net.Conn]*peer),
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

func (r *registry) add(conn net.Conn, p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.list[conn]; ok {
		return false
	}
	r.list[conn] = p
	return true
}

func (r *registry) delete(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.list, conn)
}

// snapshot - copies current membership to iterate over without holding the lock.
func (r *registry) snapshot() []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*peer, 0, len(r.list))
	for _, p := range r.list {
		peers = append(peers, p)
	}
	return peers
}
