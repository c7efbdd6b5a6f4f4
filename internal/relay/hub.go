package relay

import (
	"context"

	"github.com/jgor/rawd/internal/metrics"
)

// dispatch - the single fan-out loop. Consumes inbound fragments one by one,
// so two sequential reads from the same sender are always delivered
// in the same relative order to every receiver.
func (r *Relay) dispatch(ctx context.Context) {
	for {
		select {
		case fr := <-r.frames:
			r.broadcast(fr)
		case <-ctx.Done():
			return
		}
	}
}

// broadcast - queues the fragment to every registered peer except its source.
// A peer with no room in the outbox is treated as a failed destination
// and dropped, others keep receiving.
func (r *Relay) broadcast(fr frame) {
	metrics.RelayedFragments.Inc()
	for _, p := range r.clients.snapshot() {
		if p == fr.src {
			continue
		}
		select {
		case p.outbox <- fr.data:
		case <-p.ctx.Done():
			// peer is leaving, skip
		default:
			logError(r.log, "slow consumer", formatAddress(p.conn))
			r.drop(p, metrics.ReasonSlowConsumer)
		}
	}
}
