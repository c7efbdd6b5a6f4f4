// Package metrics defines prometheus collectors of the relay runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsAccepted counts client connections accepted since start.
	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rawd_connections_accepted_total",
			Help: "Client connections accepted since start",
		},
	)

	// ConnectionsActive tracks currently registered client connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rawd_connections_active",
			Help: "Currently registered client connections",
		},
	)

	// RelayedBytes counts payload bytes fanned out to peers.
	RelayedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rawd_relayed_bytes_total",
			Help: "Payload bytes delivered to peers",
		},
	)

	// RelayedFragments counts read-and-broadcast dispatches.
	RelayedFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rawd_relayed_fragments_total",
			Help: "Inbound fragments fanned out to peers",
		},
	)

	// PeersDropped counts deregistered connections by reason.
	PeersDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rawd_peers_dropped_total",
			Help: "Connections deregistered by reason",
		},
		[]string{"reason"},
	)
)

// Deregistration reasons reported through PeersDropped.
const (
	ReasonClosed       = "closed"
	ReasonReadError    = "read_error"
	ReasonWriteError   = "write_error"
	ReasonSlowConsumer = "slow_consumer"
	ReasonShutdown     = "shutdown"
)
