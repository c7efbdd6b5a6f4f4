package relay

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := newRegistry()
	assert.Zero(t, r.len())

	_, conn1 := net.Pipe()
	_, conn2 := net.Pipe()
	p1, p2 := &peer{conn: conn1}, &peer{conn: conn2}

	require.True(t, r.add(conn1, p1))
	require.False(t, r.add(conn1, p1), "duplicate add must be rejected")
	require.True(t, r.add(conn2, p2))
	assert.Equal(t, 2, r.len())

	peers := r.snapshot()
	assert.Len(t, peers, 2)
	assert.ElementsMatch(t, []*peer{p1, p2}, peers)

	r.delete(conn1)
	assert.Equal(t, 1, r.len())
	r.delete(conn1) // idempotent
	assert.Equal(t, 1, r.len())

	r.delete(conn2)
	assert.Zero(t, r.len())
	assert.Empty(t, r.snapshot())
}
