//go:build linux

package poll

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New(Config{Address: "127.0.0.1", Port: 0, BufferSize: 16}, nil)
	require.NoError(t, err)
	require.NotZero(t, l.Port())

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	t.Cleanup(func() {
		l.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop after shutdown")
		}
	})
	return l
}

func dialLoop(t *testing.T, l *Loop) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", l.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitRegistered(t *testing.T, l *Loop, expected int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.NumClients() == expected
	}, 2*time.Second, 5*time.Millisecond, "expected %d registered clients", expected)
}

func receive(t *testing.T, conn net.Conn, expected []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, len(expected))
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func expectSilence(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	n, err := conn.Read(make([]byte, 1))
	assert.Zero(t, n)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

// acceptNext - drives the accept path directly, without Run,
// and returns the newly registered descriptor.
func acceptNext(t *testing.T, l *Loop) int {
	t.Helper()
	before := make(map[int]struct{}, len(l.conns))
	for fd := range l.conns {
		before[fd] = struct{}{}
	}
	added := 0
	require.Eventually(t, func() bool {
		if err := l.acceptClient(); err != nil {
			return false
		}
		for fd := range l.conns {
			if _, ok := before[fd]; !ok {
				added = fd
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "pending connection was not accepted")
	return added
}

func TestLoop_SocketsNonblocking(t *testing.T) {
	l, err := New(Config{Address: "127.0.0.1"}, nil)
	require.NoError(t, err)
	defer l.closeAll()

	flags, err := unix.FcntlInt(uintptr(l.listenFD), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "listening socket must not block the loop")

	dialLoop(t, l)
	fd := acceptNext(t, l)

	flags, err = unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK, "accepted socket must not block the loop")
}

func TestLoop_WriteFailureDropsOnlyThatPeer(t *testing.T) {
	l, err := New(Config{Address: "127.0.0.1"}, nil)
	require.NoError(t, err)
	defer l.closeAll()

	src := dialLoop(t, l)
	srcFD := acceptNext(t, l)
	good := dialLoop(t, l)
	acceptNext(t, l)
	dialLoop(t, l)
	badFD := acceptNext(t, l)

	// writes to this destination fail from now on
	require.NoError(t, unix.Shutdown(badFD, unix.SHUT_WR))

	l.fanOut(srcFD, []byte("payload"))

	assert.Equal(t, 2, l.NumClients())
	_, kept := l.conns[badFD]
	assert.False(t, kept, "failed destination must be deregistered")

	// healthy peer keeps receiving, sender stays excluded
	receive(t, good, []byte("payload"))
	expectSilence(t, src)

	l.fanOut(srcFD, []byte("again"))
	receive(t, good, []byte("again"))
}

func TestLoop_Scenario(t *testing.T) {
	l := startLoop(t)

	c1 := dialLoop(t, l)
	c2 := dialLoop(t, l)
	c3 := dialLoop(t, l)
	waitRegistered(t, l, 3)

	_, err := c1.Write([]byte("hello"))
	require.NoError(t, err)
	receive(t, c2, []byte("hello"))
	receive(t, c3, []byte("hello"))
	expectSilence(t, c1)

	_, err = c2.Write([]byte("hi"))
	require.NoError(t, err)
	receive(t, c1, []byte("hi"))
	receive(t, c3, []byte("hi"))
	expectSilence(t, c2)

	require.NoError(t, c3.Close())
	waitRegistered(t, l, 2)

	_, err = c1.Write([]byte("ping"))
	require.NoError(t, err)
	receive(t, c2, []byte("ping"))
	expectSilence(t, c1)
}

func TestLoop_SingleClient(t *testing.T) {
	l := startLoop(t)

	lonely := dialLoop(t, l)
	waitRegistered(t, l, 1)

	_, err := lonely.Write([]byte("anybody?"))
	require.NoError(t, err)
	expectSilence(t, lonely)
	assert.Equal(t, 1, l.NumClients())
}

func TestLoop_FragmentedPayload(t *testing.T) {
	l := startLoop(t) // 16-byte buffer

	sender := dialLoop(t, l)
	receiver := dialLoop(t, l)
	waitRegistered(t, l, 2)

	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i % 241)
	}
	_, err := sender.Write(payload)
	require.NoError(t, err)

	receive(t, receiver, payload)
}

func TestLoop_ShutdownClosesClients(t *testing.T) {
	l, err := New(Config{Address: "127.0.0.1"}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", l.Port()))
	require.NoError(t, err)
	defer conn.Close()
	waitRegistered(t, l, 1)

	l.Shutdown()
	require.NoError(t, <-done)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err, "connection must be closed on loop shutdown")

	// late shutdown is a no-op, the released descriptors stay untouched
	l.Shutdown()
	assert.Zero(t, l.NumClients())
}

func TestNew_InvalidConfig(t *testing.T) {
	l, err := New(Config{Port: 70000}, nil)
	require.Error(t, err)
	assert.Nil(t, l)

	l, err = New(Config{Address: "not-an-address"}, nil)
	require.Error(t, err)
	assert.Nil(t, l)
}
