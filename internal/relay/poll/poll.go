package poll

import (
	"errors"
	"fmt"
)

const (
	// DefaultBufferSize - read buffer capacity, one fragment at most.
	DefaultBufferSize = 255
	// DefaultBacklog - pending connection queue at the listening socket.
	DefaultBacklog = 10
)

// ErrUnsupported - returns from New on platforms without epoll support.
var ErrUnsupported = errors.New("poll: readiness loop is not supported on this platform")

// Config - settings of the readiness loop.
type Config struct {
	// Address - bind address, empty means wildcard.
	Address string
	// Port - TCP port to listen on, zero picks an ephemeral port.
	Port int
	// BufferSize - read buffer capacity in bytes.
	BufferSize int
	// Backlog - limit of not-yet-accepted incoming connections.
	Backlog int
}

func (c Config) withDefaults() Config {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Backlog == 0 {
		c.Backlog = DefaultBacklog
	}
	return c
}

func (c Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("poll.Config: invalid port (%d)", c.Port)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("poll.Config: invalid buffer size (%d)", c.BufferSize)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("poll.Config: invalid backlog (%d)", c.Backlog)
	}
	return nil
}

// Logger - interface for logging loop events
type Logger interface {
	Println(v ...interface{})
}

func logInfo(l Logger, v ...interface{}) {
	if l == nil {
		return
	}
	l.Println(v...)
}

func logError(l Logger, v ...interface{}) {
	if l == nil {
		return
	}
	l.Println(append([]interface{}{"ERR"}, v...)...)
}
