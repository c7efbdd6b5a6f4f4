//go:build !linux

package poll

// Loop - placeholder on platforms without epoll support.
type Loop struct{}

// New - always fails with ErrUnsupported, use the portable relay engine instead.
func New(Config, Logger) (*Loop, error) {
	return nil, ErrUnsupported
}

func (l *Loop) Run() error { return ErrUnsupported }

func (l *Loop) Shutdown() {}

func (l *Loop) Port() int { return 0 }

func (l *Loop) NumClients() int { return 0 }
