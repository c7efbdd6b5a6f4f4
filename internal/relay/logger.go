package relay

import (
	"fmt"
	"net"
)

// Logger - interface for logging relay events
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

// formatAddress - formats remote address of the connection for logging purposes.
func formatAddress(c net.Conn) string {
	if c == nil {
		return "<nil>"
	}
	a := c.RemoteAddr()
	if a == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%s %s", a.Network(), a.String())
}
