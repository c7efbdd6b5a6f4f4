// Package poll implements the relay as a single-goroutine readiness loop:
// one epoll set holds the listening socket and every client socket, the
// loop blocks on readiness with no timeout and services all ready
// descriptors in ascending order before blocking again. Reads and writes
// never overlap, so no locking is needed around the connection set.
//
// The loop is available on linux only; on other platforms New returns
// ErrUnsupported and the portable relay engine should be used instead.
package poll
