// Package relay implements a transparent multi-party TCP byte pipe:
// every fragment read from a client connection is forwarded verbatim
// to all other registered connections. The relay performs no framing,
// no parsing and no addressing.
//
// The engine runs a reader and a writer goroutine per connection and
// a single dispatching goroutine which owns fan-out. Membership of the
// connection set changes only through accept and drop, so a fragment
// is never fanned out to a half-removed peer.
package relay
