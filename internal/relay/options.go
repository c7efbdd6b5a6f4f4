package relay

import "fmt"

type relayOption func(r *Relay) error

func setup(r *Relay, options ...relayOption) error {
	if r == nil {
		return nil
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(r); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger - attach logger to the relay. Nil logger keeps relay silent.
func WithLogger(l Logger) relayOption {
	return func(r *Relay) error {
		r.log = l
		return nil
	}
}

// WithBufferSize - overwrites default capacity of the read buffer.
// A client payload larger than the buffer is relayed as several fragments.
func WithBufferSize(size int) relayOption {
	return func(r *Relay) error {
		if size <= 0 {
			return fmt.Errorf("relay.WithBufferSize: invalid size (%d)", size)
		}
		r.bufSize = size
		return nil
	}
}

// WithOutboxSize - overwrites default capacity of per-peer outbound queues.
// A peer with a full outbox at fan-out time is dropped as a slow consumer.
func WithOutboxSize(size int) relayOption {
	return func(r *Relay) error {
		if size <= 0 {
			return fmt.Errorf("relay.WithOutboxSize: invalid size (%d)", size)
		}
		r.outboxSize = size
		return nil
	}
}
