package relay

import "errors"

var (
	// ErrUnderStopCondition - returns in case if Relay is under stop condition
	// and will not serve listeners or accept new connections anymore.
	ErrUnderStopCondition = errors.New("relay.Relay: under stop condition")

	// ErrConnKept - returns in case if connection is registered already.
	ErrConnKept = errors.New("relay.Relay: connection is kept already")
)
