package relay

import "errors"

var (
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrOutboxFull      = errors.New("endpoint outbox full")
	ErrEndpointClosed  = errors.New("endpoint closed")
)
