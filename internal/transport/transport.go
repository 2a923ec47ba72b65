// Package transport connects a controller to a reflector.
//
// A transport owns the connection lifecycle and reports it to a Sink; the
// sink never blocks the transport. Two implementations exist: a websocket
// client with automatic reconnect, and an in-process link to a reflector hub
// used by tests and the scenario harness.
package transport

import (
	"errors"

	"github.com/roach88/island/internal/protocol"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is the outbound half of a reflector connection.
type Conn interface {
	Send(f protocol.Frame) error
	Close() error
}

// Sink receives connection events. Implementations must not block; the
// controller enqueues them for its Run loop.
type Sink interface {
	Connected(conn Conn)
	Receive(f protocol.Frame)
	Disconnected(err error)
}
