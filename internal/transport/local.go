package transport

import (
	"errors"
	"sync"

	"github.com/roach88/island/internal/protocol"
	"github.com/roach88/island/internal/reflector"
)

// ErrDisconnected is reported to the sink by Local.Disconnect(nil).
var ErrDisconnected = errors.New("transport: disconnected")

// Local links a sink to an in-process reflector hub. Frames are delivered
// synchronously in both directions; the sink's own queue provides the
// asynchrony.
//
// Used by tests and the scenario harness, which also use Disconnect and
// Connect to simulate network loss.
type Local struct {
	hub  *reflector.Hub
	sink Sink

	mu   sync.Mutex
	conn *localConn
}

// NewLocal creates an unconnected link.
func NewLocal(hub *reflector.Hub, sink Sink) *Local {
	return &Local{hub: hub, sink: sink}
}

// Connect opens a new connection, replacing any current one.
func (l *Local) Connect() {
	l.Disconnect(nil)

	c := &localConn{sink: l.sink}
	c.client = l.hub.Attach(hubSide{c})

	l.mu.Lock()
	l.conn = c
	l.mu.Unlock()
	l.sink.Connected(c)
}

// Disconnect drops the current connection, if any, and reports err (or
// ErrDisconnected) to the sink.
func (l *Local) Disconnect(err error) {
	l.mu.Lock()
	c := l.conn
	l.conn = nil
	l.mu.Unlock()
	if c == nil {
		return
	}
	if err == nil {
		err = ErrDisconnected
	}
	c.Close()
	l.sink.Disconnected(err)
}

// Connected reports whether a connection is open.
func (l *Local) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// localConn is the client side of an in-process connection.
type localConn struct {
	sink   Sink
	client *reflector.Client

	mu     sync.Mutex
	closed bool
}

// Send implements Conn: client to reflector.
func (c *localConn) Send(f protocol.Frame) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.client.Handle(f)
}

// hubSide is the reflector.Peer of a localConn: reflector to client.
type hubSide struct {
	c *localConn
}

func (p hubSide) Send(f protocol.Frame) error {
	if p.c.isClosed() {
		return ErrClosed
	}
	p.c.sink.Receive(f)
	return nil
}

// Close implements Conn.
func (c *localConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.client.Leave()
	return nil
}

func (c *localConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
