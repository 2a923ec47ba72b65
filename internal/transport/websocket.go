package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/island/internal/protocol"
)

const writeWait = 10 * time.Second

// WebSocket is a reflector client over gorilla/websocket. Run keeps a
// connection open, reconnecting with exponential backoff, and reports every
// connection to the sink.
type WebSocket struct {
	url    string
	sink   Sink
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// WebSocketOption configures a WebSocket.
type WebSocketOption func(*WebSocket)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(w *WebSocket) {
		w.dialer = d
	}
}

// WithHeader sets headers sent with the handshake.
func WithHeader(h http.Header) WebSocketOption {
	return func(w *WebSocket) {
		w.header = h
	}
}

// WithBackoff sets the reconnect delay bounds. Defaults: 250ms and 5s.
func WithBackoff(lo, hi time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		w.minBackoff, w.maxBackoff = lo, hi
	}
}

// WithWebSocketLogger sets the logger. Default: slog.Default().
func WithWebSocketLogger(l *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		w.logger = l
	}
}

// NewWebSocket creates a client for a reflector URL ("ws://host/ws").
func NewWebSocket(url string, sink Sink, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		url:        url,
		sink:       sink,
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default(),
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run connects and reconnects until ctx is cancelled.
func (w *WebSocket) Run(ctx context.Context) error {
	backoff := w.minBackoff
	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = w.minBackoff
		}
		w.logger.Warn("reflector connection lost", "url", w.url, "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, w.maxBackoff)
	}
}

// session runs one connection until it fails. connected reports whether the
// handshake succeeded.
func (w *WebSocket) session(ctx context.Context) (connected bool, err error) {
	ws, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", w.url, err)
	}

	conn := &wsConn{ws: ws}
	w.logger.Info("reflector connected", "url", w.url)
	w.sink.Connected(conn)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			conn.Close()
			w.sink.Disconnected(err)
			return true, err
		}
		f, err := protocol.Decode(data)
		if err != nil {
			w.logger.Warn("discarding malformed frame", "url", w.url, "error", err)
			continue
		}
		w.sink.Receive(f)
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer.
type wsConn struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// Send implements Conn.
func (c *wsConn) Send(f protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close implements Conn. It sends a close frame and closes the socket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
