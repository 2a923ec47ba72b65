package reflector

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/island/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

var errSlowClient = errors.New("reflector: client send buffer full")

// Handler serves reflector connections over websocket.
type Handler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs a websocket handler for hub. A nil logger uses
// slog.Default().
func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &wsPeer{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	client := h.hub.Attach(p)
	go p.writeLoop()
	defer func() {
		client.Leave()
		p.close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("connection closed", "remote", r.RemoteAddr, "client", client.ID(), "error", err)
			}
			return
		}
		f, err := protocol.Decode(data)
		if err != nil {
			h.logger.Warn("discarding malformed frame", "remote", r.RemoteAddr, "error", err)
			continue
		}
		if err := client.Handle(f); err != nil {
			h.logger.Warn("frame rejected", "remote", r.RemoteAddr, "client", client.ID(), "action", string(f.Action), "error", err)
		}
	}
}

// wsPeer queues outbound frames for a single writer goroutine so the hub
// never blocks on a slow socket. A client that falls sendBuffer frames
// behind is disconnected and will re-sync.
type wsPeer struct {
	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

// Send implements Peer.
func (p *wsPeer) Send(f protocol.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return errors.New("reflector: connection closed")
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		p.close()
		return errSlowClient
	}
}

func (p *wsPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			if err := p.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				p.close()
				return
			}
		}
	}
}

func (p *wsPeer) close() {
	p.once.Do(func() {
		close(p.done)
		p.ws.Close()
	})
}
