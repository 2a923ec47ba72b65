// Package reflector is a reference reflector: it assigns the total order of
// a session's messages, drives virtual time with TICKs, and brokers
// snapshots between clients.
//
// A reflector never runs model code. It only stamps, broadcasts and
// persists.
package reflector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/island/internal/protocol"
	"github.com/roach88/island/internal/store"
)

// Peer is the outbound half of a client connection. Send must not block.
type Peer interface {
	Send(f protocol.Frame) error
}

// Store persists the message log and checkpoints. *store.Store
// implements it.
type Store interface {
	EnsureSession(ctx context.Context, id string, createdAt int64) error
	WriteMessage(ctx context.Context, m store.Message) error
	WriteSnapshot(ctx context.Context, s store.Snapshot) error
	LatestSnapshot(ctx context.Context, sessionID string) (store.Snapshot, bool, error)
	ReadMessagesAfter(ctx context.Context, sessionID string, after uint64) ([]store.Message, error)
}

// Hub is the reflector state shared by every connection.
//
// Thread-safety: all methods are safe for concurrent use. Frames from one
// connection must be handled in arrival order (one reader goroutine per
// connection).
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	nextConn uint64

	clock         Clock
	store         Store
	ids           IDGenerator
	logger        *slog.Logger
	snapshotEvery int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClock sets the wall clock. Default: time.Now.
func WithClock(c Clock) HubOption {
	return func(h *Hub) {
		h.clock = c
	}
}

// WithStore persists messages and checkpoints, and restores sessions the
// hub does not hold in memory.
func WithStore(s Store) HubOption {
	return func(h *Hub) {
		h.store = s
	}
}

// WithIDGenerator sets the generator for client ids. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) HubOption {
	return func(h *Hub) {
		h.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithSnapshotInterval sets how much session time passes between
// checkpoint requests. Zero disables checkpoints.
func WithSnapshotInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		h.snapshotEvery = d.Milliseconds()
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sessions:      make(map[string]*session),
		clock:         systemClock{},
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		snapshotEvery: (10 * time.Second).Milliseconds(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Client is one connection attached to a hub.
type Client struct {
	hub  *Hub
	peer Peer
	conn uint64

	// Guarded by hub.mu.
	id   string
	sess *session
	live bool
	gone bool
}

// Attach registers a connection. Frames it sends go to Client.Handle.
func (h *Hub) Attach(p Peer) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextConn++
	return &Client{hub: h, peer: p, conn: h.nextConn}
}

// ID returns the client id assigned at JOIN, or "" before.
func (c *Client) ID() string {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.id
}

// Handle processes one frame from the client.
func (c *Client) Handle(f protocol.Frame) error {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.gone {
		return errors.New("reflector: client has left")
	}
	if f.Action == protocol.ActionJoin {
		return h.join(c, f)
	}
	if c.sess == nil {
		return fmt.Errorf("%s before JOIN", f.Action)
	}
	if f.ID != c.sess.id {
		return fmt.Errorf("%s for session %q, client joined %q", f.Action, f.ID, c.sess.id)
	}

	switch f.Action {
	case protocol.ActionSend:
		var args protocol.SendArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		h.reflect(c.sess, args.Msg)
		return nil
	case protocol.ActionSync:
		var args protocol.SyncArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		return h.forwardSync(c, args)
	case protocol.ActionSnap:
		var args protocol.SnapArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		h.checkpoint(c.sess, args)
		return nil
	default:
		return fmt.Errorf("unexpected %s from client", f.Action)
	}
}

// Leave detaches the client. Safe to call more than once.
func (c *Client) Leave() {
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.gone {
		return
	}
	c.gone = true
	s := c.sess
	if s == nil {
		return
	}
	s.remove(c)
	delete(s.waiting, c.id)
	h.logger.Info("client left", "session", s.id, "client", c.id, "conn", c.conn, "remaining", len(s.clients))

	// Joiners this client was serving need another source.
	for joiner, server := range s.waiting {
		if server != c.id {
			continue
		}
		if jc := s.client(joiner); jc != nil {
			delete(s.waiting, joiner)
			h.admit(s, jc, s.time)
		}
	}
	if s.liveCount() == 0 {
		s.pause(h.clock)
		h.logger.Info("session paused", "session", s.id, "time", s.time, "seq", s.seq)
	}
}

func (c *Client) send(action protocol.Action, args any) {
	f, err := protocol.NewFrame(c.sess.id, action, args)
	if err == nil {
		err = c.peer.Send(f)
	}
	if err != nil {
		c.hub.logger.Warn("send failed", "session", c.sess.id, "client", c.id, "action", string(action), "error", err)
	}
}

func (h *Hub) join(c *Client, f protocol.Frame) error {
	if c.sess != nil {
		return fmt.Errorf("client already joined session %q", c.sess.id)
	}
	if f.ID == "" {
		return errors.New("JOIN without session id")
	}
	var args protocol.JoinArgs
	if len(f.Args) > 0 {
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
	}
	if args.Client == "" {
		args.Client = h.ids.Generate()
	}

	s := h.session(f.ID)
	if prev := s.client(args.Client); prev != nil {
		// A reconnect racing the old connection's close.
		prev.gone = true
		s.remove(prev)
		delete(s.waiting, prev.id)
	}
	c.id = args.Client
	c.sess = s
	s.clients = append(s.clients, c)
	h.logger.Info("client joined", "session", s.id, "client", c.id, "conn", c.conn, "time", args.Time)

	h.admit(s, c, args.Time)
	return nil
}

// admit brings a joined client up to date: a snapshot from a live client,
// else the latest checkpoint, else a (re)start of the session.
func (h *Hub) admit(s *session, c *Client, joinTime int64) {
	if server := s.server(c); server != nil {
		s.waiting[c.id] = server.id
		server.send(protocol.ActionServe, protocol.ServeArgs{Reply: protocol.ActionSync, To: c.id})
		return
	}
	if s.snap != nil {
		if backlog, ok := s.backlog(s.snap.Seq); ok {
			s.resume(h.clock, s.snap.Time)
			c.live = true
			c.send(protocol.ActionSync, protocol.SyncArgs{
				To:       c.id,
				Snapshot: s.snap.Snapshot,
				Anchor:   protocol.Anchor{Time: s.snap.Time, Seq: s.snap.Seq},
				Backlog:  backlog,
			})
			return
		}
	}

	s.resume(h.clock, joinTime)
	s.log = nil
	s.snap = nil
	s.lastSnapReq = s.time
	c.live = true
	h.logger.Info("session started", "session", s.id, "client", c.id, "time", s.time, "seq", s.seq)
	c.send(protocol.ActionStart, protocol.StartArgs{Time: s.time, Seq: s.seq})
}

func (h *Hub) forwardSync(from *Client, args protocol.SyncArgs) error {
	s := from.sess
	joiner := s.client(args.To)
	if joiner == nil || s.waiting[args.To] != from.id {
		h.logger.Debug("dropping unrequested SYNC", "session", s.id, "from", from.id, "to", args.To)
		return nil
	}
	delete(s.waiting, args.To)

	backlog, ok := s.backlog(args.Anchor.Seq)
	if !ok {
		h.logger.Warn("snapshot older than log, trying another source", "session", s.id, "to", args.To, "anchor_seq", args.Anchor.Seq)
		h.admit(s, joiner, s.time)
		return nil
	}
	args.Backlog = backlog
	joiner.live = true
	joiner.send(protocol.ActionSync, args)
	return nil
}

// reflect stamps a message and broadcasts it to every client of s.
func (h *Hub) reflect(s *session, msg string) {
	s.seq++
	r := protocol.RecvArgs{Time: s.now(h.clock), Seq: s.seq, Msg: msg}
	s.log = append(s.log, r)
	for _, c := range s.clients {
		c.send(protocol.ActionRecv, r)
	}
	h.persist("write message", func(ctx context.Context, st Store) error {
		return st.WriteMessage(ctx, store.Message{SessionID: s.id, Seq: r.Seq, Time: r.Time, Payload: r.Msg})
	})
}

func (h *Hub) checkpoint(s *session, snap protocol.SnapArgs) {
	s.checkpoint(snap)
	h.logger.Debug("checkpoint", "session", s.id, "time", snap.Time, "seq", snap.Seq, "hash", snap.Hash)
	h.persist("write snapshot", func(ctx context.Context, st Store) error {
		return st.WriteSnapshot(ctx, store.Snapshot{
			SessionID: s.id,
			Seq:       snap.Seq,
			Time:      snap.Time,
			Hash:      snap.Hash,
			Body:      snap.Snapshot,
		})
	})
}

// Tick advances every running session: a TICK to all clients when time
// moved, and a checkpoint request when one is due.
func (h *Hub) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range h.sessionIDs() {
		s := h.sessions[id]
		if !s.running {
			continue
		}
		t := s.now(h.clock)
		if t > s.lastTick {
			s.lastTick = t
			for _, c := range s.clients {
				c.send(protocol.ActionTick, protocol.TickArgs{Time: t})
			}
		}
		if h.snapshotEvery > 0 && t-s.lastSnapReq >= h.snapshotEvery {
			if server := s.server(nil); server != nil {
				s.lastSnapReq = t
				server.send(protocol.ActionServe, protocol.ServeArgs{Reply: protocol.ActionSnap})
			}
		}
	}
}

// Run calls Tick every interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	h.logger.Info("reflector ticking", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("reflector stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			h.Tick()
		}
	}
}

// SessionStatus describes a session for monitoring.
type SessionStatus struct {
	ID      string `json:"id"`
	Clients int    `json:"clients"`
	Live    int    `json:"live"`
	Seq     uint64 `json:"seq"`
	Time    int64  `json:"time"`
	Running bool   `json:"running"`
}

// Sessions returns the status of every session, ordered by id.
func (h *Hub) Sessions() []SessionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SessionStatus, 0, len(h.sessions))
	for _, id := range h.sessionIDs() {
		s := h.sessions[id]
		out = append(out, SessionStatus{
			ID:      s.id,
			Clients: len(s.clients),
			Live:    s.liveCount(),
			Seq:     s.seq,
			Time:    s.now(h.clock),
			Running: s.running,
		})
	}
	return out
}

func (h *Hub) sessionIDs() []string {
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// session returns the session, creating it or restoring it from the store.
func (h *Hub) session(id string) *session {
	if s, ok := h.sessions[id]; ok {
		return s
	}
	s := newSession(id)
	h.sessions[id] = s
	if h.store != nil {
		if err := h.restore(s); err != nil {
			h.logger.Error("restore session failed, starting fresh", "session", id, "error", err)
			*s = *newSession(id)
		}
	}
	return s
}

func (h *Hub) restore(s *session) error {
	ctx := context.Background()
	if err := h.store.EnsureSession(ctx, s.id, h.clock.Now().UnixMilli()); err != nil {
		return err
	}
	snap, ok, err := h.store.LatestSnapshot(ctx, s.id)
	if err != nil {
		return err
	}
	var after uint64
	if ok {
		s.snap = &protocol.SnapArgs{Time: snap.Time, Seq: snap.Seq, Hash: snap.Hash, Snapshot: snap.Body}
		s.seq, s.time = snap.Seq, snap.Time
		after = snap.Seq
	}
	msgs, err := h.store.ReadMessagesAfter(ctx, s.id, after)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		s.log = append(s.log, protocol.RecvArgs{Time: m.Time, Seq: m.Seq, Msg: m.Payload})
		s.seq = m.Seq
		s.time = max(s.time, m.Time)
	}
	if s.seq > 0 {
		h.logger.Info("session restored", "session", s.id, "seq", s.seq, "time", s.time, "checkpoint", ok)
	}
	return nil
}

func (h *Hub) persist(what string, fn func(ctx context.Context, st Store) error) {
	if h.store == nil {
		return
	}
	if err := fn(context.Background(), h.store); err != nil {
		h.logger.Error(what+" failed", "error", err)
	}
}
