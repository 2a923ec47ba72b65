// Package controller drives one island replica from a reflector connection.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/island/internal/island"
	"github.com/roach88/island/internal/protocol"
	"github.com/roach88/island/internal/transport"
)

// ErrNotConnected is returned by Send while no reflector connection exists.
// The message is dropped; local input is never replayed after a reconnect.
var ErrNotConnected = errors.New("controller: not connected")

// State is the replication state of a controller.
type State int32

const (
	// StateUninitialized: no connection yet.
	StateUninitialized State = iota
	// StateJoining: JOIN sent, waiting for START or SYNC. Inbound messages
	// are buffered.
	StateJoining
	// StateInstalling: a snapshot was loaded and is catching up; the
	// previous island, if any, stays visible.
	StateInstalling
	// StateLive: the island applies every RECV and TICK.
	StateLive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateInstalling:
		return "installing"
	case StateLive:
		return "live"
	default:
		return "uninitialized"
	}
}

// InitFunc is the session creation routine, run once on START.
type InitFunc func(ctx *island.ModelContext) error

// Controller is the single-writer owner of an island replica.
//
// Transports deliver frames from their own goroutines through the Sink
// methods; view work from other goroutines is posted with Do. Everything is
// applied by Run (or Drain) in arrival order.
//
// Thread-safety model:
//   - Connected/Receive/Disconnected/Do: safe from any goroutine
//   - Run, Drain: exactly one goroutine
//   - Island, Send: only from the Run goroutine (inside Do callbacks)
type Controller struct {
	session  string
	clientID string
	reg      *island.Registry
	init     InitFunc
	logger   *slog.Logger
	queue    *eventQueue

	onInstall func(isl *island.Island)
	pumpViews bool

	state atomic.Int32

	// Owned by the Run goroutine.
	conn       transport.Conn
	live       *island.Island
	installing *island.Island
	pending    []protocol.RecvArgs
	tick       int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithClientID sets the id sent in JOIN. Default: a UUIDv7.
func WithClientID(id string) Option {
	return func(c *Controller) {
		c.clientID = id
	}
}

// WithOnInstall registers a callback run whenever a new island becomes
// live, so views can attach to it.
func WithOnInstall(fn func(isl *island.Island)) Option {
	return func(c *Controller) {
		c.onInstall = fn
	}
}

// WithViewPump controls whether the controller calls
// ProcessModelViewEvents after every applied frame. Default: true. Disable
// it when a renderer drives view delivery from its own frame loop via Do.
func WithViewPump(enabled bool) Option {
	return func(c *Controller) {
		c.pumpViews = enabled
	}
}

// New creates a controller for a session.
func New(session string, reg *island.Registry, init InitFunc, opts ...Option) *Controller {
	c := &Controller{
		session:   session,
		clientID:  uuid.Must(uuid.NewV7()).String(),
		reg:       reg,
		init:      init,
		logger:    slog.Default(),
		queue:     newEventQueue(),
		pumpViews: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session id.
func (c *Controller) Session() string { return c.session }

// ClientID returns the id this controller joins with.
func (c *Controller) ClientID() string { return c.clientID }

// State returns the current replication state. Safe from any goroutine.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("controller state", "session", c.session, "from", old.String(), "to", s.String())
	}
}

// Island returns the visible island, or nil before the first install.
// Only call from the Run goroutine or after Drain.
func (c *Controller) Island() *island.Island { return c.live }

// Connected implements transport.Sink.
func (c *Controller) Connected(conn transport.Conn) {
	c.queue.Enqueue(Event{Type: EventTypeConnected, Conn: conn})
}

// Receive implements transport.Sink.
func (c *Controller) Receive(f protocol.Frame) {
	c.queue.Enqueue(Event{Type: EventTypeFrame, Frame: f})
}

// Disconnected implements transport.Sink.
func (c *Controller) Disconnected(err error) {
	c.queue.Enqueue(Event{Type: EventTypeDisconnected, Err: err})
}

// Do posts fn to run on the Run goroutine against the visible island.
// Returns false if the controller is stopped.
func (c *Controller) Do(fn func(isl *island.Island) error) bool {
	return c.queue.Enqueue(Event{Type: EventTypeLocal, Fn: fn})
}

// Pending returns the number of unprocessed events.
func (c *Controller) Pending() int { return c.queue.Len() }

// Run processes events until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller starting", "session", c.session, "client", c.clientID)

	for {
		event, ok := c.queue.TryDequeue()
		if ok {
			if err := c.processEvent(event); err != nil {
				c.logger.Warn("event failed", "session", c.session, "type", int(event.Type), "action", string(event.Frame.Action), "error", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping: context cancelled", "session", c.session)
			c.queue.Close()
			return ctx.Err()

		case <-c.queue.Wait():
			// A stale signal can fire with nothing queued; only a closed
			// queue ends the loop.
			if c.queue.Len() == 0 && c.queue.isClosed() {
				c.logger.Info("controller stopping: queue closed", "session", c.session)
				return nil
			}
		}
	}
}

// Stop closes the event queue; Run returns once it is drained.
func (c *Controller) Stop() {
	c.queue.Close()
}

// Drain processes every queued event on the calling goroutine and returns
// how many were handled. Used instead of Run by tests and the harness.
func (c *Controller) Drain() int {
	n := 0
	for {
		event, ok := c.queue.TryDequeue()
		if !ok {
			return n
		}
		n++
		if err := c.processEvent(event); err != nil {
			c.logger.Warn("event failed", "session", c.session, "type", int(event.Type), "action", string(event.Frame.Action), "error", err)
		}
	}
}

// processEvent routes an event.
// Called only from the Run goroutine - single-writer guarantee.
func (c *Controller) processEvent(e Event) error {
	switch e.Type {
	case EventTypeConnected:
		return c.handleConnected(e.Conn)
	case EventTypeDisconnected:
		c.handleDisconnected(e.Err)
		return nil
	case EventTypeFrame:
		return c.handleFrame(e.Frame)
	case EventTypeLocal:
		if c.live == nil {
			return fmt.Errorf("no island installed")
		}
		return e.Fn(c.live)
	default:
		return fmt.Errorf("unknown event type: %d", e.Type)
	}
}

func (c *Controller) handleConnected(conn transport.Conn) error {
	c.conn = conn
	c.installing = nil
	c.pending = nil
	c.tick = 0
	c.setState(StateJoining)

	var now int64
	if c.live != nil {
		now = c.live.Time()
	}
	return c.send(protocol.ActionJoin, protocol.JoinArgs{Time: now, Client: c.clientID})
}

// handleDisconnected keeps the visible island on screen; the next
// connection re-syncs it. Buffered inbound messages belong to the old
// connection and are discarded.
func (c *Controller) handleDisconnected(err error) {
	c.logger.Warn("reflector disconnected", "session", c.session, "error", err)
	c.conn = nil
	c.installing = nil
	c.pending = nil
	c.tick = 0
	if c.State() != StateUninitialized {
		c.setState(StateJoining)
	}
}

func (c *Controller) handleFrame(f protocol.Frame) error {
	if f.ID != c.session {
		return fmt.Errorf("frame for session %q, controller is %q", f.ID, c.session)
	}
	switch f.Action {
	case protocol.ActionStart:
		var args protocol.StartArgs
		if len(f.Args) > 0 {
			if err := f.DecodeArgs(&args); err != nil {
				return err
			}
		}
		return c.handleStart(args)
	case protocol.ActionRecv:
		var args protocol.RecvArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		return c.handleRecv(args)
	case protocol.ActionTick:
		var args protocol.TickArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		return c.handleTick(args.Time)
	case protocol.ActionServe:
		var args protocol.ServeArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		return c.handleServe(args)
	case protocol.ActionSync:
		var args protocol.SyncArgs
		if err := f.DecodeArgs(&args); err != nil {
			return err
		}
		return c.handleSync(args)
	default:
		return fmt.Errorf("unexpected %s frame", f.Action)
	}
}

// handleStart creates the session. A controller still holding an island
// from before a reconnect resumes it instead: the reflector restarted the
// session from our JOIN time.
func (c *Controller) handleStart(args protocol.StartArgs) error {
	if c.State() != StateJoining {
		return fmt.Errorf("START in state %s", c.State())
	}
	if c.live != nil {
		c.live.ResumeAt(args.Seq)
		c.logger.Info("session restarted, resuming held island", "session", c.session, "time", c.live.Time(), "seq", args.Seq)
	} else {
		isl := island.New(c.session, c.reg, island.WithLogger(c.logger), island.WithSender(c))
		if c.init != nil {
			if err := isl.Init(c.init); err != nil {
				return fmt.Errorf("init session: %w", err)
			}
		}
		c.live = isl
	}
	c.installing = nil
	c.setState(StateLive)
	if c.onInstall != nil {
		c.onInstall(c.live)
	}
	return c.flushPending(c.live)
}

func (c *Controller) handleRecv(r protocol.RecvArgs) error {
	switch c.State() {
	case StateLive:
		return c.apply(c.live, r)
	case StateInstalling:
		if err := c.apply(c.installing, r); err != nil {
			return err
		}
		return c.maybeInstall()
	default:
		c.pending = append(c.pending, r)
		return nil
	}
}

func (c *Controller) handleTick(t int64) error {
	switch c.State() {
	case StateLive:
		return c.advance(c.live, t)
	case StateInstalling:
		if err := c.advance(c.installing, t); err != nil {
			return err
		}
		return c.maybeInstall()
	default:
		c.tick = max(c.tick, t)
		return nil
	}
}

// apply feeds one reflected message to isl. Messages at or before the
// island's reflector position are duplicates from a re-sync and are ignored.
func (c *Controller) apply(isl *island.Island, r protocol.RecvArgs) error {
	if r.Seq <= isl.ExternalSeq() || r.Time < isl.Time() {
		c.logger.Debug("ignoring stale message", "session", c.session, "seq", r.Seq, "time", r.Time, "island_seq", isl.ExternalSeq(), "island_time", isl.Time())
		return nil
	}
	err := isl.DecodeScheduleAndExecute(r.Time, r.Seq, r.Msg)
	switch {
	case err == nil:
	case island.IsDecodeError(err):
		c.logger.Warn("message skipped", "session", c.session, "seq", r.Seq, "time", r.Time, "error", err)
	default:
		return c.fatal(err)
	}
	return c.pump(isl)
}

func (c *Controller) advance(isl *island.Island, t int64) error {
	if err := isl.AdvanceTo(t); err != nil {
		return c.fatal(err)
	}
	return c.pump(isl)
}

// pump delivers view events for the visible island.
func (c *Controller) pump(isl *island.Island) error {
	if !c.pumpViews || isl != c.live {
		return nil
	}
	if _, err := isl.ProcessModelViewEvents(); err != nil {
		return c.fatal(err)
	}
	return nil
}

// fatal handles realm and causality violations: the replica can no longer
// be trusted, so it is re-synced from a fresh snapshot.
func (c *Controller) fatal(err error) error {
	c.logger.Error("island failed, re-syncing", "session", c.session, "error", err)
	c.live = nil
	c.installing = nil
	c.pending = nil
	c.tick = 0
	c.setState(StateJoining)
	if c.conn != nil {
		if sendErr := c.send(protocol.ActionJoin, protocol.JoinArgs{Client: c.clientID}); sendErr != nil {
			return errors.Join(err, sendErr)
		}
	}
	return err
}

// handleServe replies with a snapshot of the replica that follows the
// reflected stream: the live island, or while installing the one catching
// up. The reflector counts a client as live once it has sent it a SYNC, so
// SERVE can arrive before the install completes.
func (c *Controller) handleServe(args protocol.ServeArgs) error {
	var src *island.Island
	switch c.State() {
	case StateLive:
		src = c.live
	case StateInstalling:
		src = c.installing
	default:
		return fmt.Errorf("SERVE in state %s", c.State())
	}
	st, err := src.AsState()
	if err != nil {
		return err
	}
	data, err := st.Marshal()
	if err != nil {
		return err
	}
	anchor := protocol.Anchor{Time: src.Time(), Seq: src.ExternalSeq()}

	switch args.Reply {
	case protocol.ActionSync, "":
		return c.send(protocol.ActionSync, protocol.SyncArgs{To: args.To, Snapshot: data, Anchor: anchor})
	case protocol.ActionSnap:
		hash, err := st.Hash()
		if err != nil {
			return err
		}
		return c.send(protocol.ActionSnap, protocol.SnapArgs{Time: anchor.Time, Seq: anchor.Seq, Hash: hash, Snapshot: data})
	default:
		return fmt.Errorf("SERVE asks for unsupported reply %q", args.Reply)
	}
}

// handleSync loads a snapshot, replays the backlog and any buffered
// messages newer than it, and installs it once it has caught up with the
// visible island.
func (c *Controller) handleSync(args protocol.SyncArgs) error {
	if args.To != "" && args.To != c.clientID {
		return nil
	}
	if c.State() != StateJoining {
		c.logger.Debug("ignoring SYNC", "session", c.session, "state", c.State().String())
		return nil
	}
	st, err := island.ParseState(args.Snapshot)
	if err != nil {
		return err
	}
	if st.ID != c.session {
		return fmt.Errorf("snapshot for session %q, controller is %q", st.ID, c.session)
	}
	isl, err := island.FromState(c.reg, st, island.WithLogger(c.logger), island.WithSender(c))
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	c.logger.Info("snapshot loaded", "session", c.session, "time", st.Time, "seq", st.ExternalSeq, "backlog", len(args.Backlog), "buffered", len(c.pending))

	c.installing = isl
	c.setState(StateInstalling)

	replay := append(slices.Clone(args.Backlog), c.pending...)
	c.pending = nil
	slices.SortStableFunc(replay, func(a, b protocol.RecvArgs) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	for _, r := range replay {
		if c.installing != isl {
			return nil
		}
		if err := c.apply(isl, r); err != nil {
			return err
		}
	}
	if c.tick > isl.Time() {
		if err := c.advance(isl, c.tick); err != nil {
			return err
		}
	}
	c.tick = 0
	return c.maybeInstall()
}

// maybeInstall makes the installing island visible once it is at least as
// far along as the one on screen, so a reconnect never rolls back what the
// user has already seen.
func (c *Controller) maybeInstall() error {
	isl := c.installing
	if isl == nil {
		return nil
	}
	if c.live != nil && isl.Time() < c.live.Time() {
		return nil
	}
	c.live = isl
	c.installing = nil
	c.setState(StateLive)
	c.logger.Info("island installed", "session", c.session, "time", isl.Time())
	if c.onInstall != nil {
		c.onInstall(isl)
	}
	return c.pump(isl)
}

// flushPending applies messages buffered before START.
func (c *Controller) flushPending(isl *island.Island) error {
	pending := c.pending
	c.pending = nil
	for _, r := range pending {
		if err := c.apply(isl, r); err != nil {
			return err
		}
	}
	if c.tick > isl.Time() {
		if err := c.advance(isl, c.tick); err != nil {
			return err
		}
	}
	c.tick = 0
	return nil
}

// Send implements island.Sender: view code's messages go to the reflector
// for ordering. Only call from the Run goroutine.
func (c *Controller) Send(payload string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.send(protocol.ActionSend, protocol.SendArgs{Msg: payload})
}

func (c *Controller) send(action protocol.Action, args any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	f, err := protocol.NewFrame(c.session, action, args)
	if err != nil {
		return err
	}
	if err := c.conn.Send(f); err != nil {
		return fmt.Errorf("send %s: %w", action, err)
	}
	return nil
}
