package island

import (
	"fmt"
	"log/slog"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/rng"
)

// Sender forwards encoded messages from view code to the reflector.
// Implemented by the controller.
type Sender interface {
	Send(payload string) error
}

// Island is one replica of a replicated simulation.
//
// An island owns its models, virtual-time queue, generator and subscription
// tables. It is single-threaded: the owner (normally the controller's Run
// loop) is the only goroutine that may call it.
//
// INVARIANTS:
//   - time never decreases
//   - seq increases by one per enqueued message and never repeats
//   - model code only runs inside Model realm entered by the island itself
type Island struct {
	id     string
	reg    *Registry
	logger *slog.Logger
	sender Sender

	time        int64
	seq         uint64
	externalSeq uint64
	nextModelID uint64
	rng         *rng.Source

	models map[string]Model
	order  []string // live model ids in creation order

	queue *Queue
	realm realmGuard

	modelSubs map[string][]modelSub

	// Local, never snapshotted.
	viewSubs    map[string][]viewSub
	views       map[string]struct{}
	nextViewID  uint64
	pendingView []viewEvent
}

// Option configures an Island.
type Option func(*Island)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Island) {
		i.logger = l
	}
}

// WithSender sets where ViewContext.Send forwards messages.
func WithSender(s Sender) Option {
	return func(i *Island) {
		i.sender = s
	}
}

// New creates an empty island at time 0. The generator is seeded from id so
// every replica of the session starts with the same sequence.
func New(id string, reg *Registry, opts ...Option) *Island {
	i := newIsland(id, reg, opts...)
	i.rng = rng.New(ir.Seed(id))
	return i
}

func newIsland(id string, reg *Registry, opts ...Option) *Island {
	i := &Island{
		id:        id,
		reg:       reg,
		logger:    slog.Default(),
		models:    make(map[string]Model),
		queue:     NewQueue(),
		modelSubs: make(map[string][]modelSub),
		viewSubs:  make(map[string][]viewSub),
		views:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ID returns the session id.
func (i *Island) ID() string { return i.id }

// Time returns the current virtual time.
func (i *Island) Time() int64 { return i.time }

// Seq returns the last assigned message sequence number.
func (i *Island) Seq() uint64 { return i.seq }

// ExternalSeq returns the reflector sequence of the last applied network
// message.
func (i *Island) ExternalSeq() uint64 { return i.externalSeq }

// Realm returns the active realm.
func (i *Island) Realm() Realm { return i.realm.current }

// Registry returns the registry the island decodes with.
func (i *Island) Registry() *Registry { return i.reg }

// QueueLen returns the number of pending messages.
func (i *Island) QueueLen() int { return i.queue.Len() }

// PendingViewEvents returns the number of undelivered view events.
func (i *Island) PendingViewEvents() int { return len(i.pendingView) }

// ModelIDs returns live model ids in creation order.
func (i *Island) ModelIDs() []string {
	return append([]string(nil), i.order...)
}

// ModelKind returns the kind tag of a live model.
func (i *Island) ModelKind(id string) (string, bool) {
	m, ok := i.models[id]
	if !ok {
		return "", false
	}
	return m.Kind(), true
}

// ModelState returns a copy of a model's replicated state. Writes to the
// copy never reach the island; model state changes only through messages.
func (i *Island) ModelState(id string) (ir.IRObject, error) {
	m, ok := i.models[id]
	if !ok {
		return nil, unknownReceiver(id, "")
	}
	return copyState(m)
}

func copyState(m Model) (ir.IRObject, error) {
	s, err := m.MarshalState()
	if err != nil {
		return nil, fmt.Errorf("marshal model %s (%s): %w", m.ID(), m.Kind(), err)
	}
	return ir.Clone(s).(ir.IRObject), nil
}

// ResumeAt rebases the reflector position after the reflector restarted the
// session from this replica's time. Model state and time are kept.
func (i *Island) ResumeAt(externalSeq uint64) { i.externalSeq = externalSeq }

// SetSender replaces the sender used by ViewContext.Send.
func (i *Island) SetSender(s Sender) { i.sender = s }

// runModel enters Model realm for the duration of fn.
func (i *Island) runModel(fn func(ctx *ModelContext) error) error {
	release, epoch, err := i.realm.enter(i.id, RealmModel)
	if err != nil {
		return err
	}
	defer release()
	return fn(&ModelContext{island: i, epoch: epoch})
}

// Init runs the session's creation routine in Model realm. Called once by
// the controller on START; restored islands never run it.
func (i *Island) Init(fn func(ctx *ModelContext) error) error {
	if err := i.realm.outside(i.id, "Init"); err != nil {
		return err
	}
	return i.runModel(fn)
}

// View enters View realm for the duration of fn.
func (i *Island) View(fn func(ctx *ViewContext) error) error {
	if err := i.realm.outside(i.id, "View"); err != nil {
		return err
	}
	release, epoch, err := i.realm.enter(i.id, RealmView)
	if err != nil {
		return err
	}
	defer release()
	return fn(&ViewContext{island: i, epoch: epoch})
}

// AdvanceTo executes every message with time <= target in (time, seq) order,
// then sets time to target. Each handler observes Now() equal to its own
// message time. Must be called outside any realm.
//
// Realm and causality violations abort and are returned. Any other handler
// failure is logged and the message is skipped; every replica skips it alike.
func (i *Island) AdvanceTo(target int64) error {
	if err := i.realm.outside(i.id, "AdvanceTo"); err != nil {
		return err
	}
	for {
		m, ok := i.queue.Peek()
		if !ok || m.time > target {
			break
		}
		i.queue.Pop()
		if m.time < i.time {
			return causalityError(i.id, m.time, i.time)
		}
		i.time = m.time

		if err := i.execute(m); err != nil {
			if IsFatal(err) {
				return err
			}
			i.logger.Warn("message dropped",
				"island", i.id,
				"time", m.time,
				"seq", m.seq,
				"receiver", m.target.String(),
				"selector", m.selector,
				"error", err,
			)
		}
	}
	if target > i.time {
		i.time = target
	}
	return nil
}

func (i *Island) execute(m Message) error {
	model, ok := i.models[m.target.Receiver]
	if !ok {
		return unknownReceiver(m.target.Receiver, "")
	}
	h, ok := i.reg.handler(model.Kind(), m.target.Part, m.selector)
	if !ok {
		return unknownSelector(model.Kind(), m.target.Receiver, m.target.Part, m.selector)
	}
	target, err := resolvePart(model, m.target.Part)
	if err != nil {
		return err
	}
	return i.runModel(func(ctx *ModelContext) error {
		return h(ctx, target, m.Args())
	})
}

// DecodeScheduleAndExecute decodes a reflected message, enqueues it at time,
// then advances to time. externalSeq is the reflector's sequence number for
// the message and is recorded for idempotent re-delivery.
//
// The message takes the next seq, so it runs after work already queued at
// time and before anything that work schedules at offset 0.
//
// A payload that fails to decode is skipped but time still advances, so all
// replicas stay in step; the decode error is returned.
func (i *Island) DecodeScheduleAndExecute(time int64, externalSeq uint64, payload string) error {
	if err := i.realm.outside(i.id, "DecodeScheduleAndExecute"); err != nil {
		return err
	}
	if time < i.time {
		return causalityError(i.id, time, i.time)
	}
	m, decodeErr := DecodeMessage(i.reg, payload)
	i.externalSeq = externalSeq
	if decodeErr != nil {
		if err := i.AdvanceTo(time); err != nil {
			return err
		}
		return decodeErr
	}
	i.enqueue(time, m)
	return i.AdvanceTo(time)
}

// schedule validates and enqueues a model-originated call at time.
// Arguments go through the wire codec so a handler sees identical values
// whether the message was scheduled locally or restored from a snapshot.
func (i *Island) schedule(time int64, t Target, selector string, args []any) error {
	m, err := i.prepare(t, selector, args)
	if err != nil {
		return err
	}
	i.enqueue(time, m)
	return nil
}

// prepare builds the message for a call without enqueuing it.
func (i *Island) prepare(t Target, selector string, args []any) (Message, error) {
	if err := i.checkHandler(t, selector); err != nil {
		return Message{}, err
	}
	payload, err := encodeCall(i.reg, t, selector, args)
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(i.reg, payload)
}

func (i *Island) enqueue(time int64, m Message) {
	i.seq++
	i.queue.Push(m.at(time, i.seq))
}

// checkHandler verifies t exists and handles selector.
func (i *Island) checkHandler(t Target, selector string) error {
	model, ok := i.models[t.Receiver]
	if !ok {
		return unknownReceiver(t.Receiver, "")
	}
	if _, ok := i.reg.handler(model.Kind(), t.Part, selector); !ok {
		return unknownSelector(model.Kind(), t.Receiver, t.Part, selector)
	}
	if _, err := resolvePart(model, t.Part); err != nil {
		return err
	}
	return nil
}
