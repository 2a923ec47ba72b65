package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/island/internal/controller"
	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
	"github.com/roach88/island/internal/models"
	"github.com/roach88/island/internal/reflector"
	"github.com/roach88/island/internal/replay"
	"github.com/roach88/island/internal/store"
	"github.com/roach88/island/internal/testutil"
	"github.com/roach88/island/internal/transport"
)

// maxSettleRounds bounds how often replicas are drained after one step.
// Each round makes progress unless frames bounce forever.
const maxSettleRounds = 1000

// Harness is the test execution engine.
// It wires replicas to an in-process reflector driven by a manual clock.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	reg      *island.Registry
	hub      *reflector.Hub
	clock    *testutil.ManualClock
	logger   *slog.Logger

	order    []string
	replicas map[string]*replica
}

// replica is one controller and its link to the hub.
type replica struct {
	ctrl    *controller.Controller
	link    *transport.Local
	watcher *models.Watcher

	// attached is the island the watcher currently views.
	attached *island.Island
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger for the reflector and every replica.
// Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// The manual clock only moves on advance steps, so results are
// reproducible.
//
// Execution flow:
//  1. Create fresh in-memory store, registry, clock and hub
//  2. Create one controller per replica (not yet connected)
//  3. Execute steps, draining every replica after each
//  4. Collect the log and each replica's final state
//  5. Evaluate assertions
//
// Step failures (a send that fails unexpectedly) and failed assertions are
// reported in Result.Errors. Errors are returned only when the harness
// itself cannot run.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg, err := models.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		store:    st,
		reg:      reg,
		clock:    testutil.NewManualClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		replicas: make(map[string]*replica),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.hub = reflector.NewHub(
		reflector.WithClock(h.clock),
		reflector.WithStore(st),
		reflector.WithIDGenerator(testutil.NewCountingIDs("anon")),
		reflector.WithLogger(h.logger),
		reflector.WithSnapshotInterval(time.Duration(scenario.SnapshotIntervalMS)*time.Millisecond),
	)

	topics := make([][2]string, 0, len(scenario.Watch))
	for _, t := range scenario.Watch {
		scope, event, _ := strings.Cut(t, ":")
		topics = append(topics, [2]string{scope, event})
	}
	for _, name := range scenario.Replicas {
		h.addReplica(name, topics)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(step); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}

	ctx := context.Background()
	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, h.verify) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) addReplica(name string, topics [][2]string) {
	r := &replica{
		watcher: &models.Watcher{Topics: topics},
	}
	logger := h.logger.With("replica", name)
	r.ctrl = controller.New(h.scenario.Session, h.reg, models.InitRoom,
		controller.WithClientID(name),
		controller.WithLogger(logger),
		controller.WithOnInstall(func(isl *island.Island) {
			// A resumed island is handed over again; its view is still attached.
			if isl == r.attached {
				return
			}
			if err := r.watcher.Attach(isl); err != nil {
				logger.Error("attach watcher failed", "error", err)
				return
			}
			r.attached = isl
		}),
	)
	r.link = transport.NewLocal(h.hub, r.ctrl)
	h.order = append(h.order, name)
	h.replicas[name] = r
}

// execute runs one step and lets every replica settle.
func (h *Harness) execute(step Step) error {
	switch {
	case step.Join != "":
		h.replicas[step.Join].link.Connect()
	case step.Reconnect != "":
		h.replicas[step.Reconnect].link.Connect()
	case step.Disconnect != "":
		h.replicas[step.Disconnect].link.Disconnect(nil)
	case step.Advance > 0:
		h.clock.AdvanceMillis(step.Advance)
		h.hub.Tick()
	case step.Send != nil:
		return h.send(step.Send)
	}
	return h.settle()
}

func (h *Harness) send(s *SendStep) error {
	r := h.replicas[s.From]
	var (
		ran     bool
		sendErr error
	)
	r.ctrl.Do(func(isl *island.Island) error {
		ran = true
		if s.Payload != "" {
			sendErr = r.ctrl.Send(s.Payload)
		} else {
			sendErr = isl.View(func(ctx *island.ViewContext) error {
				return ctx.Send(island.Target{Receiver: s.To, Part: s.Part}, s.Selector, s.Args...)
			})
		}
		return sendErr
	})
	if err := h.settle(); err != nil {
		return err
	}
	if !ran {
		sendErr = fmt.Errorf("replica %q has no island", s.From)
	}
	switch {
	case sendErr != nil && !s.ExpectError:
		return fmt.Errorf("send from %q: %w", s.From, sendErr)
	case sendErr == nil && s.ExpectError:
		return fmt.Errorf("send from %q: expected an error", s.From)
	}
	return nil
}

// settle drains every replica until none has queued events.
func (h *Harness) settle() error {
	for range maxSettleRounds {
		n := 0
		for _, name := range h.order {
			n += h.replicas[name].ctrl.Drain()
		}
		if n == 0 {
			return nil
		}
	}
	return fmt.Errorf("replicas did not settle after %d rounds", maxSettleRounds)
}

// collect fills the log and per-replica results.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	msgs, err := h.store.ReadMessagesAfter(ctx, h.scenario.Session, 0)
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}
	for _, m := range msgs {
		result.Log = append(result.Log, LogEntry{Seq: m.Seq, Time: m.Time, Msg: m.Payload})
	}

	for _, name := range h.order {
		r := h.replicas[name]
		rr := ReplicaResult{
			State:      r.ctrl.State().String(),
			ViewEvents: r.watcher.Events(),
			Models:     make(map[string]ir.IRObject),
		}
		if isl := r.ctrl.Island(); isl != nil {
			st, err := isl.AsState()
			if err != nil {
				return fmt.Errorf("replica %q: %w", name, err)
			}
			hash, err := st.Hash()
			if err != nil {
				return fmt.Errorf("replica %q: %w", name, err)
			}
			rr.Time = st.Time
			rr.Hash = hash
			for _, m := range st.Models {
				rr.Models[m.ID] = m.State
			}
		}
		if rr.ViewEvents == nil {
			rr.ViewEvents = []models.ViewEvent{}
		}
		result.Replicas[name] = rr
	}
	return nil
}

// verify replays the stored session.
func (h *Harness) verify(ctx context.Context) (replay.Report, error) {
	return replay.Verify(ctx, h.store, h.reg, h.scenario.Session, replay.WithLogger(h.logger))
}
