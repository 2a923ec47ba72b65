// Package replay audits a stored session: it restores each checkpoint,
// replays the reflected messages up to the next one and checks that the
// resulting snapshot hash matches what the clients reported.
//
// A mismatch means some replica diverged, or the model code is not
// deterministic.
package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
	"github.com/roach88/island/internal/store"
)

// Source is the read side of the store.
type Source interface {
	Snapshots(ctx context.Context, sessionID string) ([]store.Snapshot, error)
	ReadMessagesAfter(ctx context.Context, sessionID string, after uint64) ([]store.Message, error)
}

// Check is the verdict for one checkpoint.
type Check struct {
	Seq      uint64 `json:"seq"`
	Time     int64  `json:"time"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Replayed int    `json:"replayed"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Report is the outcome of Verify.
type Report struct {
	SessionID     string   `json:"session_id"`
	Messages      int      `json:"messages"`
	BadDigests    []uint64 `json:"bad_digests,omitempty"`
	Checks        []Check  `json:"checks"`
	Deterministic bool     `json:"deterministic"`
}

// Failed returns the checks that did not match.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Option configures Verify.
type Option func(*verifier)

// WithLogger sets the logger for replayed islands. Default: discard, since
// replayed handlers log exactly what the live ones already did.
func WithLogger(l *slog.Logger) Option {
	return func(v *verifier) {
		v.logger = l
	}
}

type verifier struct {
	reg    *island.Registry
	logger *slog.Logger
}

// Verify checks every stored checkpoint of sessionID.
//
// The first checkpoint is checked against its own body. Each later one is
// rebuilt from its predecessor plus the messages between them, so one
// divergence is reported once rather than poisoning every later check.
//
// Errors are returned for storage failures and for sessions with no
// checkpoints; divergence is reported in the Report.
func Verify(ctx context.Context, src Source, reg *island.Registry, sessionID string, opts ...Option) (Report, error) {
	v := &verifier{reg: reg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(v)
	}

	snaps, err := src.Snapshots(ctx, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("load checkpoints: %w", err)
	}
	if len(snaps) == 0 {
		return Report{}, fmt.Errorf("session %q has no checkpoints", sessionID)
	}
	msgs, err := src.ReadMessagesAfter(ctx, sessionID, snaps[0].Seq)
	if err != nil {
		return Report{}, fmt.Errorf("load messages: %w", err)
	}

	report := Report{SessionID: sessionID, Messages: len(msgs), Deterministic: true}
	for _, m := range msgs {
		want, err := ir.MessageDigest(m.Time, m.Seq, m.Payload)
		if err != nil || (m.Digest != "" && m.Digest != want) {
			report.BadDigests = append(report.BadDigests, m.Seq)
		}
	}
	if len(report.BadDigests) > 0 {
		report.Deterministic = false
	}

	report.Checks = append(report.Checks, v.checkBody(snaps[0]))
	next := 0
	for i := 1; i < len(snaps); i++ {
		from, to := snaps[i-1], snaps[i]
		for next < len(msgs) && msgs[next].Seq <= from.Seq {
			next++
		}
		end := next
		for end < len(msgs) && msgs[end].Seq <= to.Seq {
			end++
		}
		report.Checks = append(report.Checks, v.checkSpan(from, to, msgs[next:end]))
		next = end
	}

	for _, c := range report.Checks {
		if !c.OK {
			report.Deterministic = false
		}
	}
	return report, nil
}

// checkBody verifies that a checkpoint restores to its reported hash.
func (v *verifier) checkBody(snap store.Snapshot) Check {
	c := Check{Seq: snap.Seq, Time: snap.Time, Expected: snap.Hash}
	isl, err := Restore(v.reg, snap.Body, island.WithLogger(v.logger))
	if err != nil {
		c.Error = err.Error()
		return c
	}
	c.Actual, err = isl.Hash()
	if err != nil {
		c.Error = err.Error()
		return c
	}
	c.OK = c.Actual == c.Expected
	return c
}

// checkSpan restores from, replays msgs and compares against to.
func (v *verifier) checkSpan(from, to store.Snapshot, msgs []store.Message) Check {
	c := Check{Seq: to.Seq, Time: to.Time, Expected: to.Hash, Replayed: len(msgs)}
	isl, err := Restore(v.reg, from.Body, island.WithLogger(v.logger))
	if err != nil {
		c.Error = fmt.Sprintf("restore checkpoint %d: %v", from.Seq, err)
		return c
	}
	if err := Apply(isl, msgs); err != nil {
		c.Error = err.Error()
		return c
	}
	if err := isl.AdvanceTo(to.Time); err != nil {
		c.Error = err.Error()
		return c
	}
	c.Actual, err = isl.Hash()
	if err != nil {
		c.Error = err.Error()
		return c
	}
	c.OK = c.Actual == c.Expected
	return c
}

// Restore rebuilds an island from a snapshot body.
func Restore(reg *island.Registry, body []byte, opts ...island.Option) (*island.Island, error) {
	st, err := island.ParseState(body)
	if err != nil {
		return nil, err
	}
	return island.FromState(reg, st, opts...)
}

// Apply feeds stored messages to isl the way a controller feeds RECVs:
// already-applied messages are skipped and undecodable ones are dropped.
func Apply(isl *island.Island, msgs []store.Message) error {
	for _, m := range msgs {
		if m.Seq <= isl.ExternalSeq() {
			continue
		}
		err := isl.DecodeScheduleAndExecute(m.Time, m.Seq, m.Payload)
		if err != nil && !island.IsDecodeError(err) {
			return fmt.Errorf("message %d: %w", m.Seq, err)
		}
	}
	return nil
}
