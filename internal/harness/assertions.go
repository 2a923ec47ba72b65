package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/replay"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Replica  string // Replica checked, if any
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " (replica %s)", e.Replica)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// Verifier replays the scenario's stored session.
type Verifier func(ctx context.Context) (replay.Report, error)

// EvaluateAssertions checks every assertion against result and returns
// one message per failure. verify may be nil when no replay_verified
// assertion is present.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, verify Verifier) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertConverged:
			err = assertConverged(result, a)
		case AssertModelState:
			err = assertModelState(result, a)
		case AssertTime:
			err = assertTime(result, a)
		case AssertViewEvents:
			err = assertViewEvents(result, a)
		case AssertControllerState:
			err = assertControllerState(result, a)
		case AssertReplayVerified:
			err = assertReplayVerified(ctx, result, verify)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func replicaResult(result *Result, name string) (ReplicaResult, error) {
	r, ok := result.Replicas[name]
	if !ok {
		return ReplicaResult{}, fmt.Errorf("no result for replica %q", name)
	}
	return r, nil
}

// assertConverged checks that the replicas are live with equal hashes and
// times.
func assertConverged(result *Result, a Assertion) error {
	names := a.Replicas
	if len(names) == 0 {
		for name := range result.Replicas {
			names = append(names, name)
		}
		slices.Sort(names)
	}

	var first string
	var want ReplicaResult
	for _, name := range names {
		r, err := replicaResult(result, name)
		if err != nil {
			return err
		}
		if r.State != "live" {
			return &AssertionError{Type: a.Type, Replica: name, Expected: "live", Actual: r.State}
		}
		if first == "" {
			first, want = name, r
			continue
		}
		if r.Time != want.Time || r.Hash != want.Hash {
			return &AssertionError{
				Type:     a.Type,
				Replica:  name,
				Expected: fmt.Sprintf("time=%d hash=%s (as %s)", want.Time, want.Hash, first),
				Actual:   fmt.Sprintf("time=%d hash=%s", r.Time, r.Hash),
			}
		}
	}
	return nil
}

// assertModelState checks that the model's state contains every expected
// field (subset semantics). Values are compared in canonical form.
func assertModelState(result *Result, a Assertion) error {
	r, err := replicaResult(result, a.Replica)
	if err != nil {
		return err
	}
	state, ok := r.Models[a.Model]
	if !ok {
		return &AssertionError{Type: a.Type, Replica: a.Replica, Expected: "model " + a.Model, Actual: "no such model"}
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		want, err := canonical(a.Expect[k])
		if err != nil {
			return fmt.Errorf("expect[%q]: %w", k, err)
		}
		got := "<missing>"
		if v, ok := state[k]; ok {
			if got, err = canonical(v); err != nil {
				return fmt.Errorf("state[%q]: %w", k, err)
			}
		}
		if got != want {
			return &AssertionError{
				Type:     a.Type,
				Replica:  a.Replica,
				Expected: fmt.Sprintf("%s.%s = %s", a.Model, k, want),
				Actual:   fmt.Sprintf("%s.%s = %s", a.Model, k, got),
			}
		}
	}
	return nil
}

func canonical(v any) (string, error) {
	irv, ok, err := ir.FromGo(v)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("unsupported value %T", v)
	}
	b, err := ir.MarshalCanonical(irv)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func assertTime(result *Result, a Assertion) error {
	r, err := replicaResult(result, a.Replica)
	if err != nil {
		return err
	}
	if r.Time != *a.Time {
		return &AssertionError{Type: a.Type, Replica: a.Replica, Expected: fmt.Sprint(*a.Time), Actual: fmt.Sprint(r.Time)}
	}
	return nil
}

// assertViewEvents checks the events seen on one topic. Data, when given,
// must match the canonical payloads in order.
func assertViewEvents(result *Result, a Assertion) error {
	r, err := replicaResult(result, a.Replica)
	if err != nil {
		return err
	}
	var data []string
	for _, e := range r.ViewEvents {
		if e.Topic == a.Topic {
			data = append(data, e.Data)
		}
	}
	if a.Count != nil && len(data) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%d events on %s", *a.Count, a.Topic),
			Actual:   fmt.Sprintf("%d events %v", len(data), data),
		}
	}
	if a.Data != nil && !slices.Equal(data, a.Data) {
		return &AssertionError{
			Type:     a.Type,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%s data %v", a.Topic, a.Data),
			Actual:   fmt.Sprintf("%v", data),
		}
	}
	return nil
}

func assertControllerState(result *Result, a Assertion) error {
	r, err := replicaResult(result, a.Replica)
	if err != nil {
		return err
	}
	if r.State != a.State {
		return &AssertionError{Type: a.Type, Replica: a.Replica, Expected: a.State, Actual: r.State}
	}
	return nil
}

func assertReplayVerified(ctx context.Context, result *Result, verify Verifier) error {
	if verify == nil {
		return fmt.Errorf("replay_verified: no stored session to verify")
	}
	report, err := verify(ctx)
	if err != nil {
		return fmt.Errorf("replay_verified: %w", err)
	}
	if !report.Deterministic {
		var failed []string
		for _, c := range report.Failed() {
			failed = append(failed, fmt.Sprintf("seq=%d time=%d", c.Seq, c.Time))
		}
		return &AssertionError{
			Type:     AssertReplayVerified,
			Expected: "every checkpoint replays to its hash",
			Actual:   fmt.Sprintf("bad digests %v, failed checks [%s]", report.BadDigests, strings.Join(failed, ", ")),
		}
	}
	result.Verified = true
	return nil
}
