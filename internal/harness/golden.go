package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/island/internal/ir"
)

// toCanonicalMap converts a result to a map[string]any for canonical JSON
// serialization. Hashes and model states are left out: they are covered by
// the converged and model_state assertions, and would make golden files
// churn on every snapshot format change.
func toCanonicalMap(name string, result *Result) map[string]any {
	log := make([]any, len(result.Log))
	for i, e := range result.Log {
		log[i] = map[string]any{
			"seq":  int64(e.Seq),
			"time": e.Time,
			"msg":  e.Msg,
		}
	}

	replicas := make(map[string]any, len(result.Replicas))
	for rname, r := range result.Replicas {
		events := make([]any, len(r.ViewEvents))
		for i, e := range r.ViewEvents {
			events[i] = map[string]any{
				"view":  e.View,
				"topic": e.Topic,
				"time":  e.Time,
				"data":  e.Data,
			}
		}
		replicas[rname] = map[string]any{
			"state":       r.State,
			"time":        r.Time,
			"view_events": events,
		}
	}

	return map[string]any{
		"scenario": name,
		"log":      log,
		"replicas": replicas,
	}
}

// GoldenSnapshot renders the golden form of a result: canonical JSON of
// the scenario name, the reflected log and each replica's state, time and
// view events.
func GoldenSnapshot(name string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(toCanonicalMap(name, result))
}

// RunWithGolden executes a scenario and compares its log and replica
// views against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can assert on it further.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := GoldenSnapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
