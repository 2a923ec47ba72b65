package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSession is used when a scenario names none.
const DefaultSession = "room"

// Scenario is a multi-replica test.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is the session id. Default: DefaultSession.
	Session string `yaml:"session,omitempty"`

	// Replicas lists the client ids taking part.
	Replicas []string `yaml:"replicas"`

	// Watch lists the "scope:event" topics each replica's watcher records.
	// Default: the counter's change events.
	Watch []string `yaml:"watch,omitempty"`

	// SnapshotIntervalMS makes the reflector collect checkpoints. Zero
	// disables them.
	SnapshotIntervalMS int64 `yaml:"snapshot_interval_ms,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Join       string    `yaml:"join,omitempty"`
	Disconnect string    `yaml:"disconnect,omitempty"`
	Reconnect  string    `yaml:"reconnect,omitempty"`
	Advance    int64     `yaml:"advance,omitempty"`
	Send       *SendStep `yaml:"send,omitempty"`
}

// SendStep sends a message from a replica's view.
type SendStep struct {
	From string `yaml:"from"`

	// Target form.
	To       string `yaml:"to,omitempty"`
	Part     string `yaml:"part,omitempty"`
	Selector string `yaml:"selector,omitempty"`
	Args     []any  `yaml:"args,omitempty"`

	// Payload is a raw wire message, sent as is.
	Payload string `yaml:"payload,omitempty"`

	// ExpectError marks a send that must fail locally, e.g. while
	// disconnected.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// Assertion validates the final result.
type Assertion struct {
	Type string `yaml:"type"`

	// Replica is the replica checked (model_state, time, view_events,
	// controller_state).
	Replica string `yaml:"replica,omitempty"`

	// Replicas narrows converged. Default: all.
	Replicas []string `yaml:"replicas,omitempty"`

	// Model and Expect are used by model_state; Expect is a subset match.
	Model  string         `yaml:"model,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Time is used by time.
	Time *int64 `yaml:"time,omitempty"`

	// Topic, Count and Data are used by view_events.
	Topic string   `yaml:"topic,omitempty"`
	Count *int     `yaml:"count,omitempty"`
	Data  []string `yaml:"data,omitempty"`

	// State is used by controller_state.
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged       = "converged"
	AssertModelState      = "model_state"
	AssertTime            = "time"
	AssertViewEvents      = "view_events"
	AssertControllerState = "controller_state"
	AssertReplayVerified  = "replay_verified"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Session == "" {
		scenario.Session = DefaultSession
	}
	if len(scenario.Watch) == 0 {
		scenario.Watch = []string{"M1:changed"}
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.SnapshotIntervalMS < 0 {
		return fmt.Errorf("snapshot_interval_ms must be non-negative")
	}

	known := make(map[string]bool, len(s.Replicas))
	for i, r := range s.Replicas {
		if r == "" {
			return fmt.Errorf("replicas[%d]: empty name", i)
		}
		if known[r] {
			return fmt.Errorf("replicas[%d]: duplicate name %q", i, r)
		}
		known[r] = true
	}
	for i, topic := range s.Watch {
		if scope, event, ok := strings.Cut(topic, ":"); !ok || scope == "" || event == "" {
			return fmt.Errorf("watch[%d]: %q is not scope:event", i, topic)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, known); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, known); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, known map[string]bool) error {
	set := 0
	var name string
	for _, n := range []string{st.Join, st.Disconnect, st.Reconnect} {
		if n != "" {
			set++
			name = n
		}
	}
	if st.Advance != 0 {
		set++
	}
	if st.Send != nil {
		set++
		name = st.Send.From
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of join, disconnect, reconnect, advance, send is required", index)
	}
	if st.Advance < 0 {
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}
	if st.Advance == 0 && !known[name] {
		return fmt.Errorf("steps[%d]: unknown replica %q", index, name)
	}
	if s := st.Send; s != nil {
		hasTarget := s.To != "" || s.Selector != ""
		if hasTarget == (s.Payload != "") {
			return fmt.Errorf("steps[%d].send: either to/selector or payload is required", index)
		}
		if hasTarget && (s.To == "" || s.Selector == "") {
			return fmt.Errorf("steps[%d].send: to and selector are both required", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, known map[string]bool) error {
	needReplica := func() error {
		if !known[a.Replica] {
			return fmt.Errorf("assertions[%d]: unknown replica %q for %s", index, a.Replica, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertConverged:
		for _, r := range a.Replicas {
			if !known[r] {
				return fmt.Errorf("assertions[%d]: unknown replica %q", index, r)
			}
		}
	case AssertModelState:
		if err := needReplica(); err != nil {
			return err
		}
		if a.Model == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: model and expect are required for model_state", index)
		}
	case AssertTime:
		if err := needReplica(); err != nil {
			return err
		}
		if a.Time == nil {
			return fmt.Errorf("assertions[%d]: time is required", index)
		}
	case AssertViewEvents:
		if err := needReplica(); err != nil {
			return err
		}
		if a.Topic == "" {
			return fmt.Errorf("assertions[%d]: topic is required for view_events", index)
		}
		if a.Count == nil && a.Data == nil {
			return fmt.Errorf("assertions[%d]: count or data is required for view_events", index)
		}
	case AssertControllerState:
		if err := needReplica(); err != nil {
			return err
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required", index)
		}
	case AssertReplayVerified:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
