package harness

import (
	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/models"
)

// LogEntry is one message reflected during the scenario.
type LogEntry struct {
	Seq  uint64 `json:"seq"`
	Time int64  `json:"time"`
	Msg  string `json:"msg"`
}

// ReplicaResult is the final state of one replica.
type ReplicaResult struct {
	// State is the controller state name.
	State string `json:"state"`

	// Time and Hash are empty when the replica never installed an island.
	Time int64  `json:"time"`
	Hash string `json:"hash,omitempty"`

	// ViewEvents are the events the replica's watcher saw, across
	// re-syncs.
	ViewEvents []models.ViewEvent `json:"view_events"`

	// Models maps model id to its replicated fields.
	Models map[string]ir.IRObject `json:"-"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Log is the reflector's message log, in order.
	Log []LogEntry `json:"log"`

	// Replicas maps replica name to its final state.
	Replicas map[string]ReplicaResult `json:"replicas"`

	// Verified is set by a replay_verified assertion.
	Verified bool `json:"verified,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Log:      []LogEntry{},
		Replicas: make(map[string]ReplicaResult),
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
