// Package protocol defines the reflector wire frames.
//
// Every frame is a JSON object {id, action, args}. id is the session id;
// args depends on the action.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Action names a frame type.
type Action string

const (
	// ActionJoin registers a client in a session (client → reflector).
	ActionJoin Action = "JOIN"
	// ActionStart tells a new session's first client to run its init
	// routine (reflector → client).
	ActionStart Action = "START"
	// ActionSend asks the reflector to order and broadcast a message
	// (client → reflector).
	ActionSend Action = "SEND"
	// ActionRecv carries an ordered message (reflector → client).
	ActionRecv Action = "RECV"
	// ActionTick advances virtual time (reflector → client).
	ActionTick Action = "TICK"
	// ActionServe asks a client for its snapshot (reflector → client).
	ActionServe Action = "SERVE"
	// ActionSync carries a snapshot. A client sends it in reply to SERVE;
	// the reflector forwards it to the joining client.
	ActionSync Action = "SYNC"
	// ActionSnap carries a snapshot checkpoint for persistence
	// (client → reflector, in reply to SERVE{reply: SNAP}).
	ActionSnap Action = "SNAP"
)

// Frame is one protocol message.
type Frame struct {
	ID     string          `json:"id"`
	Action Action          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// JoinArgs is the JOIN payload.
type JoinArgs struct {
	Time   int64  `json:"time"`
	Client string `json:"client,omitempty"`
}

// StartArgs is the optional START payload: the reflector's position when
// the session (re)started. A client holding an island from before a
// reconnect resumes from Seq.
type StartArgs struct {
	Time int64  `json:"time"`
	Seq  uint64 `json:"seq"`
}

// SendArgs is the SEND payload.
type SendArgs struct {
	Msg string `json:"msg"`
}

// RecvArgs is the RECV payload. Seq is the reflector's per-session
// sequence number.
type RecvArgs struct {
	Time int64  `json:"time"`
	Seq  uint64 `json:"seq"`
	Msg  string `json:"msg"`
}

// TickArgs is the TICK payload.
type TickArgs struct {
	Time int64 `json:"time"`
}

// ServeArgs is the SERVE payload. Reply names the action to answer with;
// To identifies the joining client the snapshot is for.
type ServeArgs struct {
	Reply Action `json:"reply"`
	To    string `json:"to,omitempty"`
}

// Anchor is the position of a snapshot in the reflected stream.
// Messages with a greater Seq were not applied to it.
type Anchor struct {
	Time int64  `json:"time"`
	Seq  uint64 `json:"seq"`
}

// SyncArgs is the SYNC payload. Backlog holds messages reflected after the
// snapshot was taken, added by the reflector when forwarding.
type SyncArgs struct {
	To       string          `json:"to,omitempty"`
	Snapshot json.RawMessage `json:"snapshot"`
	Anchor   Anchor          `json:"anchor"`
	Backlog  []RecvArgs      `json:"backlog,omitempty"`
}

// SnapArgs is the SNAP payload.
type SnapArgs struct {
	Time     int64           `json:"time"`
	Seq      uint64          `json:"seq"`
	Hash     string          `json:"hash"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// NewFrame builds a frame, marshaling args.
func NewFrame(id string, action Action, args any) (Frame, error) {
	f := Frame{ID: id, Action: action}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return Frame{}, fmt.Errorf("%s args: %w", action, err)
		}
		f.Args = data
	}
	return f, nil
}

// MustFrame is like NewFrame but panics on error.
// Use only with args types that always marshal.
func MustFrame(id string, action Action, args any) Frame {
	f, err := NewFrame(id, action, args)
	if err != nil {
		panic(err)
	}
	return f
}

// DecodeArgs unmarshals the frame's args into v.
func (f Frame) DecodeArgs(v any) error {
	if len(f.Args) == 0 {
		return fmt.Errorf("%s frame has no args", f.Action)
	}
	if err := json.Unmarshal(f.Args, v); err != nil {
		return fmt.Errorf("%s args: %w", f.Action, err)
	}
	return nil
}

// Encode marshals the frame.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame and checks the action is known.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if !f.Action.Valid() {
		return Frame{}, fmt.Errorf("decode frame: unknown action %q", f.Action)
	}
	return f, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionJoin, ActionStart, ActionSend, ActionRecv, ActionTick, ActionServe, ActionSync, ActionSnap:
		return true
	}
	return false
}
