package island

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/rng"
)

// State is the replicated state of an island.
//
// View subscriptions and pending view events are local to a replica and are
// not part of it.
type State struct {
	Version       string              `json:"version"`
	ID            string              `json:"id"`
	Time          int64               `json:"time"`
	Seq           uint64              `json:"seq"`
	ExternalSeq   uint64              `json:"external_seq"`
	NextModelID   uint64              `json:"next_model_id"`
	RNG           string              `json:"rng"`
	Models        []ModelState        `json:"models"`
	Messages      []MessageState      `json:"messages"`
	Subscriptions []SubscriptionState `json:"subscriptions"`
}

// ModelState is one model's entry: its kind tag, id and own fields.
type ModelState struct {
	ID    string      `json:"id"`
	Kind  string      `json:"kind"`
	State ir.IRObject `json:"state"`
}

// MessageState is one queued message in wire form.
type MessageState struct {
	Time int64  `json:"time"`
	Seq  uint64 `json:"seq"`
	Msg  string `json:"msg"`
}

// SubscriptionState is one model subscription.
type SubscriptionState struct {
	Topic    string `json:"topic"`
	Receiver string `json:"receiver"`
	Part     string `json:"part,omitempty"`
	Selector string `json:"selector"`
}

// AsState captures the island's replicated state. Entries are ordered
// (models by creation, messages by key, subscriptions by topic then
// registration) so equal islands yield equal states.
func (i *Island) AsState() (*State, error) {
	if i.realm.current == RealmModel {
		return nil, realmError(i.id, "snapshot taken from model realm")
	}
	rngState, err := i.rng.State()
	if err != nil {
		return nil, err
	}

	s := &State{
		Version:       ir.SnapshotVersion,
		ID:            i.id,
		Time:          i.time,
		Seq:           i.seq,
		ExternalSeq:   i.externalSeq,
		NextModelID:   i.nextModelID,
		RNG:           rngState,
		Models:        make([]ModelState, 0, len(i.order)),
		Messages:      make([]MessageState, 0, i.queue.Len()),
		Subscriptions: []SubscriptionState{},
	}

	for _, id := range i.order {
		m := i.models[id]
		fields, err := m.MarshalState()
		if err != nil {
			return nil, fmt.Errorf("snapshot model %s: %w", id, err)
		}
		if fields == nil {
			fields = ir.IRObject{}
		}
		s.Models = append(s.Models, ModelState{ID: id, Kind: m.Kind(), State: fields})
	}

	for _, m := range i.queue.Messages() {
		payload, err := EncodeMessage(i.reg, m)
		if err != nil {
			return nil, fmt.Errorf("snapshot message %d/%d: %w", m.time, m.seq, err)
		}
		s.Messages = append(s.Messages, MessageState{Time: m.time, Seq: m.seq, Msg: payload})
	}

	topics := make([]string, 0, len(i.modelSubs))
	for t := range i.modelSubs {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	for _, topic := range topics {
		for _, sub := range i.modelSubs[topic] {
			s.Subscriptions = append(s.Subscriptions, SubscriptionState{
				Topic:    topic,
				Receiver: sub.target.Receiver,
				Part:     sub.target.Part,
				Selector: sub.selector,
			})
		}
	}
	return s, nil
}

// FromState rebuilds an island from a snapshot.
//
// Restore is two-pass: every model is instantiated and loads its own fields,
// then models implementing Resolver re-link references by id.
func FromState(reg *Registry, s *State, opts ...Option) (*Island, error) {
	if s.Version != ir.SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %q, want %q", s.Version, ir.SnapshotVersion)
	}
	src, err := rng.FromState(s.RNG)
	if err != nil {
		return nil, err
	}

	i := newIsland(s.ID, reg, opts...)
	i.time = s.Time
	i.seq = s.Seq
	i.externalSeq = s.ExternalSeq
	i.nextModelID = s.NextModelID
	i.rng = src

	for _, ms := range s.Models {
		if _, dup := i.models[ms.ID]; dup {
			return nil, fmt.Errorf("snapshot has duplicate model %s", ms.ID)
		}
		if n, ok := modelNumber(ms.ID); !ok || n > s.NextModelID {
			return nil, fmt.Errorf("snapshot model id %s is out of range (next_model_id=%d)", ms.ID, s.NextModelID)
		}
		m, err := reg.Decode(ms.Kind, ms.ID, ms.State)
		if err != nil {
			return nil, err
		}
		i.models[ms.ID] = m
		i.order = append(i.order, ms.ID)
	}

	refs := refTable(i.models)
	for _, id := range i.order {
		if r, ok := i.models[id].(Resolver); ok {
			if err := r.ResolveRefs(refs); err != nil {
				return nil, fmt.Errorf("resolve refs %s: %w", id, err)
			}
		}
	}

	msgs := make([]Message, 0, len(s.Messages))
	for _, ms := range s.Messages {
		if ms.Time < s.Time {
			return nil, causalityError(s.ID, ms.Time, s.Time)
		}
		if ms.Seq > s.Seq {
			return nil, fmt.Errorf("snapshot message seq %d exceeds island seq %d", ms.Seq, s.Seq)
		}
		m, err := DecodeMessage(reg, ms.Msg)
		if err != nil {
			return nil, fmt.Errorf("restore message %d/%d: %w", ms.Time, ms.Seq, err)
		}
		msgs = append(msgs, m.at(ms.Time, ms.Seq))
	}
	i.queue.load(msgs)

	for _, sub := range s.Subscriptions {
		t := Target{Receiver: sub.Receiver, Part: sub.Part}
		i.modelSubs[sub.Topic] = append(i.modelSubs[sub.Topic], modelSub{target: t, selector: sub.Selector})
	}
	return i, nil
}

type refTable map[string]Model

func (r refTable) Lookup(id string) (Model, bool) {
	m, ok := r[id]
	return m, ok
}

// Marshal encodes the state as compact JSON. Equal states encode to equal
// bytes: field order is fixed and model fields use canonical JSON.
func (s *State) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Hash returns the domain-separated SHA-256 of the marshaled state.
func (s *State) Hash() (string, error) {
	data, err := s.Marshal()
	if err != nil {
		return "", err
	}
	return ir.SnapshotHash(data), nil
}

// ParseState decodes a snapshot produced by Marshal.
func ParseState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &s, nil
}

// Snapshot returns the marshaled state.
func (i *Island) Snapshot() ([]byte, error) {
	s, err := i.AsState()
	if err != nil {
		return nil, err
	}
	return s.Marshal()
}

// Hash returns the snapshot hash of the current state.
func (i *Island) Hash() (string, error) {
	s, err := i.AsState()
	if err != nil {
		return "", err
	}
	return s.Hash()
}

// modelNumber parses the numeric suffix of a model id.
func modelNumber(id string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(id, "M"), 10, 64)
	return n, err == nil
}
