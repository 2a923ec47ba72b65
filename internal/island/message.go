package island

import (
	"cmp"
	"strings"
)

// Target addresses a model or one of its parts.
type Target struct {
	Receiver string
	Part     string
}

// To builds a Target. Part segments are joined with "/".
func To(receiver string, part ...string) Target {
	return Target{Receiver: receiver, Part: strings.Join(part, "/")}
}

// String renders the target as "receiver" or "receiver/part".
func (t Target) String() string {
	if t.Part == "" {
		return t.Receiver
	}
	return t.Receiver + "/" + t.Part
}

// Message is a deferred call into model state.
//
// The (time, seq) key is fixed at construction; there are no setters.
type Message struct {
	time     int64
	seq      uint64
	target   Target
	selector string
	args     Args
}

// NewMessage constructs a message at the given ordering key.
func NewMessage(time int64, seq uint64, target Target, selector string, args ...any) Message {
	return Message{
		time:     time,
		seq:      seq,
		target:   target,
		selector: selector,
		args:     Args(args),
	}
}

// at returns a copy keyed at (time, seq).
func (m Message) at(time int64, seq uint64) Message {
	m.time = time
	m.seq = seq
	return m
}

func (m Message) Time() int64      { return m.time }
func (m Message) Seq() uint64      { return m.seq }
func (m Message) Target() Target   { return m.target }
func (m Message) Receiver() string { return m.target.Receiver }
func (m Message) Part() string     { return m.target.Part }
func (m Message) Selector() string { return m.selector }

// Args returns a copy of the argument list.
func (m Message) Args() Args {
	out := make(Args, len(m.args))
	copy(out, m.args)
	return out
}

// Compare orders messages by (time, seq).
func (m Message) Compare(o Message) int {
	if c := cmp.Compare(m.time, o.time); c != 0 {
		return c
	}
	return cmp.Compare(m.seq, o.seq)
}

// Less reports whether m sorts before o.
func (m Message) Less(o Message) bool {
	return m.Compare(o) < 0
}
