package island

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/island/internal/ir"
)

// stepOffset is a 30 Hz step in milliseconds.
const stepOffset = 1000 / 30

type counter struct {
	ModelBase
	count int64
	seen  []int64
}

func (c *counter) MarshalState() (ir.IRObject, error) {
	seen := make(ir.IRArray, len(c.seen))
	for i, v := range c.seen {
		seen[i] = ir.IRInt(v)
	}
	return ir.IRObject{"count": ir.IRInt(c.count), "seen": seen}, nil
}

func (c *counter) UnmarshalState(s ir.IRObject) error {
	c.count, _ = ir.AsInt(s["count"])
	c.seen = nil
	arr, _ := s["seen"].(ir.IRArray)
	for _, v := range arr {
		n, _ := ir.AsInt(v)
		c.seen = append(c.seen, n)
	}
	return nil
}

type ticker struct {
	ModelBase
	fired []int64
	draws []float64
}

func (t *ticker) Init(ctx *ModelContext) error {
	return ctx.Future(stepOffset, To(t.ID()), "step")
}

func (t *ticker) MarshalState() (ir.IRObject, error) {
	fired := make(ir.IRArray, len(t.fired))
	for i, v := range t.fired {
		fired[i] = ir.IRInt(v)
	}
	draws := make(ir.IRArray, len(t.draws))
	for i, v := range t.draws {
		draws[i] = ir.IRFloat(v)
	}
	return ir.IRObject{"fired": fired, "draws": draws}, nil
}

func (t *ticker) UnmarshalState(s ir.IRObject) error {
	t.fired, t.draws = nil, nil
	fired, _ := s["fired"].(ir.IRArray)
	for _, v := range fired {
		n, _ := ir.AsInt(v)
		t.fired = append(t.fired, n)
	}
	draws, _ := s["draws"].(ir.IRArray)
	for _, v := range draws {
		f, _ := ir.AsFloat(v)
		t.draws = append(t.draws, f)
	}
	return nil
}

// linked references another model by id and re-links it on restore.
type linked struct {
	ModelBase
	peerID string
	peer   *counter
}

func (l *linked) MarshalState() (ir.IRObject, error) {
	return ir.IRObject{"peer": ir.IRString(l.peerID)}, nil
}

func (l *linked) UnmarshalState(s ir.IRObject) error {
	l.peerID, _ = ir.AsString(s["peer"])
	return nil
}

func (l *linked) ResolveRefs(refs Refs) error {
	m, ok := refs.Lookup(l.peerID)
	if !ok {
		return unknownReceiver(l.peerID, "")
	}
	l.peer = m.(*counter)
	return nil
}

type vec3 struct{ X, Y, Z float64 }

type spatial struct {
	pos vec3
}

// body is a composite model with a "spatial" part.
type body struct {
	ModelBase
	spatial *spatial
}

func (b *body) Part(name string) (any, bool) {
	if name == "spatial" {
		return b.spatial, true
	}
	return nil, false
}

func (b *body) MarshalState() (ir.IRObject, error) {
	p := b.spatial.pos
	return ir.IRObject{"pos": ir.IRArray{ir.IRFloat(p.X), ir.IRFloat(p.Y), ir.IRFloat(p.Z)}}, nil
}

func (b *body) UnmarshalState(s ir.IRObject) error {
	arr, _ := s["pos"].(ir.IRArray)
	if len(arr) != 3 {
		return malformed("pos needs 3 components")
	}
	x, _ := ir.AsFloat(arr[0])
	y, _ := ir.AsFloat(arr[1])
	z, _ := ir.AsFloat(arr[2])
	b.spatial.pos = vec3{x, y, z}
	return nil
}

var vec3Transcoder = TranscoderFuncs{
	EncodeFunc: func(args []any) (ir.IRArray, error) {
		out := make(ir.IRArray, 0, len(args)*3)
		for _, a := range args {
			v, ok := a.(vec3)
			if !ok {
				return nil, malformed("want vec3, got %T", a)
			}
			out = append(out, ir.IRFloat(v.X), ir.IRFloat(v.Y), ir.IRFloat(v.Z))
		}
		return out, nil
	},
	DecodeFunc: func(args ir.IRArray) ([]any, error) {
		if len(args)%3 != 0 {
			return nil, malformed("vec3 args need multiples of 3")
		}
		var out []any
		for i := 0; i < len(args); i += 3 {
			x, _ := ir.AsFloat(args[i])
			y, _ := ir.AsFloat(args[i+1])
			z, _ := ir.AsFloat(args[i+2])
			out = append(out, vec3{x, y, z})
		}
		return out, nil
	},
}

type sentinel struct {
	ModelBase
}

func (*sentinel) MarshalState() (ir.IRObject, error) { return ir.IRObject{}, nil }
func (*sentinel) UnmarshalState(ir.IRObject) error   { return nil }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()

	require.NoError(t, reg.Define("counter", func() Model { return &counter{} }))
	require.NoError(t, reg.On("counter", "add", Handle(func(ctx *ModelContext, c *counter, args Args) error {
		n, err := args.Int(0)
		if err != nil {
			return err
		}
		c.count += n
		return ctx.Publish(c.ID(), "changed", ir.IRInt(c.count))
	})))
	require.NoError(t, reg.On("counter", "noted", Handle(func(ctx *ModelContext, c *counter, args Args) error {
		n, err := args.Int(0)
		if err != nil {
			return err
		}
		c.seen = append(c.seen, n)
		return nil
	})))

	require.NoError(t, reg.Define("ticker", func() Model { return &ticker{} }))
	require.NoError(t, reg.On("ticker", "step", Handle(func(ctx *ModelContext, tk *ticker, args Args) error {
		tk.fired = append(tk.fired, ctx.Now())
		r, err := ctx.Random()
		if err != nil {
			return err
		}
		tk.draws = append(tk.draws, r)
		return ctx.Future(stepOffset, To(tk.ID()), "step")
	})))

	require.NoError(t, reg.Define("linked", func() Model { return &linked{} }))

	require.NoError(t, reg.Define("body", func() Model { return &body{spatial: &spatial{}} }))
	require.NoError(t, reg.OnPart("body", "spatial", "moveTo", Handle(func(ctx *ModelContext, s *spatial, args Args) error {
		v, ok := args.Value(0).(vec3)
		if !ok {
			return malformed("moveTo wants vec3, got %T", args.Value(0))
		}
		s.pos = v
		return nil
	})))
	reg.SetTranscoder("spatial", "moveTo", vec3Transcoder)

	require.NoError(t, reg.Define("sentinel", func() Model { return &sentinel{} }))
	return reg
}

// setupRoom creates counter M1 and ticker M2.
func setupRoom(t *testing.T, isl *Island) (*counter, *ticker) {
	t.Helper()
	var c *counter
	var tk *ticker
	require.NoError(t, isl.Init(func(ctx *ModelContext) error {
		var err error
		if c, err = Create[*counter](ctx, "counter"); err != nil {
			return err
		}
		tk, err = Create[*ticker](ctx, "ticker")
		return err
	}))
	return c, tk
}

type recordingSender struct {
	payloads []string
}

func (s *recordingSender) Send(payload string) error {
	s.payloads = append(s.payloads, payload)
	return nil
}
