package models

import (
	"errors"
	"fmt"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
)

// Vec3 is a position or displacement.
type Vec3 struct{ X, Y, Z float64 }

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Quat is a rotation quaternion.
type Quat struct{ X, Y, Z, W float64 }

// Identity is the zero rotation.
var Identity = Quat{W: 1}

// Spatial is the mover's spatial part.
type Spatial struct {
	Position Vec3
	Rotation Quat
}

// Mover is a composite model whose "spatial" part receives movement
// messages.
type Mover struct {
	island.ModelBase
	Spatial *Spatial
}

func newMover() island.Model {
	return &Mover{Spatial: &Spatial{Rotation: Identity}}
}

// Part implements island.Composite.
func (m *Mover) Part(name string) (any, bool) {
	if name == PartSpatial {
		return m.Spatial, true
	}
	return nil, false
}

// MarshalState implements island.Model.
func (m *Mover) MarshalState() (ir.IRObject, error) {
	p, r := m.Spatial.Position, m.Spatial.Rotation
	return ir.NewIRObject(
		ir.O("position", floats(p.X, p.Y, p.Z)),
		ir.O("rotation", floats(r.X, r.Y, r.Z, r.W)),
	), nil
}

// UnmarshalState implements island.Model.
func (m *Mover) UnmarshalState(s ir.IRObject) error {
	p, err := unfloats(s["position"], 3)
	if err != nil {
		return fmt.Errorf("mover position: %w", err)
	}
	r, err := unfloats(s["rotation"], 4)
	if err != nil {
		return fmt.Errorf("mover rotation: %w", err)
	}
	m.Spatial = &Spatial{
		Position: Vec3{p[0], p[1], p[2]},
		Rotation: Quat{r[0], r[1], r[2], r[3]},
	}
	return nil
}

func floats(fs ...float64) ir.IRArray {
	out := make(ir.IRArray, len(fs))
	for i, f := range fs {
		out[i] = ir.IRFloat(f)
	}
	return out
}

func unfloats(v ir.IRValue, n int) ([]float64, error) {
	arr, ok := v.(ir.IRArray)
	if !ok || len(arr) != n {
		return nil, fmt.Errorf("want %d numbers", n)
	}
	out := make([]float64, n)
	for i, e := range arr {
		f, ok := ir.AsFloat(e)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = f
	}
	return out, nil
}

// Vec3Transcoder packs Vec3 arguments as flat number triples.
var Vec3Transcoder = componentTranscoder[Vec3]{
	width: 3,
	split: func(v Vec3) []float64 { return []float64{v.X, v.Y, v.Z} },
	join:  func(f []float64) Vec3 { return Vec3{f[0], f[1], f[2]} },
}

// QuatTranscoder packs Quat arguments as flat number quadruples.
var QuatTranscoder = componentTranscoder[Quat]{
	width: 4,
	split: func(q Quat) []float64 { return []float64{q.X, q.Y, q.Z, q.W} },
	join:  func(f []float64) Quat { return Quat{f[0], f[1], f[2], f[3]} },
}

// componentTranscoder flattens fixed-width numeric structs.
type componentTranscoder[T any] struct {
	width int
	split func(T) []float64
	join  func([]float64) T
}

// Encode implements island.Transcoder.
func (c componentTranscoder[T]) Encode(args []any) (ir.IRArray, error) {
	out := make(ir.IRArray, 0, len(args)*c.width)
	for i, a := range args {
		v, ok := a.(T)
		if !ok {
			var zero T
			return nil, &island.Error{
				Code:    island.ErrCodeMalformedMessage,
				Message: fmt.Sprintf("argument %d: want %T, got %T", i, zero, a),
			}
		}
		out = append(out, floats(c.split(v)...)...)
	}
	return out, nil
}

// Decode implements island.Transcoder.
func (c componentTranscoder[T]) Decode(args ir.IRArray) ([]any, error) {
	if len(args)%c.width != 0 {
		return nil, &island.Error{
			Code:    island.ErrCodeMalformedMessage,
			Message: fmt.Sprintf("%d numbers is not a multiple of %d", len(args), c.width),
		}
	}
	out := make([]any, 0, len(args)/c.width)
	for i := 0; i < len(args); i += c.width {
		f, err := unfloats(args[i:i+c.width], c.width)
		if err != nil {
			return nil, &island.Error{Code: island.ErrCodeMalformedMessage, Message: err.Error()}
		}
		out = append(out, c.join(f))
	}
	return out, nil
}

func arg[T any](args island.Args, i int) (T, error) {
	v, ok := args.Value(i).(T)
	if !ok {
		var zero T
		return zero, &island.Error{
			Code:    island.ErrCodeMalformedMessage,
			Message: fmt.Sprintf("argument %d: want %T, got %T", i, zero, args.Value(i)),
		}
	}
	return v, nil
}

func registerMover(reg *island.Registry) error {
	err := errors.Join(
		reg.Define(KindMover, newMover),
		reg.OnPart(KindMover, PartSpatial, "moveTo", island.Handle(func(_ *island.ModelContext, s *Spatial, args island.Args) error {
			v, err := arg[Vec3](args, 0)
			if err != nil {
				return err
			}
			s.Position = v
			return nil
		})),
		reg.OnPart(KindMover, PartSpatial, "nudge", island.Handle(func(_ *island.ModelContext, s *Spatial, args island.Args) error {
			v, err := arg[Vec3](args, 0)
			if err != nil {
				return err
			}
			s.Position = s.Position.Add(v)
			return nil
		})),
		reg.OnPart(KindMover, PartSpatial, "rotateTo", island.Handle(func(_ *island.ModelContext, s *Spatial, args island.Args) error {
			q, err := arg[Quat](args, 0)
			if err != nil {
				return err
			}
			s.Rotation = q
			return nil
		})),
		// follow tracks a counter: x is the count.
		reg.On(KindMover, "follow", island.Handle(func(_ *island.ModelContext, m *Mover, args island.Args) error {
			n, err := args.Int(0)
			if err != nil {
				return err
			}
			m.Spatial.Position.X = float64(n)
			return nil
		})),
		// wander nudges by a random step on the ground plane.
		reg.On(KindMover, "wander", island.Handle(func(ctx *island.ModelContext, m *Mover, _ island.Args) error {
			dx, err := ctx.Random()
			if err != nil {
				return err
			}
			dz, err := ctx.Random()
			if err != nil {
				return err
			}
			return ctx.Future(0, island.To(m.ID(), PartSpatial), "nudge", Vec3{X: dx - 0.5, Z: dz - 0.5})
		})),
	)
	if err != nil {
		return err
	}
	// rotateTo has its own entry; every other spatial selector carries Vec3.
	reg.SetTranscoder(PartSpatial, "rotateTo", QuatTranscoder)
	reg.SetTranscoder(PartSpatial, "", Vec3Transcoder)
	return nil
}
