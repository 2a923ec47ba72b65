package models

import (
	"errors"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
)

// EventChanged is published by a counter, scoped to its id, with the new
// count.
const EventChanged = "changed"

// Counter is a replicated integer.
type Counter struct {
	island.ModelBase
	Count int64
}

// MarshalState implements island.Model.
func (c *Counter) MarshalState() (ir.IRObject, error) {
	return ir.NewIRObject(ir.O("count", ir.IRInt(c.Count))), nil
}

// UnmarshalState implements island.Model.
func (c *Counter) UnmarshalState(s ir.IRObject) error {
	n, ok := ir.AsInt(s["count"])
	if !ok {
		return errors.New("counter: count is not an integer")
	}
	c.Count = n
	return nil
}

func registerCounter(reg *island.Registry) error {
	return errors.Join(
		reg.Define(KindCounter, func() island.Model { return &Counter{} }),
		reg.On(KindCounter, "add", island.Handle(func(ctx *island.ModelContext, c *Counter, args island.Args) error {
			n, err := args.Int(0)
			if err != nil {
				return err
			}
			c.Count += n
			return ctx.Publish(c.ID(), EventChanged, ir.IRInt(c.Count))
		})),
		reg.On(KindCounter, "reset", island.Handle(func(ctx *island.ModelContext, c *Counter, _ island.Args) error {
			c.Count = 0
			return ctx.Publish(c.ID(), EventChanged, ir.IRInt(0))
		})),
	)
}
