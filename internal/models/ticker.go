package models

import (
	"errors"

	"github.com/roach88/island/internal/ir"
	"github.com/roach88/island/internal/island"
)

// EventTick is published by a ticker, scoped to its id, after every step.
const EventTick = "tick"

// Ticker steps itself every StepOffset milliseconds and mixes a random draw
// into a running value, so any divergence in time or generator state shows
// up in its snapshot.
type Ticker struct {
	island.ModelBase
	Steps int64
	Last  int64
	Value float64
}

// Init schedules the first step.
func (t *Ticker) Init(ctx *island.ModelContext) error {
	return ctx.Future(StepOffset, island.To(t.ID()), "step")
}

// MarshalState implements island.Model.
func (t *Ticker) MarshalState() (ir.IRObject, error) {
	return ir.NewIRObject(
		ir.O("steps", ir.IRInt(t.Steps)),
		ir.O("last", ir.IRInt(t.Last)),
		ir.O("value", ir.IRFloat(t.Value)),
	), nil
}

// UnmarshalState implements island.Model.
func (t *Ticker) UnmarshalState(s ir.IRObject) error {
	var ok1, ok2, ok3 bool
	t.Steps, ok1 = ir.AsInt(s["steps"])
	t.Last, ok2 = ir.AsInt(s["last"])
	t.Value, ok3 = ir.AsFloat(s["value"])
	if !ok1 || !ok2 || !ok3 {
		return errors.New("ticker: malformed state")
	}
	return nil
}

func registerTicker(reg *island.Registry) error {
	return errors.Join(
		reg.Define(KindTicker, func() island.Model { return &Ticker{} }),
		reg.On(KindTicker, "step", island.Handle(func(ctx *island.ModelContext, t *Ticker, _ island.Args) error {
			r, err := ctx.Random()
			if err != nil {
				return err
			}
			t.Steps++
			t.Last = ctx.Now()
			t.Value = float64(t.Value*0.5) + r
			if err := ctx.Publish(t.ID(), EventTick, ir.NewIRObject(
				ir.O("steps", ir.IRInt(t.Steps)),
				ir.O("time", ir.IRInt(t.Last)),
			)); err != nil {
				return err
			}
			return ctx.Future(StepOffset, island.To(t.ID()), "step")
		})),
	)
}
