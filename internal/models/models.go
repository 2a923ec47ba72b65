// Package models holds the sample model kinds run by the CLI and the
// scenario harness: a counter, a self-rescheduling ticker and a mover with a
// spatial part.
package models

import (
	"errors"

	"github.com/roach88/island/internal/island"
)

// Kind tags.
const (
	KindCounter = "counter"
	KindTicker  = "ticker"
	KindMover   = "mover"
)

// PartSpatial is the mover's spatial sub-part.
const PartSpatial = "spatial"

// StepOffset is the ticker period in milliseconds (30 Hz).
const StepOffset = 1000 / 30

// Register defines every sample kind, its handlers and transcoders on reg.
func Register(reg *island.Registry) error {
	return errors.Join(
		registerCounter(reg),
		registerTicker(reg),
		registerMover(reg),
	)
}

// NewRegistry returns a registry with the sample kinds defined.
func NewRegistry() (*island.Registry, error) {
	reg := island.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// InitRoom is the session creation routine: counter M1, ticker M2 and
// mover M3, with the mover following the counter.
func InitRoom(ctx *island.ModelContext) error {
	c, err := island.Create[*Counter](ctx, KindCounter)
	if err != nil {
		return err
	}
	if _, err := island.Create[*Ticker](ctx, KindTicker); err != nil {
		return err
	}
	m, err := island.Create[*Mover](ctx, KindMover)
	if err != nil {
		return err
	}
	return ctx.Subscribe(c.ID(), EventChanged, island.To(m.ID()), "follow")
}
