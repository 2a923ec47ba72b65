// Package rng provides the seeded generator used inside model code.
//
// Every replica draws the same sequence because the generator state travels
// in the snapshot.
package rng

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
)

// Source is a deterministic PCG generator with serializable state.
type Source struct {
	pcg *rand.PCG
	r   *rand.Rand
}

// New creates a Source from a 64-bit seed.
func New(seed uint64) *Source {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Source{pcg: pcg, r: rand.New(pcg)}
}

// Uint64 returns the next raw 64-bit value.
func (s *Source) Uint64() uint64 {
	return s.pcg.Uint64()
}

// Float64 returns a value in [0.0, 1.0).
func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// IntN returns a value in [0, n). Panics if n <= 0.
func (s *Source) IntN(n int) int {
	return s.r.IntN(n)
}

// State returns the generator state as a hex string.
func (s *Source) State() (string, error) {
	b, err := s.pcg.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("rng state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Restore replaces the generator state with one produced by State.
func (s *Source) Restore(state string) error {
	b, err := hex.DecodeString(state)
	if err != nil {
		return fmt.Errorf("rng state: %w", err)
	}
	if err := s.pcg.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("rng state: %w", err)
	}
	return nil
}

// FromState creates a Source positioned at a saved state.
func FromState(state string) (*Source, error) {
	s := New(0)
	if err := s.Restore(state); err != nil {
		return nil, err
	}
	return s, nil
}
