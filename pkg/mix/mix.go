// Package mix implements the server chain that shuffles and rerandomizes
// encoded ballots. Each stage applies a secret permutation and per-slot
// offsets, breaking the link between cast positions and final positions
// while preserving every encoded value.
package mix

import (
	"golang.org/x/xerrors"

	"splitvote/pkg/board"
	"splitvote/pkg/random"
	"splitvote/pkg/split"
)

// StageTransform is the secret data of one mix stage. Perm maps output slots
// to input slots: output s is a rerandomization of input Perm[s].
type StageTransform struct {
	Stage  int
	Perm   []int
	Deltas []uint64
}

// GenerateTransform draws a fresh permutation and offsets for one stage.
func GenerateTransform(stage, slots int, modulus uint64, src *random.Source) *StageTransform {
	t := &StageTransform{
		Stage:  stage,
		Perm:   src.Perm(slots),
		Deltas: make([]uint64, slots),
	}
	for s := range t.Deltas {
		t.Deltas[s] = src.Uint64n(modulus)
	}
	return t
}

// Apply runs the transform over one stage's input pairs.
func (t *StageTransform) Apply(in []split.Pair, modulus uint64) ([]split.Pair, error) {
	if len(in) != len(t.Perm) {
		return nil, xerrors.Errorf("mix: stage %d built for %d slots, got %d inputs",
			t.Stage, len(t.Perm), len(in))
	}
	out := make([]split.Pair, len(in))
	for s := range out {
		out[s] = split.Rerandomize(in[t.Perm[s]], t.Deltas[s], modulus)
	}
	return out, nil
}

// Chain is the full sequence of mix stages for one race. The transforms stay
// private to the chain; only their outputs and later their commitments reach
// the board.
type Chain struct {
	RaceID     string
	Transforms []*StageTransform
}

// NewChain builds a chain of the given number of stages, each with its own
// randomness drawn from src. Stages are numbered from 1; stage 0 is the cast
// ballots themselves.
func NewChain(raceID string, stages, slots int, modulus uint64, src *random.Source) *Chain {
	transforms := make([]*StageTransform, stages)
	for i := range transforms {
		transforms[i] = GenerateTransform(i+1, slots, modulus, src)
	}
	return &Chain{RaceID: raceID, Transforms: transforms}
}

// Run pushes the cast pairs through every stage, posting each stage's output
// to the board, and returns the final stage's pairs in slot order.
func (c *Chain) Run(b *board.Board, cast []split.Pair, modulus uint64) ([]split.Pair, error) {
	current := cast
	for _, t := range c.Transforms {
		out, err := t.Apply(current, modulus)
		if err != nil {
			return nil, err
		}
		for slot, pair := range out {
			if _, err := b.Append(c.RaceID, board.SharePayload{
				Stage: t.Stage,
				Slot:  slot,
				Pair:  pair,
			}); err != nil {
				return nil, xerrors.Errorf("mix: post stage %d slot %d: %w", t.Stage, slot, err)
			}
		}
		current = out
	}
	return current, nil
}

// Transform returns the stage's transform, with stages numbered from 1.
func (c *Chain) Transform(stage int) (*StageTransform, error) {
	if stage < 1 || stage > len(c.Transforms) {
		return nil, xerrors.Errorf("mix: no stage %d in a %d-stage chain", stage, len(c.Transforms))
	}
	return c.Transforms[stage-1], nil
}
