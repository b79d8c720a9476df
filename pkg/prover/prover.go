// Package prover implements the mix operator's side of the audit protocol:
// committing to every stage's secret transform data, then opening exactly
// the positions each challenge round demands.
package prover

import (
	"golang.org/x/xerrors"

	"splitvote/pkg/board"
	"splitvote/pkg/commit"
	"splitvote/pkg/log"
	"splitvote/pkg/mix"
	"splitvote/pkg/random"
	"splitvote/pkg/serialization"
)

// Prover holds the secret transform data for one race's chain together with
// the blinding randomness of every posted commitment.
type Prover struct {
	RaceID string

	chain     *mix.Chain
	src       *random.Source
	committed bool
	blindings map[board.Coord][]byte
	answered  map[int]bool
}

// NewProver wraps a finished chain. The chain must already have run so that
// commitments are only ever made to transforms whose outputs are public.
func NewProver(raceID string, chain *mix.Chain, src *random.Source) *Prover {
	return &Prover{
		RaceID:    raceID,
		chain:     chain,
		src:       src,
		blindings: make(map[board.Coord][]byte),
		answered:  make(map[int]bool),
	}
}

// CommitmentMessage is the byte string a transform commitment binds: the
// permutation entry and rerandomization offset of one (stage, slot) position.
// Verifiers rebuild it from an opening to re-derive the digest.
func CommitmentMessage(permEntry, delta uint64) []byte {
	s := serialization.NewSerializer()
	s.WriteUint64(permEntry)
	s.WriteUint64(delta)
	data, err := s.Bytes()
	if err != nil {
		// Serializing two fixed-width integers into memory cannot fail.
		panic(err)
	}
	return data
}

// ParseCommitmentMessage decodes a commitment message back into the
// permutation entry and offset it binds.
func ParseCommitmentMessage(msg []byte) (permEntry, delta uint64, err error) {
	d := serialization.NewDeserializer(msg)
	permEntry = d.ReadUint64()
	delta = d.ReadUint64()
	return permEntry, delta, d.Err()
}

// CommitTransforms posts one commitment per (stage, slot) position, keeping
// the blinding randomness for later openings. It must run after the chain
// and before any challenge is drawn.
func (p *Prover) CommitTransforms(b *board.Board) error {
	if p.committed {
		return xerrors.Errorf("prover: race %s already committed", p.RaceID)
	}
	for _, t := range p.chain.Transforms {
		for slot := range t.Perm {
			msg := CommitmentMessage(uint64(t.Perm[slot]), t.Deltas[slot])
			digest, randomness := commit.Fresh(msg, p.src)
			if _, err := b.Append(p.RaceID, board.CommitmentPayload{
				Stage:  t.Stage,
				Slot:   slot,
				Digest: digest,
			}); err != nil {
				return xerrors.Errorf("prover: commit stage %d slot %d: %w", t.Stage, slot, err)
			}
			p.blindings[board.Coord{Stage: t.Stage, Slot: slot}] = randomness
		}
	}
	p.committed = true
	log.Debug("Prover for race %s committed %d positions", p.RaceID, len(p.blindings))
	return nil
}

// Open answers one challenge round by revealing the committed data at the
// challenged coordinates. A round can only be answered once, and duplicate
// coordinates within a round are revealed once.
func (p *Prover) Open(b *board.Board, round int, coords []board.Coord) error {
	if !p.committed {
		return xerrors.Errorf("prover: race %s opened before committing", p.RaceID)
	}
	if p.answered[round] {
		return xerrors.Errorf("prover: race %s already answered round %d", p.RaceID, round)
	}

	seen := make(map[board.Coord]bool, len(coords))
	openings := make([]board.TransformOpening, 0, len(coords))
	for _, c := range coords {
		if seen[c] {
			continue
		}
		seen[c] = true

		randomness, ok := p.blindings[c]
		if !ok {
			return xerrors.Errorf("prover: race %s has no commitment at stage %d slot %d",
				p.RaceID, c.Stage, c.Slot)
		}
		t, err := p.chain.Transform(c.Stage)
		if err != nil {
			return err
		}
		openings = append(openings, board.TransformOpening{
			Stage:      c.Stage,
			Slot:       c.Slot,
			PermEntry:  uint64(t.Perm[c.Slot]),
			Delta:      t.Deltas[c.Slot],
			Randomness: randomness,
		})
	}

	if _, err := b.Append(p.RaceID, board.OpeningPayload{
		Round:    round,
		Openings: openings,
	}); err != nil {
		return xerrors.Errorf("prover: post round %d openings: %w", round, err)
	}
	p.answered[round] = true
	return nil
}
