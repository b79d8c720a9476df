package verifier

import (
	"math"
	"sort"

	"splitvote/pkg/board"
	"splitvote/pkg/random"
	"splitvote/pkg/serialization"
)

// DeriveChallenge draws one round's challenge coordinates from the public
// audit seed and the board state. Binding the draw to the last posting's
// sequence and hash means a challenge is only valid for the exact board
// prefix it was derived from, so the prover cannot commit after seeing it.
func DeriveChallenge(snap board.Snapshot, electionID, raceID, seed string, round, stages, slots int, fraction float64) (board.ChallengePayload, error) {
	frontier := snap.Last()

	s := serialization.NewSerializer()
	s.WriteString(seed)
	s.WriteString(electionID)
	s.WriteString(raceID)
	s.WriteUint64(frontier.Sequence)
	s.WriteByteSlice(frontier.ContentHash)
	s.WriteUint64(uint64(round))
	key, err := s.Bytes()
	if err != nil {
		return board.ChallengePayload{}, err
	}

	total := stages * slots
	count := int(math.Ceil(fraction * float64(total)))
	if count < 1 {
		count = 1
	}
	if count > total {
		count = total
	}

	src := random.NewKeyedSource(key)
	picked := src.Perm(total)[:count]
	sort.Ints(picked)

	coords := make([]board.Coord, count)
	for i, idx := range picked {
		coords[i] = board.Coord{Stage: idx/slots + 1, Slot: idx % slots}
	}
	return board.ChallengePayload{
		Round:          round,
		CommitFrontier: frontier.Sequence,
		PrefixHash:     frontier.ContentHash,
		Coords:         coords,
	}, nil
}
