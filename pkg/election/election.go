// Package election orchestrates a full simulated election: setup, casting,
// mixing, tallying, and the commit/challenge/open audit protocol, all of it
// posted to one bulletin board.
package election

import (
	"fmt"

	"golang.org/x/xerrors"

	"splitvote/pkg/board"
	"splitvote/pkg/commit"
	"splitvote/pkg/concurrency"
	"splitvote/pkg/config"
	opcontext "splitvote/pkg/context"
	"splitvote/pkg/log"
	"splitvote/pkg/mix"
	"splitvote/pkg/prover"
	"splitvote/pkg/random"
	"splitvote/pkg/split"
	"splitvote/pkg/tally"
	"splitvote/pkg/verifier"
)

// writeinNames is the pool of names random voters write in.
var writeinNames = []string{
	"Donald Duck",
	"Mickey Mouse",
	"Lizard People",
	"Santa Claus",
}

// writeinRecord is the secret side of one write-in commitment, kept by the
// election until reveal time.
type writeinRecord struct {
	slot       int
	text       string
	randomness []byte
	commitment []byte
}

// raceState holds everything the election accumulates for one race.
type raceState struct {
	race       config.Race
	castPairs  []split.Pair
	castValues []uint64
	writeins   []writeinRecord
	chain      *mix.Chain
	prover     *prover.Prover
	finalPairs []split.Pair
	counts     map[string]uint64
}

// Election is one simulated election run against a fresh board.
type Election struct {
	cfg       *config.Config
	reg       *random.Registry
	Board     *board.Board
	ballotIDs []string
	races     map[string]*raceState
	cast      int
}

// New validates the configuration, opens a board, and posts the race and
// voter setup records.
func New(cfg *config.Config) (*Election, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b, err := board.NewBoard(board.OpenPayload{
		ElectionID: cfg.ElectionID,
		Modulus:    cfg.Modulus,
		Stages:     cfg.Stages,
	})
	if err != nil {
		return nil, err
	}

	e := &Election{
		cfg:   cfg,
		reg:   random.NewRegistry(cfg.Seed),
		Board: b,
		races: make(map[string]*raceState, len(cfg.Races)),
	}

	setup := board.RaceSetupPayload{}
	for _, race := range cfg.Races {
		e.races[race.ID] = &raceState{race: race}
		setup.Races = append(setup.Races, board.RaceSetup{
			ID:           race.ID,
			Choices:      race.Choices,
			AllowWritein: race.AllowWritein,
		})
	}
	if _, err := b.Append("", setup); err != nil {
		return nil, err
	}

	idSrc := e.reg.Source("ballot-ids")
	e.ballotIDs = make([]string, cfg.Voters)
	seen := make(map[string]bool, cfg.Voters)
	for i := range e.ballotIDs {
		id := idSrc.Hex(cfg.BallotIDLen)
		for seen[id] {
			id = idSrc.Hex(cfg.BallotIDLen)
		}
		seen[id] = true
		e.ballotIDs[i] = id
	}
	if _, err := b.Append("", board.VoterSetupPayload{
		Count:     cfg.Voters,
		BallotIDs: e.ballotIDs,
	}); err != nil {
		return nil, err
	}

	log.Info("Election %s opened: %d voters, %d races, %d mix stages, %d challenge rounds",
		cfg.ElectionID, cfg.Voters, len(cfg.Races), cfg.Stages, cfg.Rounds())
	return e, nil
}

// Cast records one voter's ballot. The votes map names a selection per race:
// either a listed choice or, for races that allow it, free write-in text.
func (e *Election) Cast(votes map[string]string) error {
	if e.cast >= e.cfg.Voters {
		return xerrors.Errorf("election: all %d ballots already cast", e.cfg.Voters)
	}
	slot := e.cast
	src := e.reg.Source(fmt.Sprintf("voter:%d", slot))

	for _, race := range e.cfg.Races {
		selection, ok := votes[race.ID]
		if !ok {
			return xerrors.Errorf("election: ballot misses race %s", race.ID)
		}
		value, isChoice := race.ChoiceIndex(selection)
		text := ""
		if !isChoice {
			if !race.AllowWritein {
				return xerrors.Errorf("election: race %s has no choice %q and no write-ins", race.ID, selection)
			}
			value = race.Marker()
			text = selection
			if len(text) > e.cfg.WriteinMaxLen {
				text = text[:e.cfg.WriteinMaxLen]
			}
		}
		if err := e.castValue(slot, race.ID, value, text, src); err != nil {
			return err
		}
	}
	e.cast++
	return nil
}

// CastRandomBallots fills every remaining slot with uniformly random votes
// and returns the true per-race counts for comparison against the tally.
func (e *Election) CastRandomBallots() (map[string]map[string]uint64, error) {
	expected := make(map[string]map[string]uint64, len(e.cfg.Races))
	for _, race := range e.cfg.Races {
		expected[race.ID] = make(map[string]uint64)
		for _, c := range race.Choices {
			expected[race.ID][c] = 0
		}
	}

	for ; e.cast < e.cfg.Voters; e.cast++ {
		slot := e.cast
		src := e.reg.Source(fmt.Sprintf("voter:%d", slot))
		for _, race := range e.cfg.Races {
			options := race.Marker()
			if race.AllowWritein {
				options++
			}
			value := src.Uint64n(options)
			text := ""
			if value == race.Marker() {
				text = writeinNames[src.Intn(len(writeinNames))]
				if len(text) > e.cfg.WriteinMaxLen {
					text = text[:e.cfg.WriteinMaxLen]
				}
				expected[race.ID][tally.Bucket(text)]++
			} else {
				expected[race.ID][race.Choices[value]]++
			}
			if err := e.castValue(slot, race.ID, value, text, src); err != nil {
				return nil, err
			}
		}
	}
	return expected, nil
}

// castValue splits one vote value, commits to any write-in text, and posts
// the cast share.
func (e *Election) castValue(slot int, raceID string, value uint64, text string, src *random.Source) error {
	rs := e.races[raceID]

	pair, err := split.Split(value, e.cfg.Modulus, src)
	if err != nil {
		return xerrors.Errorf("election: encode ballot %d for race %s: %w", slot, raceID, err)
	}

	share := board.SharePayload{
		Stage:    board.CastStage,
		Slot:     slot,
		Pair:     pair,
		BallotID: e.ballotIDs[slot],
	}
	if text != "" {
		digest, randomness := commit.Fresh([]byte(text), src)
		share.WriteinCommitment = digest
		rs.writeins = append(rs.writeins, writeinRecord{
			slot:       slot,
			text:       text,
			randomness: randomness,
			commitment: digest,
		})
	}
	if _, err := e.Board.Append(raceID, share); err != nil {
		return err
	}
	rs.castPairs = append(rs.castPairs, pair)
	rs.castValues = append(rs.castValues, value)
	return nil
}

// Mix runs every race's server chain, in parallel across races.
func (e *Election) Mix() error {
	if e.cast != e.cfg.Voters {
		return xerrors.Errorf("election: mix started with %d of %d ballots cast", e.cast, e.cfg.Voters)
	}
	return concurrency.ForEach(e.cfg.Cores, e.cfg.Races, func(_ int, race config.Race) error {
		rs := e.races[race.ID]
		rs.chain = mix.NewChain(race.ID, e.cfg.Stages, e.cfg.Voters, e.cfg.Modulus,
			e.reg.Source("server:"+race.ID))
		final, err := rs.chain.Run(e.Board, rs.castPairs, e.cfg.Modulus)
		if err != nil {
			return err
		}
		rs.finalPairs = final
		rs.prover = prover.NewProver(race.ID, rs.chain, e.reg.Source("prover:"+race.ID))
		return nil
	})
}

// Tally reveals the write-in commitments, counts every race's final stage,
// and posts the results.
func (e *Election) Tally() error {
	for _, race := range e.cfg.Races {
		rs := e.races[race.ID]
		if rs.finalPairs == nil {
			return xerrors.Errorf("election: race %s tallied before mixing", race.ID)
		}

		texts := make([]string, 0, len(rs.writeins))
		for _, w := range rs.writeins {
			if _, err := e.Board.Append(race.ID, board.WriteinRevealPayload{
				Slot:       w.slot,
				Commitment: w.commitment,
				Text:       w.text,
				Randomness: w.randomness,
			}); err != nil {
				return err
			}
			texts = append(texts, w.text)
		}

		counts, err := tally.Count(race, e.cfg.Modulus, rs.finalPairs, texts)
		if err != nil {
			return err
		}
		if err := tally.Post(e.Board, race.ID, counts); err != nil {
			return err
		}
		rs.counts = counts
		log.Debug("Race %s tallied: %v", race.ID, counts)
	}
	return nil
}

// Prove posts every race's transform commitments. Must run after Mix, before
// any challenge is derived.
func (e *Election) Prove() error {
	for _, race := range e.cfg.Races {
		rs := e.races[race.ID]
		if rs.prover == nil {
			return xerrors.Errorf("election: race %s proved before mixing", race.ID)
		}
		if err := rs.prover.CommitTransforms(e.Board); err != nil {
			return err
		}
	}
	return nil
}

// Challenge runs every cut-and-choose round: derive the round's coordinates
// from the public seed and the board frontier, post the challenge, and have
// each prover answer it.
func (e *Election) Challenge() error {
	for _, race := range e.cfg.Races {
		if e.races[race.ID].prover == nil {
			return xerrors.Errorf("election: race %s challenged before mixing", race.ID)
		}
	}
	for round := 0; round < e.cfg.Rounds(); round++ {
		for _, race := range e.cfg.Races {
			snap := e.Board.Snapshot()
			ch, err := verifier.DeriveChallenge(snap, e.cfg.ElectionID, race.ID,
				e.cfg.Seed, round, e.cfg.Stages, e.cfg.Voters, e.cfg.Fraction)
			if err != nil {
				return xerrors.Errorf("election: derive round %d for race %s: %w", round, race.ID, err)
			}
			if _, err := e.Board.Append(race.ID, ch); err != nil {
				return err
			}
			if err := e.races[race.ID].prover.Open(e.Board, round, ch.Coords); err != nil {
				return err
			}
		}
	}
	return nil
}

// Finalize seals the board with its Merkle anchor.
func (e *Election) Finalize() (board.ClosePayload, error) {
	return e.Board.Finalize()
}

// Run drives a complete election, recording each phase's timing.
func (e *Election) Run(ctx *opcontext.OperationContext) error {
	phases := []struct {
		name string
		fn   func() error
	}{
		{"Cast", func() error { _, err := e.CastRandomBallots(); return err }},
		{"Mix", e.Mix},
		{"Tally", e.Tally},
		{"Prove", e.Prove},
		{"Challenge", e.Challenge},
		{"Finalize", func() error { _, err := e.Finalize(); return err }},
	}
	for _, phase := range phases {
		if err := ctx.Recorder.Record(phase.name, phase.fn); err != nil {
			return xerrors.Errorf("election: %s phase: %w", phase.name, err)
		}
	}
	return nil
}

// Verify audits the board as an outside observer would.
func (e *Election) Verify() *verifier.Result {
	return verifier.Verify(e.Board.Snapshot(), e.cfg)
}

// Counts returns the posted tally for one race.
func (e *Election) Counts(raceID string) map[string]uint64 {
	if rs, ok := e.races[raceID]; ok {
		return rs.counts
	}
	return nil
}
