// Package verifier audits a finished election from the bulletin board alone.
// It holds no secrets: every check re-derives public data and compares it
// against what was posted. Failures are collected as findings rather than
// returned as errors, so one audit pass reports everything that is wrong.
package verifier

import (
	"bytes"
	"fmt"
	"reflect"

	"splitvote/pkg/board"
	"splitvote/pkg/commit"
	"splitvote/pkg/config"
	"splitvote/pkg/log"
	"splitvote/pkg/prover"
	"splitvote/pkg/split"
	"splitvote/pkg/tally"
)

// Check names identify which audit rule a finding violated.
const (
	CheckOrdering   = "BulletinBoardOrderingViolation"
	CheckMissing    = "MissingPosting"
	CheckSetup      = "SetupMismatch"
	CheckSplit      = "SplitInvariantViolation"
	CheckChallenge  = "ChallengeMismatch"
	CheckCommitment = "CommitmentOpenMismatch"
	CheckArithmetic = "ArithmeticMismatch"
	CheckTally      = "TallyInconsistency"
)

// Finding is one audit failure. Stage and Slot are -1 when the failure is
// not tied to a mix position.
type Finding struct {
	Check  string
	RaceID string
	Stage  int
	Slot   int
	Detail string
}

func (f Finding) String() string {
	pos := ""
	if f.Stage >= 0 || f.Slot >= 0 {
		pos = fmt.Sprintf(" (stage %d, slot %d)", f.Stage, f.Slot)
	}
	return fmt.Sprintf("[%s] race %q%s: %s", f.Check, f.RaceID, pos, f.Detail)
}

// Result is the outcome of one audit pass.
type Result struct {
	Findings []Finding
}

// Accepted reports whether the audit found nothing wrong.
func (r *Result) Accepted() bool { return len(r.Findings) == 0 }

func (r *Result) add(check, raceID string, stage, slot int, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Check:  check,
		RaceID: raceID,
		Stage:  stage,
		Slot:   slot,
		Detail: fmt.Sprintf(format, args...),
	})
}

// Verify audits the full board snapshot against the public election
// parameters and returns every finding.
func Verify(snap board.Snapshot, cfg *config.Config) *Result {
	res := &Result{}

	if len(snap) == 0 {
		res.add(CheckMissing, "", -1, -1, "empty board")
		return res
	}
	if err := snap.VerifyChain(); err != nil {
		res.add(CheckOrdering, "", -1, -1, "hash chain broken: %v", err)
	}

	verifySetup(snap, cfg, res)
	verifyClose(snap, res)
	for _, race := range cfg.Races {
		verifyRace(snap, cfg, race, res)
	}

	if res.Accepted() {
		log.Debug("Verifier accepted the board (%d postings)", len(snap))
	} else {
		log.Debug("Verifier rejected the board with %d findings", len(res.Findings))
	}
	return res
}

func verifySetup(snap board.Snapshot, cfg *config.Config, res *Result) {
	if snap[0].PostingKind != board.KindOpen {
		res.add(CheckOrdering, "", -1, -1, "board does not start with an opening record")
		return
	}
	open, err := board.Decode[board.OpenPayload](snap[0])
	if err != nil {
		res.add(CheckSetup, "", -1, -1, "undecodable opening record: %v", err)
		return
	}
	if open.ElectionID != cfg.ElectionID {
		res.add(CheckSetup, "", -1, -1, "election id %q, expected %q", open.ElectionID, cfg.ElectionID)
	}
	if open.Modulus != cfg.Modulus {
		res.add(CheckSetup, "", -1, -1, "modulus %d, expected %d", open.Modulus, cfg.Modulus)
	}
	if open.Stages != cfg.Stages {
		res.add(CheckSetup, "", -1, -1, "%d stages, expected %d", open.Stages, cfg.Stages)
	}

	raceSetups := snap.ByKind(board.KindRaceSetup)
	if len(raceSetups) != 1 {
		res.add(CheckMissing, "", -1, -1, "%d race setup postings, expected 1", len(raceSetups))
	} else if setup, err := board.Decode[board.RaceSetupPayload](raceSetups[0]); err != nil {
		res.add(CheckSetup, "", -1, -1, "undecodable race setup: %v", err)
	} else {
		published := make(map[string]board.RaceSetup, len(setup.Races))
		for _, r := range setup.Races {
			published[r.ID] = r
		}
		for _, race := range cfg.Races {
			r, ok := published[race.ID]
			if !ok {
				res.add(CheckSetup, race.ID, -1, -1, "race not in the published setup")
				continue
			}
			if !reflect.DeepEqual(r.Choices, race.Choices) || r.AllowWritein != race.AllowWritein {
				res.add(CheckSetup, race.ID, -1, -1, "published ballot style differs from the configuration")
			}
		}
	}

	voterSetups := snap.ByKind(board.KindVoterSetup)
	if len(voterSetups) != 1 {
		res.add(CheckMissing, "", -1, -1, "%d voter setup postings, expected 1", len(voterSetups))
		return
	}
	roster, err := board.Decode[board.VoterSetupPayload](voterSetups[0])
	if err != nil {
		res.add(CheckSetup, "", -1, -1, "undecodable voter setup: %v", err)
		return
	}
	if roster.Count != cfg.Voters {
		res.add(CheckSetup, "", -1, -1, "roster of %d voters, expected %d", roster.Count, cfg.Voters)
	}
	seen := make(map[string]bool, len(roster.BallotIDs))
	for _, id := range roster.BallotIDs {
		if seen[id] {
			res.add(CheckSetup, "", -1, -1, "duplicate ballot id %q in roster", id)
		}
		seen[id] = true
	}
}

// verifyClose checks that the board ends with a close record whose Merkle
// root anchors everything before it.
func verifyClose(snap board.Snapshot, res *Result) {
	last := snap.Last()
	if last.PostingKind != board.KindClose {
		res.add(CheckMissing, "", -1, -1, "board is not closed")
		return
	}
	closing, err := board.Decode[board.ClosePayload](last)
	if err != nil {
		res.add(CheckSetup, "", -1, -1, "undecodable close record: %v", err)
		return
	}
	if closing.FinalSequence != last.Sequence-1 {
		res.add(CheckOrdering, "", -1, -1, "close record covers sequence %d, board ends at %d",
			closing.FinalSequence, last.Sequence-1)
		return
	}
	root, err := snap[:closing.FinalSequence+1].MerkleRoot()
	if err != nil {
		res.add(CheckOrdering, "", -1, -1, "close record: %v", err)
		return
	}
	if !bytes.Equal(root, closing.MerkleRoot) {
		res.add(CheckOrdering, "", -1, -1, "close record's merkle root does not match the postings")
	}
}

// sharePost is one decoded share together with its board position.
type sharePost struct {
	payload board.SharePayload
	seq     uint64
}

func verifyRace(snap board.Snapshot, cfg *config.Config, race config.Race, res *Result) {
	racePostings := snap.ByRace(race.ID)
	grid, lastShareSeq := collectShares(racePostings, cfg, race, res)

	// Every (stage, slot) position must carry exactly one share, each pair
	// inside the modulus.
	for stage := 0; stage <= cfg.Stages; stage++ {
		for slot := 0; slot < cfg.Voters; slot++ {
			sp := grid[stage][slot]
			if sp == nil {
				res.add(CheckMissing, race.ID, stage, slot, "no share posted")
				continue
			}
			if !split.InDomain(sp.payload.Pair, cfg.Modulus) {
				res.add(CheckSplit, race.ID, stage, slot, "pair %+v outside modulus %d",
					sp.payload.Pair, cfg.Modulus)
			}
		}
	}
	verifyStageOrdering(grid, cfg, race, res)
	verifyRoster(snap, grid[board.CastStage], race, res)

	digests, lastCommitSeq := collectCommitments(racePostings, cfg, race, lastShareSeq, res)
	openings := verifyChallenges(snap, racePostings, cfg, race, lastCommitSeq, res)
	verifyOpenings(openings, digests, grid, cfg, race, res)
	verifyTally(racePostings, grid, cfg, race, res)
}

func collectShares(racePostings board.Snapshot, cfg *config.Config, race config.Race, res *Result) ([][]*sharePost, uint64) {
	grid := make([][]*sharePost, cfg.Stages+1)
	for stage := range grid {
		grid[stage] = make([]*sharePost, cfg.Voters)
	}
	var lastSeq uint64
	for _, p := range racePostings.ByKind(board.KindShare) {
		share, err := board.Decode[board.SharePayload](p)
		if err != nil {
			res.add(CheckMissing, race.ID, -1, -1, "undecodable share at sequence %d: %v", p.Sequence, err)
			continue
		}
		// Postings come from an untrusted log, so the append-time payload
		// validation must be repeated here.
		if err := share.Validate(); err != nil {
			res.add(CheckOrdering, race.ID, -1, -1, "invalid share at sequence %d: %v", p.Sequence, err)
			continue
		}
		if share.Stage > cfg.Stages || share.Slot >= cfg.Voters {
			res.add(CheckOrdering, race.ID, share.Stage, share.Slot, "share outside the election grid")
			continue
		}
		if grid[share.Stage][share.Slot] != nil {
			res.add(CheckOrdering, race.ID, share.Stage, share.Slot, "duplicate share posting")
			continue
		}
		grid[share.Stage][share.Slot] = &sharePost{payload: share, seq: p.Sequence}
		if p.Sequence > lastSeq {
			lastSeq = p.Sequence
		}
	}
	return grid, lastSeq
}

// verifyStageOrdering checks that every stage's shares were all posted
// before any share of the following stage.
func verifyStageOrdering(grid [][]*sharePost, cfg *config.Config, race config.Race, res *Result) {
	stageMax := make([]uint64, cfg.Stages+1)
	stageMin := make([]uint64, cfg.Stages+1)
	for stage := range grid {
		first := true
		for _, sp := range grid[stage] {
			if sp == nil {
				continue
			}
			if first || sp.seq < stageMin[stage] {
				stageMin[stage] = sp.seq
			}
			if first || sp.seq > stageMax[stage] {
				stageMax[stage] = sp.seq
			}
			first = false
		}
		if first {
			return // stage missing entirely, already reported
		}
	}
	for stage := 1; stage <= cfg.Stages; stage++ {
		if stageMax[stage-1] > stageMin[stage] {
			res.add(CheckOrdering, race.ID, stage, -1,
				"stage %d share posted before stage %d completed", stage, stage-1)
		}
	}
}

// verifyRoster checks that cast shares use each published ballot id exactly once.
func verifyRoster(snap board.Snapshot, cast []*sharePost, race config.Race, res *Result) {
	setups := snap.ByKind(board.KindVoterSetup)
	if len(setups) != 1 {
		return // reported by verifySetup
	}
	roster, err := board.Decode[board.VoterSetupPayload](setups[0])
	if err != nil {
		return
	}
	known := make(map[string]bool, len(roster.BallotIDs))
	for _, id := range roster.BallotIDs {
		known[id] = true
	}
	used := make(map[string]bool)
	for slot, sp := range cast {
		if sp == nil {
			continue
		}
		id := sp.payload.BallotID
		if !known[id] {
			res.add(CheckSetup, race.ID, board.CastStage, slot, "ballot id %q not in the roster", id)
		}
		if used[id] {
			res.add(CheckSetup, race.ID, board.CastStage, slot, "ballot id %q used twice", id)
		}
		used[id] = true
	}
}

func collectCommitments(racePostings board.Snapshot, cfg *config.Config, race config.Race, lastShareSeq uint64, res *Result) (map[board.Coord][]byte, uint64) {
	digests := make(map[board.Coord][]byte)
	var lastSeq uint64
	for _, p := range racePostings.ByKind(board.KindCommitment) {
		c, err := board.Decode[board.CommitmentPayload](p)
		if err != nil {
			res.add(CheckMissing, race.ID, -1, -1, "undecodable commitment at sequence %d: %v", p.Sequence, err)
			continue
		}
		if err := c.Validate(); err != nil {
			res.add(CheckOrdering, race.ID, -1, -1, "invalid commitment at sequence %d: %v", p.Sequence, err)
			continue
		}
		if c.Stage > cfg.Stages || c.Slot >= cfg.Voters {
			res.add(CheckOrdering, race.ID, c.Stage, c.Slot, "commitment outside the election grid")
			continue
		}
		coord := board.Coord{Stage: c.Stage, Slot: c.Slot}
		if _, dup := digests[coord]; dup {
			res.add(CheckOrdering, race.ID, c.Stage, c.Slot, "duplicate commitment")
			continue
		}
		if p.Sequence < lastShareSeq {
			res.add(CheckOrdering, race.ID, c.Stage, c.Slot,
				"commitment posted before the mix output completed")
		}
		digests[coord] = c.Digest
		if p.Sequence > lastSeq {
			lastSeq = p.Sequence
		}
	}
	for stage := 1; stage <= cfg.Stages; stage++ {
		for slot := 0; slot < cfg.Voters; slot++ {
			if _, ok := digests[board.Coord{Stage: stage, Slot: slot}]; !ok {
				res.add(CheckMissing, race.ID, stage, slot, "no commitment posted")
			}
		}
	}
	return digests, lastSeq
}

// verifyChallenges re-derives every challenge round from the audit seed and
// the board prefix it claims, and pairs each round with its opening.
func verifyChallenges(snap board.Snapshot, racePostings board.Snapshot, cfg *config.Config, race config.Race, lastCommitSeq uint64, res *Result) map[int]roundData {
	rounds := make(map[int]roundData)

	challenges := make(map[int]board.ChallengePayload)
	challengeSeqs := make(map[int]uint64)
	for _, p := range racePostings.ByKind(board.KindChallenge) {
		ch, err := board.Decode[board.ChallengePayload](p)
		if err != nil {
			res.add(CheckMissing, race.ID, -1, -1, "undecodable challenge at sequence %d: %v", p.Sequence, err)
			continue
		}
		if _, dup := challenges[ch.Round]; dup {
			res.add(CheckOrdering, race.ID, -1, -1, "round %d challenged twice", ch.Round)
			continue
		}
		challenges[ch.Round] = ch
		challengeSeqs[ch.Round] = p.Sequence
	}

	for round := 0; round < cfg.Rounds(); round++ {
		ch, ok := challenges[round]
		if !ok {
			res.add(CheckMissing, race.ID, -1, -1, "no challenge for round %d", round)
			continue
		}
		if ch.CommitFrontier < lastCommitSeq {
			res.add(CheckChallenge, race.ID, -1, -1,
				"round %d derived from a prefix that predates the commitments", round)
		}
		if ch.CommitFrontier >= uint64(len(snap)) || ch.CommitFrontier >= challengeSeqs[round] {
			res.add(CheckChallenge, race.ID, -1, -1, "round %d claims an impossible frontier %d",
				round, ch.CommitFrontier)
			continue
		}
		frontier := snap[ch.CommitFrontier]
		if !bytes.Equal(ch.PrefixHash, frontier.ContentHash) {
			res.add(CheckChallenge, race.ID, -1, -1, "round %d prefix hash does not match the board", round)
			continue
		}
		want, err := DeriveChallenge(snap[:ch.CommitFrontier+1], cfg.ElectionID, race.ID,
			cfg.Seed, round, cfg.Stages, cfg.Voters, cfg.Fraction)
		if err != nil {
			res.add(CheckChallenge, race.ID, -1, -1, "round %d re-derivation failed: %v", round, err)
			continue
		}
		if !reflect.DeepEqual(want.Coords, ch.Coords) {
			res.add(CheckChallenge, race.ID, -1, -1,
				"round %d coordinates do not match the seed derivation", round)
			continue
		}
		rounds[round] = roundData{challenge: ch, challengeSeq: challengeSeqs[round]}
	}

	// Pair rounds with openings.
	for _, p := range racePostings.ByKind(board.KindOpening) {
		op, err := board.Decode[board.OpeningPayload](p)
		if err != nil {
			res.add(CheckMissing, race.ID, -1, -1, "undecodable opening at sequence %d: %v", p.Sequence, err)
			continue
		}
		rd, ok := rounds[op.Round]
		if !ok {
			res.add(CheckChallenge, race.ID, -1, -1, "opening for unknown round %d", op.Round)
			continue
		}
		if rd.opened {
			res.add(CheckOrdering, race.ID, -1, -1, "round %d answered twice", op.Round)
			continue
		}
		if p.Sequence < rd.challengeSeq {
			res.add(CheckOrdering, race.ID, -1, -1, "round %d answered before it was challenged", op.Round)
		}
		rd.opened = true
		rd.opening = op
		rounds[op.Round] = rd
	}
	return rounds
}

type roundData struct {
	challenge    board.ChallengePayload
	challengeSeq uint64
	opened       bool
	opening      board.OpeningPayload
}

// verifyOpenings checks each answered round for exact coverage, commitment
// consistency and the rerandomization identity.
func verifyOpenings(rounds map[int]roundData, digests map[board.Coord][]byte, grid [][]*sharePost, cfg *config.Config, race config.Race, res *Result) {
	for round, rd := range rounds {
		if !rd.opened {
			res.add(CheckMissing, race.ID, -1, -1, "round %d was never answered", round)
			continue
		}

		challenged := make(map[board.Coord]bool, len(rd.challenge.Coords))
		for _, c := range rd.challenge.Coords {
			challenged[c] = true
		}
		answered := make(map[board.Coord]bool, len(rd.opening.Openings))

		for _, op := range rd.opening.Openings {
			coord := board.Coord{Stage: op.Stage, Slot: op.Slot}
			if !challenged[coord] {
				res.add(CheckChallenge, race.ID, op.Stage, op.Slot,
					"round %d opened a position that was not challenged", round)
				continue
			}
			if answered[coord] {
				res.add(CheckOrdering, race.ID, op.Stage, op.Slot, "round %d opened a position twice", round)
				continue
			}
			answered[coord] = true
			verifyOneOpening(round, op, digests, grid, cfg, race, res)
		}
		for _, c := range rd.challenge.Coords {
			if !answered[c] {
				res.add(CheckMissing, race.ID, c.Stage, c.Slot, "round %d left a challenged position unopened", round)
			}
		}
	}
}

func verifyOneOpening(round int, op board.TransformOpening, digests map[board.Coord][]byte, grid [][]*sharePost, cfg *config.Config, race config.Race, res *Result) {
	digest, ok := digests[board.Coord{Stage: op.Stage, Slot: op.Slot}]
	if !ok {
		return // missing commitment already reported
	}
	msg := prover.CommitmentMessage(op.PermEntry, op.Delta)
	if err := commit.Verify(digest, commit.Opening{Value: msg, Randomness: op.Randomness}); err != nil {
		res.add(CheckCommitment, race.ID, op.Stage, op.Slot, "round %d: %v", round, err)
		return
	}
	if op.PermEntry >= uint64(cfg.Voters) {
		res.add(CheckArithmetic, race.ID, op.Stage, op.Slot,
			"permutation entry %d outside %d slots", op.PermEntry, cfg.Voters)
		return
	}
	in := grid[op.Stage-1][op.PermEntry]
	out := grid[op.Stage][op.Slot]
	if in == nil || out == nil {
		return // missing shares already reported
	}
	want := split.Rerandomize(in.payload.Pair, op.Delta, cfg.Modulus)
	if out.payload.Pair != want {
		res.add(CheckArithmetic, race.ID, op.Stage, op.Slot,
			"round %d: output pair is not the committed rerandomization of input %d", round, op.PermEntry)
	}
}

// verifyTally re-counts the final stage and checks the posted tally, the
// write-in reveals, and the ballot total.
func verifyTally(racePostings board.Snapshot, grid [][]*sharePost, cfg *config.Config, race config.Race, res *Result) {
	finalPairs := make([]split.Pair, 0, cfg.Voters)
	for _, sp := range grid[cfg.Stages] {
		if sp == nil {
			return // incomplete final stage already reported
		}
		finalPairs = append(finalPairs, sp.payload.Pair)
	}

	var texts []string
	for _, p := range racePostings.ByKind(board.KindWriteinReveal) {
		reveal, err := board.Decode[board.WriteinRevealPayload](p)
		if err != nil {
			res.add(CheckMissing, race.ID, -1, -1, "undecodable write-in reveal at sequence %d: %v", p.Sequence, err)
			continue
		}
		if !race.AllowWritein {
			res.add(CheckTally, race.ID, -1, reveal.Slot, "write-in reveal for a race without write-ins")
			continue
		}
		if reveal.Slot < 0 || reveal.Slot >= cfg.Voters || grid[board.CastStage][reveal.Slot] == nil {
			res.add(CheckMissing, race.ID, board.CastStage, reveal.Slot, "write-in reveal for a missing cast share")
			continue
		}
		cast := grid[board.CastStage][reveal.Slot].payload
		if !bytes.Equal(cast.WriteinCommitment, reveal.Commitment) {
			res.add(CheckCommitment, race.ID, board.CastStage, reveal.Slot,
				"write-in reveal does not reference the cast commitment")
			continue
		}
		if err := commit.Verify(reveal.Commitment, commit.Opening{
			Value:      []byte(reveal.Text),
			Randomness: reveal.Randomness,
		}); err != nil {
			res.add(CheckCommitment, race.ID, board.CastStage, reveal.Slot, "write-in reveal: %v", err)
			continue
		}
		texts = append(texts, reveal.Text)
	}

	want, err := tally.Count(race, cfg.Modulus, finalPairs, texts)
	if err != nil {
		res.add(CheckTally, race.ID, -1, -1, "recount failed: %v", err)
		return
	}

	tallies := racePostings.ByKind(board.KindTally)
	if len(tallies) != 1 {
		res.add(CheckMissing, race.ID, -1, -1, "%d tally postings, expected 1", len(tallies))
		return
	}
	posted, err := board.Decode[board.TallyPayload](tallies[0])
	if err != nil {
		res.add(CheckTally, race.ID, -1, -1, "undecodable tally: %v", err)
		return
	}
	if !reflect.DeepEqual(posted.Counts, want) {
		res.add(CheckTally, race.ID, -1, -1, "posted tally %v does not match the recount %v", posted.Counts, want)
	}

	var total uint64
	for _, n := range posted.Counts {
		total += n
	}
	if total != uint64(cfg.Voters) {
		res.add(CheckTally, race.ID, -1, -1, "tally sums to %d ballots, expected %d", total, cfg.Voters)
	}
}
