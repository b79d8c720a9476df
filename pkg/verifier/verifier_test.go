package verifier_test

import (
	"reflect"
	"testing"

	"splitvote/pkg/board"
	"splitvote/pkg/config"
	"splitvote/pkg/election"
	"splitvote/pkg/verifier"
)

func testConfig(voters int, races string) *config.Config {
	return &config.Config{
		ElectionID:    "verifier-test",
		Races:         config.ParseRaces(races),
		Voters:        voters,
		Modulus:       101,
		Stages:        2,
		Fraction:      0.5,
		Epsilon:       1e-2,
		BallotIDLen:   16,
		WriteinMaxLen: 16,
		Seed:          "verifier-test",
		Cores:         1,
		Runs:          1,
	}
}

// honestBoard runs a full honest election and returns its board and config.
func honestBoard(t *testing.T, cfg *config.Config) (board.Snapshot, *election.Election) {
	t.Helper()
	e, err := election.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.CastRandomBallots(); err != nil {
		t.Fatalf("CastRandomBallots: %v", err)
	}
	for _, step := range []func() error{e.Mix, e.Tally, e.Prove, e.Challenge} {
		if err := step(); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}
	if _, err := e.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return e.Board.Snapshot(), e
}

func TestAcceptsHonestBoard(t *testing.T) {
	cfg := testConfig(10, "taxes:yes,no;mayor:tom,rufus,*")
	snap, _ := honestBoard(t, cfg)

	result := verifier.Verify(snap, cfg)
	for _, f := range result.Findings {
		t.Errorf("unexpected finding: %s", f)
	}
}

func TestRejectsTamperedShare(t *testing.T) {
	cfg := testConfig(8, "taxes:yes,no")
	snap, _ := honestBoard(t, cfg)

	shares := snap.ByKind(board.KindShare)
	snap[shares[3].Sequence].Payload[10] ^= 0x01

	result := verifier.Verify(snap, cfg)
	if result.Accepted() {
		t.Fatal("tampered board accepted")
	}
	if !hasCheck(result, verifier.CheckOrdering) {
		t.Errorf("no chain finding among: %v", result.Findings)
	}
}

func TestRejectsWrongTally(t *testing.T) {
	cfg := testConfig(8, "taxes:yes,no")
	e, err := election.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.CastRandomBallots(); err != nil {
		t.Fatalf("CastRandomBallots: %v", err)
	}
	if err := e.Mix(); err != nil {
		t.Fatalf("Mix: %v", err)
	}
	// Post a tally no recount of 8 ballots can produce.
	if _, err := e.Board.Append("taxes", board.TallyPayload{
		Counts: map[string]uint64{"yes": 9, "no": 0},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for _, step := range []func() error{e.Prove, e.Challenge} {
		if err := step(); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}
	if _, err := e.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	result := verifier.Verify(e.Board.Snapshot(), cfg)
	if !hasCheck(result, verifier.CheckTally) {
		t.Errorf("no tally finding among: %v", result.Findings)
	}
}

func TestReportsMissingTally(t *testing.T) {
	cfg := testConfig(8, "taxes:yes,no")
	e, err := election.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.CastRandomBallots(); err != nil {
		t.Fatalf("CastRandomBallots: %v", err)
	}
	// Skip the tally phase entirely.
	for _, step := range []func() error{e.Mix, e.Prove, e.Challenge} {
		if err := step(); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}
	if _, err := e.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	result := verifier.Verify(e.Board.Snapshot(), cfg)
	if !hasCheck(result, verifier.CheckMissing) {
		t.Errorf("no missing-posting finding among: %v", result.Findings)
	}
}

func TestRejectsOutOfGridPostings(t *testing.T) {
	cfg := testConfig(6, "taxes:yes,no;mayor:tom,rufus,*")
	snap, _ := honestBoard(t, cfg)

	// A hostile log can carry coordinates no honest Append would accept;
	// the verifier must report them, not crash on them.
	forged := []struct {
		race    string
		kind    board.Kind
		payload string
	}{
		{"taxes", board.KindShare, `{"stage":-1,"slot":0,"pair":{"l":1,"r":2},"ballot_id":"x"}`},
		{"taxes", board.KindShare, `{"stage":1,"slot":-4,"pair":{"l":1,"r":2}}`},
		{"taxes", board.KindShare, `{"stage":99,"slot":0,"pair":{"l":1,"r":2}}`},
		{"taxes", board.KindCommitment, `{"stage":-1,"slot":0,"digest":"yg=="}`},
		{"taxes", board.KindCommitment, `{"stage":99,"slot":2,"digest":"yg=="}`},
		{"mayor", board.KindWriteinReveal, `{"slot":-3,"commitment":"yg==","text":"x","randomness":"yg=="}`},
	}
	for _, f := range forged {
		snap = append(snap, board.Posting{
			Sequence:    uint64(len(snap)),
			RaceID:      f.race,
			PostingKind: f.kind,
			Payload:     []byte(f.payload),
		})
	}

	result := verifier.Verify(snap, cfg)
	if result.Accepted() {
		t.Fatal("board with out-of-grid postings accepted")
	}
	if !hasCheck(result, verifier.CheckOrdering) {
		t.Errorf("no ordering finding among: %v", result.Findings)
	}
}

func TestRejectsForgedOpening(t *testing.T) {
	cfg := testConfig(6, "taxes:yes,no")
	e, err := election.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.CastRandomBallots(); err != nil {
		t.Fatalf("CastRandomBallots: %v", err)
	}
	for _, step := range []func() error{e.Mix, e.Tally, e.Prove} {
		if err := step(); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}

	// Answer round 0 with openings that never saw the committed data.
	ch, err := verifier.DeriveChallenge(e.Board.Snapshot(), cfg.ElectionID, "taxes",
		cfg.Seed, 0, cfg.Stages, cfg.Voters, cfg.Fraction)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	if _, err := e.Board.Append("taxes", ch); err != nil {
		t.Fatalf("Append challenge: %v", err)
	}
	forged := board.OpeningPayload{Round: 0}
	for _, c := range ch.Coords {
		forged.Openings = append(forged.Openings, board.TransformOpening{
			Stage:      c.Stage,
			Slot:       c.Slot,
			Randomness: make([]byte, 32),
		})
	}
	if _, err := e.Board.Append("taxes", forged); err != nil {
		t.Fatalf("Append opening: %v", err)
	}
	if _, err := e.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	result := verifier.Verify(e.Board.Snapshot(), cfg)
	if result.Accepted() {
		t.Fatal("forged openings accepted")
	}
	if !hasCheck(result, verifier.CheckCommitment) {
		t.Errorf("no commitment finding among: %v", result.Findings)
	}
}

func TestChallengeDerivationIsDeterministic(t *testing.T) {
	cfg := testConfig(10, "taxes:yes,no")
	snap, _ := honestBoard(t, cfg)
	prefix := snap[:len(snap)/2]

	a, err := verifier.DeriveChallenge(prefix, cfg.ElectionID, "taxes", cfg.Seed, 0, cfg.Stages, cfg.Voters, cfg.Fraction)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	b, err := verifier.DeriveChallenge(prefix, cfg.ElectionID, "taxes", cfg.Seed, 0, cfg.Stages, cfg.Voters, cfg.Fraction)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same inputs derived different challenges")
	}

	c, err := verifier.DeriveChallenge(prefix, cfg.ElectionID, "taxes", cfg.Seed, 1, cfg.Stages, cfg.Voters, cfg.Fraction)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	if reflect.DeepEqual(a.Coords, c.Coords) {
		t.Error("distinct rounds derived identical coordinates")
	}

	// Half the coordinate grid, rounded up.
	want := (cfg.Stages*cfg.Voters + 1) / 2
	if len(a.Coords) != want {
		t.Errorf("round selects %d coordinates, want %d", len(a.Coords), want)
	}
}

func hasCheck(r *verifier.Result, check string) bool {
	for _, f := range r.Findings {
		if f.Check == check {
			return true
		}
	}
	return false
}
