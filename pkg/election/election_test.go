package election

import (
	"reflect"
	"testing"

	"splitvote/pkg/config"
	opcontext "splitvote/pkg/context"
	"splitvote/pkg/metrics"
)

func testConfig(voters int) *config.Config {
	return &config.Config{
		ElectionID:    "test-election",
		Races:         config.ParseRaces("taxes:yes,no;mayor:tom,rufus,*"),
		Voters:        voters,
		Modulus:       101,
		Stages:        2,
		Fraction:      0.5,
		Epsilon:       1e-2,
		BallotIDLen:   16,
		WriteinMaxLen: 16,
		Seed:          "election-test",
		Cores:         2,
		Runs:          1,
	}
}

func run(t *testing.T, e *Election) {
	t.Helper()
	ctx := opcontext.NewOperationContext(nil, metrics.NewRecorder(false))
	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestHonestRunVerifies(t *testing.T) {
	e, err := New(testConfig(12))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run(t, e)

	result := e.Verify()
	for _, f := range result.Findings {
		t.Errorf("unexpected finding: %s", f)
	}
	if !result.Accepted() {
		t.Fatal("honest run rejected")
	}
}

func TestRandomBallotsMatchTally(t *testing.T) {
	cfg := testConfig(20)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	expected, err := e.CastRandomBallots()
	if err != nil {
		t.Fatalf("CastRandomBallots: %v", err)
	}
	for _, step := range []func() error{e.Mix, e.Tally} {
		if err := step(); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}

	for _, race := range cfg.Races {
		if got := e.Counts(race.ID); !reflect.DeepEqual(got, expected[race.ID]) {
			t.Errorf("race %s: tally %v, cast %v", race.ID, got, expected[race.ID])
		}
	}
}

func TestScenarioTally(t *testing.T) {
	cfg := testConfig(5)
	cfg.Races = config.ParseRaces("mayor:A,B,*")
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, vote := range []string{"A", "A", "B", "A", "C"} {
		if err := e.Cast(map[string]string{"mayor": vote}); err != nil {
			t.Fatalf("Cast(%q): %v", vote, err)
		}
	}
	for _, step := range []func() error{e.Mix, e.Tally, e.Prove, e.Challenge} {
		if err := step(); err != nil {
			t.Fatalf("phase: %v", err)
		}
	}
	if _, err := e.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	want := map[string]uint64{"A": 3, "B": 1, "write-in:c": 1}
	if got := e.Counts("mayor"); !reflect.DeepEqual(got, want) {
		t.Errorf("Counts: got %v, want %v", got, want)
	}
	if result := e.Verify(); !result.Accepted() {
		t.Errorf("honest scenario rejected: %v", result.Findings)
	}
}

func TestCastGuards(t *testing.T) {
	cfg := testConfig(1)
	cfg.Races = config.ParseRaces("taxes:yes,no")
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Cast(map[string]string{}); err == nil {
		t.Error("Cast accepted a ballot missing a race")
	}
	if err := e.Cast(map[string]string{"taxes": "maybe"}); err == nil {
		t.Error("Cast accepted a write-in for a race without write-ins")
	}
	if err := e.Cast(map[string]string{"taxes": "yes"}); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if err := e.Cast(map[string]string{"taxes": "no"}); err == nil {
		t.Error("Cast accepted more ballots than voters")
	}
}

func TestSameSeedReproducesTallies(t *testing.T) {
	tallies := make([]map[string]uint64, 2)
	for i := range tallies {
		e, err := New(testConfig(15))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		run(t, e)
		tallies[i] = e.Counts("mayor")
	}
	if !reflect.DeepEqual(tallies[0], tallies[1]) {
		t.Errorf("same seed produced different tallies: %v vs %v", tallies[0], tallies[1])
	}
}

func TestMixRequiresAllBallots(t *testing.T) {
	e, err := New(testConfig(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Cast(map[string]string{"taxes": "yes", "mayor": "tom"}); err != nil {
		t.Fatalf("Cast: %v", err)
	}
	if err := e.Mix(); err == nil {
		t.Error("Mix ran with ballots outstanding")
	}
}
