package config

import (
	"errors"
	"testing"
)

func testConfig() *Config {
	return &Config{
		ElectionID: "test",
		Races: []Race{
			{ID: "taxes", Choices: []string{"yes", "no"}},
			{ID: "mayor", Choices: []string{"tom", "rufus"}, AllowWritein: true},
		},
		Voters:      5,
		Modulus:     101,
		Stages:      3,
		Fraction:    0.5,
		Epsilon:     1e-6,
		BallotIDLen: 32,
		Seed:        "test-seed",
		Cores:       1,
		Runs:        1,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero voters", func(c *Config) { c.Voters = 0 }, true},
		{"negative voters", func(c *Config) { c.Voters = -3 }, true},
		{"no races", func(c *Config) { c.Races = nil }, true},
		{"duplicate race ids", func(c *Config) { c.Races[1].ID = "taxes" }, true},
		{"race without choices", func(c *Config) { c.Races[0].Choices = nil }, true},
		{"modulus too small for marker", func(c *Config) { c.Modulus = 2 }, true},
		{"modulus overflows share arithmetic", func(c *Config) { c.Modulus = 1<<63 + 1 }, true},
		{"ballot id space below roster", func(c *Config) { c.BallotIDLen = 1; c.Voters = 100 }, true},
		{"zero stages", func(c *Config) { c.Stages = 0 }, true},
		{"fraction out of range", func(c *Config) { c.Fraction = 1.0 }, true},
		{"epsilon out of range", func(c *Config) { c.Epsilon = 0 }, true},
		{"empty seed", func(c *Config) { c.Seed = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				var ce *ConfigError
				if !errors.As(err, &ce) {
					t.Errorf("Validate() = %v, want ConfigError", err)
				}
			} else if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestParseRaces(t *testing.T) {
	races := ParseRaces("taxes:yes,no;mayor:tom,rufus,*")
	if len(races) != 2 {
		t.Fatalf("parsed %d races, want 2", len(races))
	}
	if races[0].ID != "taxes" || len(races[0].Choices) != 2 || races[0].AllowWritein {
		t.Errorf("race 0 = %+v", races[0])
	}
	if races[1].ID != "mayor" || len(races[1].Choices) != 2 || !races[1].AllowWritein {
		t.Errorf("race 1 = %+v", races[1])
	}
}

func TestRaceEncoding(t *testing.T) {
	race := Race{ID: "mayor", Choices: []string{"tom", "rufus"}, AllowWritein: true}

	if v, ok := race.ChoiceIndex("rufus"); !ok || v != 1 {
		t.Errorf("ChoiceIndex(rufus) = %d, %t", v, ok)
	}
	if _, ok := race.ChoiceIndex("nobody"); ok {
		t.Errorf("ChoiceIndex(nobody) should not resolve")
	}
	if race.Marker() != 2 {
		t.Errorf("Marker() = %d, want 2", race.Marker())
	}
	if !race.ValidValue(race.Marker()) {
		t.Errorf("marker should be a valid value when write-ins are allowed")
	}
	if race.ValidValue(3) {
		t.Errorf("value past the marker should be invalid")
	}

	noWritein := Race{ID: "taxes", Choices: []string{"yes", "no"}}
	if noWritein.ValidValue(noWritein.Marker()) {
		t.Errorf("marker should be invalid when write-ins are disallowed")
	}
}

func TestRounds(t *testing.T) {
	tests := []struct {
		fraction float64
		epsilon  float64
		want     int
	}{
		{0.5, 0.3, 2},
		{0.5, 1e-6, 20},
		{0.75, 1e-6, 10},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.Fraction = tt.fraction
		cfg.Epsilon = tt.epsilon
		if got := cfg.Rounds(); got != tt.want {
			t.Errorf("Rounds(fraction=%v, epsilon=%v) = %d, want %d",
				tt.fraction, tt.epsilon, got, tt.want)
		}
	}
}
