package config

import (
	"flag"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"splitvote/pkg/log"
	"splitvote/pkg/split"
)

// WriteinMarkerName is the tally bucket prefix for write-in choices.
const WriteinMarkerName = "write-in:"

// ConfigError reports an invalid election configuration. It is raised before
// any protocol state is created.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid election configuration: %s: %s", e.Field, e.Reason)
}

// Race describes one race on the ballot.
type Race struct {
	ID           string
	Choices      []string
	AllowWritein bool
}

// Marker returns the reserved split-value encoding for a write-in vote in
// this race: the first value past the valid choice indices.
func (r Race) Marker() uint64 {
	return uint64(len(r.Choices))
}

// ChoiceIndex returns the split-value encoding of a named choice.
func (r Race) ChoiceIndex(name string) (uint64, bool) {
	for i, c := range r.Choices {
		if c == name {
			return uint64(i), true
		}
	}
	return 0, false
}

// ValidValue reports whether a recombined value is a choice index or, when
// write-ins are allowed, the write-in marker.
func (r Race) ValidValue(v uint64) bool {
	if v < uint64(len(r.Choices)) {
		return true
	}
	return r.AllowWritein && v == r.Marker()
}

// Config holds all parameters for a simulation instance.
type Config struct {
	ElectionID string
	Races      []Race
	Voters     int
	Modulus    uint64 // share modulus, shared by all races
	Stages     int    // mixing stages per race

	// Cut-and-choose policy: each challenge round samples Fraction of all
	// (stage, slot) coordinates; Rounds() derives the round count from the
	// soundness target Epsilon.
	Fraction float64
	Epsilon  float64

	BallotIDLen   int
	WriteinMaxLen int

	Seed  string
	Cores int
	Runs  int

	PrintMetrics bool
	ResultsPath  string
}

// NewConfig creates a new Config by parsing command-line flags.
func NewConfig() *Config {
	log.Debug("Parsing command-line flags...")
	voters := flag.Int("voters", 100, "Number of voters.")
	races := flag.String("races", "taxes:yes,no;mayor:tom,rufus,*",
		"Ballot style: 'id:choice,choice[,*];...' where '*' allows write-ins.")
	modulus := flag.Uint64("modulus", 101, "Share modulus (must exceed every race's choice count).")
	stages := flag.Int("stages", 3, "Number of mixing stages per race.")
	fraction := flag.Float64("fraction", 0.5, "Fraction of transform coordinates opened per challenge round.")
	epsilon := flag.Float64("epsilon", 1e-6, "Target bound on the probability of an undetected cheat.")
	ballotIDLen := flag.Int("ballot-id-len", 32, "Number of hex digits in a ballot id.")
	writeinMax := flag.Int("writein-max", 16, "Maximum write-in length in bytes.")
	seed := flag.String("seed", "splitvote", "Seed value for all randomly generated values.")
	cores := flag.Int("cores", runtime.NumCPU(), "Worker count for parallel sections.")
	runs := flag.Int("runs", 1, "Number of simulation runs.")
	logLevel := flag.String("log-level", "info", "Set log level (trace, debug, info, error).")
	printMetrics := flag.Bool("print-metrics", false, "Whether to print detailed metrics during execution.")
	resultsPath := flag.String("results", "output/results/", "Path for storing simulation results.")

	flag.Parse()

	setLogLevel(*logLevel)

	config := &Config{
		ElectionID:    uuid.New().String(),
		Races:         ParseRaces(*races),
		Voters:        *voters,
		Modulus:       *modulus,
		Stages:        *stages,
		Fraction:      *fraction,
		Epsilon:       *epsilon,
		BallotIDLen:   *ballotIDLen,
		WriteinMaxLen: *writeinMax,
		Seed:          *seed,
		Cores:         *cores,
		Runs:          *runs,
		PrintMetrics:  *printMetrics,
		ResultsPath:   *resultsPath,
	}
	log.Debug("Config: %s", config)
	return config
}

// ParseRaces parses the ballot-style flag: races separated by ';', each as
// 'id:choice,choice[,*]' with a trailing '*' allowing write-ins.
func ParseRaces(style string) []Race {
	var races []Race
	for _, part := range strings.Split(style, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, choicesStr, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		race := Race{ID: strings.TrimSpace(id)}
		for _, c := range strings.Split(choicesStr, ",") {
			c = strings.TrimSpace(c)
			if c == "*" {
				race.AllowWritein = true
				continue
			}
			if c != "" {
				race.Choices = append(race.Choices, c)
			}
		}
		races = append(races, race)
	}
	return races
}

// Validate rejects configurations the protocol cannot run with. It is the
// only error class reported before any posting exists.
func (c *Config) Validate() error {
	if c.Voters <= 0 {
		return &ConfigError{Field: "voters", Reason: "must be positive"}
	}
	if len(c.Races) == 0 {
		return &ConfigError{Field: "races", Reason: "at least one race required"}
	}
	if c.Modulus >= split.MaxModulus {
		return &ConfigError{Field: "modulus", Reason: "must be below 2^63"}
	}
	seen := make(map[string]bool, len(c.Races))
	for _, race := range c.Races {
		if race.ID == "" {
			return &ConfigError{Field: "races", Reason: "race id must be non-empty"}
		}
		if seen[race.ID] {
			return &ConfigError{Field: "races", Reason: "duplicate race id " + race.ID}
		}
		seen[race.ID] = true
		if len(race.Choices) == 0 {
			return &ConfigError{Field: "races", Reason: "race " + race.ID + " has no choices"}
		}
		// The modulus must represent every choice index plus the write-in marker.
		if c.Modulus <= race.Marker() {
			return &ConfigError{Field: "modulus",
				Reason: fmt.Sprintf("modulus %d too small for race %s with %d choices",
					c.Modulus, race.ID, len(race.Choices))}
		}
	}
	if c.Stages < 1 {
		return &ConfigError{Field: "stages", Reason: "at least one mixing stage required"}
	}
	if c.Fraction <= 0 || c.Fraction >= 1 {
		return &ConfigError{Field: "fraction", Reason: "must be in (0, 1)"}
	}
	if c.Epsilon <= 0 || c.Epsilon >= 1 {
		return &ConfigError{Field: "epsilon", Reason: "must be in (0, 1)"}
	}
	if c.BallotIDLen <= 0 {
		return &ConfigError{Field: "ballot-id-len", Reason: "must be positive"}
	}
	// The id space must comfortably exceed the roster or uniqueness retries
	// degenerate.
	if c.BallotIDLen < 16 && math.Pow(16, float64(c.BallotIDLen)) < 4*float64(c.Voters) {
		return &ConfigError{Field: "ballot-id-len",
			Reason: fmt.Sprintf("%d hex digits cannot keep %d ballot ids unique", c.BallotIDLen, c.Voters)}
	}
	if c.Seed == "" {
		return &ConfigError{Field: "seed", Reason: "must be non-empty"}
	}
	return nil
}

// Rounds derives the number of independent challenge rounds from the
// soundness target: a single-coordinate cheat escapes one round with
// probability 1-Fraction, so Rounds is the smallest r with
// (1-Fraction)^r <= Epsilon.
func (c *Config) Rounds() int {
	r := int(math.Ceil(math.Log(c.Epsilon) / math.Log(1-c.Fraction)))
	if r < 1 {
		r = 1
	}
	return r
}

// RaceByID returns the race with the given id.
func (c *Config) RaceByID(id string) (Race, bool) {
	for _, r := range c.Races {
		if r.ID == id {
			return r, true
		}
	}
	return Race{}, false
}

// String returns a string representation of the Config instance
func (c *Config) String() string {
	ids := make([]string, len(c.Races))
	for i, r := range c.Races {
		ids[i] = r.ID
	}
	return fmt.Sprintf("Config{Election:%s Races:%s Voters:%d Modulus:%d Stages:%d "+
		"Fraction:%.2f Epsilon:%g Rounds:%d Seed:%s Cores:%d Runs:%d}",
		c.ElectionID, strings.Join(ids, ","), c.Voters, c.Modulus, c.Stages,
		c.Fraction, c.Epsilon, c.Rounds(), c.Seed, c.Cores, c.Runs)
}

// setLogLevel sets the global log level to one of "trace", "debug", "info",
// or "error". Defaults to "info" on invalid input.
func setLogLevel(logLevel string) {
	switch logLevel {
	case "trace":
		log.SetLevel(log.LevelTrace)
	case "debug":
		log.SetLevel(log.LevelDebug)
	case "info":
		log.SetLevel(log.LevelInfo)
	case "error":
		log.SetLevel(log.LevelError)
	default:
		log.Info("Unknown log level '%s', defaulting to 'info'", logLevel)
		log.SetLevel(log.LevelInfo)
	}
}
