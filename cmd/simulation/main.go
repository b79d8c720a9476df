// Command simulation runs end-to-end verifiable elections: it casts random
// ballots, mixes them through a server chain, tallies, runs the
// commit/challenge/open audit, and verifies the resulting bulletin board.
package main

import (
	"os"

	"github.com/google/uuid"

	"splitvote/pkg/config"
	opcontext "splitvote/pkg/context"
	"splitvote/pkg/election"
	"splitvote/pkg/log"
	"splitvote/pkg/metrics"
	"splitvote/pkg/result"
	"splitvote/pkg/tally"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Info("Starting %d simulation run(s): %s", cfg.Runs, cfg)

	aggregator := metrics.NewAggregator()
	var lastRun *election.Election

	for run := 1; run <= cfg.Runs; run++ {
		cfg.ElectionID = uuid.New().String()
		recorder := metrics.NewRecorder(cfg.PrintMetrics)
		ctx := opcontext.NewOperationContext(cfg, recorder)

		e, err := election.New(cfg)
		if err != nil {
			log.Fatalf("Run %d: setup failed: %v", run, err)
		}
		if err := recorder.Record("Total", func() error { return e.Run(ctx) }); err != nil {
			log.Fatalf("Run %d: %v", run, err)
		}

		verification := e.Verify()
		if !verification.Accepted() {
			for _, f := range verification.Findings {
				log.Error("Run %d: %s", run, f)
			}
			log.Fatalf("Run %d: board rejected with %d findings", run, len(verification.Findings))
		}
		log.Info("Run %d/%d: board verified (%d postings)", run, cfg.Runs, len(e.Board.Snapshot()))

		aggregator.Add(recorder)
		lastRun = e
	}

	printTallies(cfg, lastRun)

	analyzed := metrics.Analyze(aggregator.GetAggregatedMetrics())
	path, err := result.WriteMetrics(cfg.ResultsPath, analyzed)
	if err != nil {
		log.Error("Could not write metrics: %v", err)
		os.Exit(1)
	}
	log.Info("Metrics written to %s", path)

	tallies := make(map[string]map[string]uint64, len(cfg.Races))
	for _, race := range cfg.Races {
		tallies[race.ID] = lastRun.Counts(race.ID)
	}
	path, err = result.WriteTallies(cfg.ResultsPath, cfg.ElectionID, tallies)
	if err != nil {
		log.Error("Could not write tallies: %v", err)
		os.Exit(1)
	}
	log.Info("Tallies written to %s", path)
}

// printTallies logs each race's outcome, winners first.
func printTallies(cfg *config.Config, e *election.Election) {
	for _, race := range cfg.Races {
		counts := e.Counts(race.ID)
		log.Info("Race %s:", race.ID)
		for _, choice := range tally.Winners(counts) {
			log.Info("  %-24s %d", choice, counts[choice])
		}
	}
}
