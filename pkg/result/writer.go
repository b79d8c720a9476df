// Package result persists simulation output: aggregated timing statistics
// and final tallies, written as CSV files under the configured results path.
package result

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	"splitvote/pkg/metrics"
	"splitvote/pkg/tally"
)

// WriteMetrics writes the analyzed timing statistics to a timestamped CSV
// file and returns its path.
func WriteMetrics(dir string, analyzed []metrics.AnalyzedMetric) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("metrics_%s.csv", time.Now().Format("20060102_150405")))
	f, err := create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"component", "n",
		"wall_mean_us", "wall_median_us", "wall_min_us", "wall_max_us", "wall_p95_us",
		"user_mean_us", "sys_mean_us",
	}); err != nil {
		return "", xerrors.Errorf("write header: %w", err)
	}
	for _, m := range analyzed {
		row := []string{
			m.Component,
			strconv.Itoa(m.Wall.N),
			micros(m.Wall.Mean), micros(m.Wall.Median), micros(m.Wall.Min),
			micros(m.Wall.Max), micros(m.Wall.P95),
			micros(m.User.Mean), micros(m.System.Mean),
		}
		if err := w.Write(row); err != nil {
			return "", xerrors.Errorf("write row for %s: %w", m.Component, err)
		}
	}
	w.Flush()
	return path, w.Error()
}

// WriteTallies writes every race's final counts, winners first.
func WriteTallies(dir, electionID string, tallies map[string]map[string]uint64) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("tally_%s.csv", electionID))
	f, err := create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"race", "choice", "count"}); err != nil {
		return "", xerrors.Errorf("write header: %w", err)
	}

	raceIDs := make([]string, 0, len(tallies))
	for id := range tallies {
		raceIDs = append(raceIDs, id)
	}
	sort.Strings(raceIDs)

	for _, raceID := range raceIDs {
		counts := tallies[raceID]
		for _, choice := range tally.Winners(counts) {
			row := []string{raceID, choice, strconv.FormatUint(counts[choice], 10)}
			if err := w.Write(row); err != nil {
				return "", xerrors.Errorf("write row for %s: %w", raceID, err)
			}
		}
	}
	w.Flush()
	return path, w.Error()
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Errorf("create results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, xerrors.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func micros(d time.Duration) string {
	return strconv.FormatInt(d.Microseconds(), 10)
}
