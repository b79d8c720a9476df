package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StatSummary holds descriptive statistics for one timing series.
type StatSummary struct {
	N      int
	Mean   time.Duration
	Median time.Duration
	Min    time.Duration
	Max    time.Duration
	P95    time.Duration
}

// AnalyzedMetric is the per-component result of analyzing aggregated runs.
type AnalyzedMetric struct {
	Component string
	Wall      StatSummary
	User      StatSummary
	System    StatSummary
}

// Analyze computes summary statistics over every aggregated component and
// returns them sorted by component name for stable output.
func Analyze(aggregated map[string]*AggregatedMetrics) []AnalyzedMetric {
	analyzed := make([]AnalyzedMetric, 0, len(aggregated))
	for _, agg := range aggregated {
		analyzed = append(analyzed, AnalyzedMetric{
			Component: agg.Component,
			Wall:      summarize(agg.WallClocks),
			User:      summarize(agg.UserTimes),
			System:    summarize(agg.SystemTimes),
		})
	}
	sort.Slice(analyzed, func(i, j int) bool {
		return analyzed[i].Component < analyzed[j].Component
	})
	return analyzed
}

// summarize converts a duration series into a StatSummary.
func summarize(series []time.Duration) StatSummary {
	if len(series) == 0 {
		return StatSummary{}
	}

	values := make([]float64, len(series))
	for i, d := range series {
		values[i] = float64(d)
	}
	sort.Float64s(values)

	return StatSummary{
		N:      len(values),
		Mean:   time.Duration(stat.Mean(values, nil)),
		Median: time.Duration(stat.Quantile(0.5, stat.Empirical, values, nil)),
		Min:    time.Duration(values[0]),
		Max:    time.Duration(values[len(values)-1]),
		P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, values, nil)),
	}
}
