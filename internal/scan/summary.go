package scan

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the confidence distribution of a result set.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	Min    float64
	Max    float64
}

// Summarize computes confidence statistics over results.
// StdDev is zero for fewer than two results.
func Summarize(results []Result) Summary {
	if len(results) == 0 {
		return Summary{}
	}

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Confidence
	}
	slices.Sort(scores)

	s := Summary{
		Count:  len(scores),
		Mean:   stat.Mean(scores, nil),
		Median: stat.Quantile(0.5, stat.Empirical, scores, nil),
		Min:    floats.Min(scores),
		Max:    floats.Max(scores),
	}
	if len(scores) > 1 {
		s.StdDev = stat.StdDev(scores, nil)
	}
	return s
}
