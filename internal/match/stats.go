package match

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CostSummary describes a set of reprojection costs. NaN entries are
// ignored.
type CostSummary struct {
	Count int
	Mean  float64
	Std   float64
	Max   float64
}

// Summarize computes the summary of costs.
func Summarize(costs []float64) CostSummary {
	vals := make([]float64, 0, len(costs))
	for _, c := range costs {
		if !math.IsNaN(c) && !math.IsInf(c, 0) {
			vals = append(vals, c)
		}
	}
	if len(vals) == 0 {
		return CostSummary{}
	}
	s := CostSummary{Count: len(vals), Max: floats.Max(vals)}
	if len(vals) == 1 {
		s.Mean = vals[0]
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(vals, nil)
	return s
}

// Stats are the per-frame counters of a matching run.
type Stats struct {
	Cam1Candidates int
	Cam2Candidates int
	Matched        int
	// Unpaired counts candidates left without a partner: unmatched rows in
	// free mode, rows valid in only one camera in fixed mode.
	Unpaired int
	// Degenerate counts candidate pairs excluded by geometry.
	Degenerate int
	// Gated counts candidate pairs excluded by MaxReprojectionError.
	Gated int
	Cost  CostSummary
}

// Add accumulates o into s. Cost summaries are not additive and are left
// to the caller.
func (s *Stats) Add(o Stats) {
	s.Cam1Candidates += o.Cam1Candidates
	s.Cam2Candidates += o.Cam2Candidates
	s.Matched += o.Matched
	s.Unpaired += o.Unpaired
	s.Degenerate += o.Degenerate
	s.Gated += o.Gated
}
