package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"neurolab/internal/dataset"
)

// describe computes per-column statistics for every numeric column. A
// column with zero usable values reports all-null statistics and its
// missing count, never an error.
func describe(ds *dataset.Dataset) map[string]ColumnStats {
	out := make(map[string]ColumnStats)
	for _, name := range ds.NumericColumns() {
		xs, missing, nonFinite := numericValues(ds, name)
		cs := ColumnStats{MissingCount: missing, NonFiniteCount: nonFinite}
		if len(xs) > 0 {
			sorted := append([]float64(nil), xs...)
			sort.Float64s(sorted)

			mean := stat.Mean(xs, nil)
			std := stat.PopStdDev(xs, nil)
			q := [3]float64{
				quantile(sorted, 0.25),
				quantile(sorted, 0.5),
				quantile(sorted, 0.75),
			}
			med := q[1]

			cs.Mean = &mean
			cs.Median = &med
			cs.Std = &std
			cs.Quartiles = &q
		}
		out[name] = cs
	}
	return out
}

// quantile linearly interpolates at position q*(n-1) of a sorted sample,
// matching the numpy/pandas default so results line up with the tooling
// analysts compare against.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	if lo == hi {
		return sorted[int(pos)]
	}
	frac := pos - lo
	return sorted[int(lo)]*(1-frac) + sorted[int(hi)]*frac
}
