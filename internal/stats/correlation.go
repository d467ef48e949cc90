package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"neurolab/internal/dataset"
)

// correlate builds the Pearson correlation matrix over the numeric columns
// using pairwise-complete observations: each pair uses exactly the rows
// where both cells are valid and finite.
//
// Invariants:
//   - symmetric by construction (one computation per pair, shared cell)
//   - diagonal exactly 1.0 for columns with at least one usable value,
//     null otherwise
//   - pairs with fewer than 2 jointly usable rows are null, not zero
//   - zero-variance pairs are null (correlation undefined)
func correlate(ds *dataset.Dataset) *Matrix {
	names := ds.NumericColumns()
	n := len(names)

	vals := make([][]float64, n)
	usable := make([][]bool, n)
	counts := make([]int, n)
	for i, name := range names {
		v, valid, _ := ds.FloatColumn(name)
		u := make([]bool, len(v))
		for r := range v {
			u[r] = valid[r] && finite(v[r])
			if u[r] {
				counts[i]++
			}
		}
		vals[i] = v
		usable[i] = u
	}

	m := &Matrix{Columns: names, Cells: make([][]*float64, n)}
	for i := range m.Cells {
		m.Cells[i] = make([]*float64, n)
	}

	one := 1.0
	for i := 0; i < n; i++ {
		if counts[i] >= 1 {
			m.Cells[i][i] = &one
		}
		for j := i + 1; j < n; j++ {
			r := pairCorrelation(vals[i], usable[i], vals[j], usable[j])
			m.Cells[i][j] = r
			m.Cells[j][i] = r
		}
	}
	return m
}

func pairCorrelation(x []float64, xok []bool, y []float64, yok []bool) *float64 {
	var xs, ys []float64
	for r := range x {
		if xok[r] && yok[r] {
			xs = append(xs, x[r])
			ys = append(ys, y[r])
		}
	}
	if len(xs) < 2 {
		return nil
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		// Zero variance on either side.
		return nil
	}
	// Guard against float drift past the mathematical range.
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return &r
}
