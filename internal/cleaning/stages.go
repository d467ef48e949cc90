package cleaning

import (
	"fmt"
	"math"
	"sort"
	"time"

	"neurolab/internal/dataset"
)

// ---- type enforcement ----

// enforceStage coerces every valid cell to its column's declared type.
// Uncoercible cells and non-finite floats become invalid; they are data
// problems for the NA policy, not errors.
type enforceStage struct{}

func (enforceStage) Name() string { return "enforce_types" }

func (enforceStage) Apply(ds *dataset.Dataset, _ Config) (*dataset.Dataset, []Entry, error) {
	cols := ds.Cols()
	var entries []Entry
	changed := false

	for i := range cols {
		col := &cols[i]
		coerced, invalidated := 0, 0
		for r, v := range col.Values {
			if !col.Valid[r] {
				continue
			}
			out, err := dataset.Coerce(v, col.Type)
			if err == nil {
				if f, isF := out.(float64); isF && (math.IsNaN(f) || math.IsInf(f, 0)) {
					out, err = nil, fmt.Errorf("non-finite value")
				}
			}
			if err != nil {
				col.Values[r] = nil
				col.Valid[r] = false
				invalidated++
				changed = true
				continue
			}
			if !equalCell(v, out) {
				coerced++
				changed = true
			}
			col.Values[r] = out
		}
		if coerced > 0 {
			entries = append(entries, Entry{Stage: "enforce_types", Column: col.Name, Action: "coerced", AffectedRows: coerced})
		}
		if invalidated > 0 {
			entries = append(entries, Entry{Stage: "enforce_types", Column: col.Name, Action: "invalidated", AffectedRows: invalidated})
		}
	}

	if !changed {
		return ds, entries, nil
	}
	out, err := dataset.New(cols)
	if err != nil {
		return nil, nil, err
	}
	return out, entries, nil
}

// ---- NA handling ----

// naStage applies the per-column NA policy: drop rows first, then impute
// on the surviving rows, then record counts for flag-only columns.
type naStage struct{}

func (naStage) Name() string { return "na_policy" }

// effectivePolicy resolves the NA policy a column actually gets. Imputation
// is defined over numeric columns only: a default impute policy degrades to
// flag_only on non-numeric columns, while an explicit per-column impute
// policy on a non-numeric column is a configuration error.
func effectivePolicy(cfg Config, ds *dataset.Dataset, name string) (Policy, error) {
	p := cfg.policyFor(name)
	if p != ImputeMean && p != ImputeMedian {
		return p, nil
	}
	t, ok := ds.ColumnType(name)
	if ok && t.Numeric() {
		return p, nil
	}
	if explicit, set := cfg.ColumnPolicies[name]; set && explicit != "" {
		return "", fmt.Errorf("policy %s on column %q requires a numeric type, have %s", p, name, t)
	}
	return FlagOnly, nil
}

func (naStage) Apply(ds *dataset.Dataset, cfg Config) (*dataset.Dataset, []Entry, error) {
	var entries []Entry
	names := ds.ColumnNames()

	// Resolve all policies up front so a misconfigured column errors
	// before any row is dropped.
	policies := make(map[string]Policy, len(names))
	for _, name := range names {
		p, err := effectivePolicy(cfg, ds, name)
		if err != nil {
			return nil, nil, err
		}
		policies[name] = p
	}

	// Rows any drop_row column votes out.
	drop := make([]bool, ds.NumRows())
	dropped := 0
	for _, name := range names {
		if policies[name] != DropRow {
			continue
		}
		n := 0
		for r := 0; r < ds.NumRows(); r++ {
			if _, ok := ds.Value(name, r); !ok {
				n++
				if !drop[r] {
					drop[r] = true
					dropped++
				}
			}
		}
		if n > 0 {
			entries = append(entries, Entry{Stage: "na_policy", Column: name, Action: "drop_row", AffectedRows: n})
		}
	}

	cur := ds
	if dropped > 0 {
		cols := ds.Cols()
		for i := range cols {
			kept := 0
			for r := range cols[i].Values {
				if drop[r] {
					continue
				}
				cols[i].Values[kept] = cols[i].Values[r]
				cols[i].Valid[kept] = cols[i].Valid[r]
				kept++
			}
			cols[i].Values = cols[i].Values[:kept]
			cols[i].Valid = cols[i].Valid[:kept]
		}
		next, err := dataset.New(cols)
		if err != nil {
			return nil, nil, err
		}
		cur = next
	}

	// Imputation over the surviving rows.
	imputeCols := false
	for _, name := range names {
		if p := policies[name]; p == ImputeMean || p == ImputeMedian {
			imputeCols = true
			break
		}
	}
	if imputeCols {
		cols := cur.Cols()
		changed := false
		for i := range cols {
			col := &cols[i]
			p := policies[col.Name]
			if p != ImputeMean && p != ImputeMedian {
				continue
			}
			var valid []float64
			missing := 0
			for r, ok := range col.Valid {
				if !ok {
					missing++
					continue
				}
				// Cells that dodged type enforcement stay out of the basis.
				switch x := col.Values[r].(type) {
				case float64:
					valid = append(valid, x)
				case int64:
					valid = append(valid, float64(x))
				}
			}
			if missing == 0 || len(valid) == 0 {
				continue
			}
			fill := mean(valid)
			if p == ImputeMedian {
				fill = median(valid)
			}
			// Int columns stay int: the fill rounds to the nearest
			// integer instead of upcasting the column.
			var cell any = fill
			if col.Type == dataset.Int {
				cell = int64(math.Round(fill))
			}
			for r, ok := range col.Valid {
				if !ok {
					col.Values[r] = cell
					col.Valid[r] = true
				}
			}
			changed = true
			entries = append(entries, Entry{Stage: "na_policy", Column: col.Name, Action: string(p), AffectedRows: missing})
		}
		if changed {
			next, err := dataset.New(cols)
			if err != nil {
				return nil, nil, err
			}
			cur = next
		}
	}

	// Remaining flag-only counts, including columns a default impute
	// policy degraded to flag_only.
	for _, name := range names {
		if policies[name] != FlagOnly {
			continue
		}
		if n := cur.MissingCount(name); n > 0 {
			entries = append(entries, Entry{Stage: "na_policy", Column: name, Action: "flag_only", AffectedRows: n})
		}
	}

	return cur, entries, nil
}

// ---- outlier flagging ----

// outlierStage reports robust-z-score outliers per numeric column. It is
// strictly observational: the dataset passes through untouched.
type outlierStage struct{}

func (outlierStage) Name() string { return "outlier_flag" }

func (outlierStage) Apply(ds *dataset.Dataset, cfg Config) (*dataset.Dataset, []Entry, error) {
	threshold := cfg.Outliers.Threshold
	if threshold == 0 {
		threshold = 3.5
	}
	var entries []Entry
	for _, name := range ds.NumericColumns() {
		vals, valid, _ := ds.FloatColumn(name)
		var xs []float64
		for r, ok := range valid {
			if ok {
				xs = append(xs, vals[r])
			}
		}
		if len(xs) < 3 {
			continue
		}
		med := median(append([]float64(nil), xs...))
		dev := make([]float64, len(xs))
		for i, x := range xs {
			dev[i] = math.Abs(x - med)
		}
		mad := median(dev)
		if mad == 0 {
			continue
		}
		n := 0
		for _, x := range xs {
			if math.Abs(0.6745*(x-med)/mad) > threshold {
				n++
			}
		}
		if n > 0 {
			entries = append(entries, Entry{Stage: "outlier_flag", Column: name, Action: "outlier_flag", AffectedRows: n})
		}
	}
	return ds, entries, nil
}

// ---- helpers ----

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median sorts its argument in place.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

func equalCell(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return false
}
