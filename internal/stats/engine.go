// Package stats computes the analytical results of a run: descriptive
// statistics, a Pearson correlation matrix, and an ordinary least squares
// regression.
//
// The three analyses are independent and run concurrently. None of them can
// fail a run: degenerate inputs (no valid cells, collinear predictors, too
// few rows) produce null fields or a recorded failure reason instead of
// errors. Results contain no NaN or infinity, so they always serialize.
package stats

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"neurolab/internal/dataset"
)

// Logger is the minimal logging dependency. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Config selects what the engine computes.
type Config struct {
	// Target names the regression target column. Empty skips regression.
	Target string `json:"target,omitempty"`
}

// ColumnStats are the descriptive statistics of one numeric column.
// Pointer fields are nil when the column has no valid finite values.
type ColumnStats struct {
	Mean      *float64    `json:"mean"`
	Median    *float64    `json:"median"`
	Std       *float64    `json:"std"` // population standard deviation
	Quartiles *[3]float64 `json:"quartiles"`
	// MissingCount is the number of invalid cells.
	MissingCount int `json:"missing_count"`
	// NonFiniteCount is the number of valid cells excluded for being NaN
	// or infinite. Zero after cleaning, which invalidates non-finites.
	NonFiniteCount int `json:"non_finite_count,omitempty"`
}

// Matrix is a symmetric correlation matrix over the numeric columns, in
// dataset order. nil cells mean the pair had fewer than two jointly valid
// rows or a zero-variance member.
type Matrix struct {
	Columns []string     `json:"columns"`
	Cells   [][]*float64 `json:"cells"`
}

// At returns the correlation of columns i and j (nil for null).
func (m *Matrix) At(i, j int) *float64 { return m.Cells[i][j] }

// Regression failure reasons.
const (
	ReasonSingular       = "singular_design_matrix"
	ReasonInsufficientDF = "insufficient_degrees_of_freedom"
	ReasonTargetNotFound = "target_not_found"
	ReasonNoPredictors   = "no_predictors"
)

// Regression is the OLS result. On failure only Target, Predictors,
// ExcludedRows and FailureReason are populated. Coefficient order is
// intercept first, then predictors in dataset order.
type Regression struct {
	Target        string    `json:"target"`
	Predictors    []string  `json:"predictors,omitempty"`
	Coefficients  []float64 `json:"coefficients,omitempty"`
	StdErrors     []float64 `json:"std_errors,omitempty"`
	PValues       []float64 `json:"p_values,omitempty"`
	RSquared      *float64  `json:"r_squared,omitempty"`
	ExcludedRows  int       `json:"excluded_rows"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// Result bundles the three analyses. Regression is nil when no target was
// configured.
type Result struct {
	Descriptive map[string]ColumnStats `json:"descriptive"`
	Correlation *Matrix                `json:"correlation"`
	Regression  *Regression            `json:"regression,omitempty"`
}

// Canonical returns a stable byte serialization of the result (map keys
// sorted by encoding/json), used for reproducibility comparisons.
func (r *Result) Canonical() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// All fields are finite plain values; marshal cannot fail.
		panic("stats: result marshal: " + err.Error())
	}
	return b
}

// Engine computes analyses over a cleaned dataset.
type Engine struct {
	Logger Logger
}

// Analyze runs the three analyses concurrently and joins them into one
// Result. It takes no context deliberately: statistics are bounded and
// cheap, and a cancelled run still reports the numbers it computed.
func (e *Engine) Analyze(ds *dataset.Dataset, cfg Config) *Result {
	start := time.Now()
	res := &Result{}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		res.Descriptive = describe(ds)
	}()
	go func() {
		defer wg.Done()
		res.Correlation = correlate(ds)
	}()
	go func() {
		defer wg.Done()
		if cfg.Target == "" {
			return
		}
		res.Regression = regress(ds, cfg.Target)
	}()
	wg.Wait()

	e.logf("stage=stats columns=%d rows=%d regression=%v duration=%s",
		ds.NumCols(), ds.NumRows(), cfg.Target != "", time.Since(start))
	return res
}

func (e *Engine) logf(format string, v ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, v...)
	}
}

// numericValues extracts the valid, finite values of a numeric column in
// row order. missing counts cells with no usable value (invalid or of a
// non-numeric kind); nonFinite counts valid cells holding NaN or infinity.
func numericValues(ds *dataset.Dataset, name string) (xs []float64, missing, nonFinite int) {
	vals, valid, ok := ds.FloatColumn(name)
	if !ok {
		return nil, 0, 0
	}
	for r, v := range vals {
		switch {
		case !valid[r]:
			missing++
		case !finite(v):
			nonFinite++
		default:
			xs = append(xs, v)
		}
	}
	return xs, missing, nonFinite
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
