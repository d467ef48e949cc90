package stats

import (
	"math"
	"testing"

	"neurolab/internal/dataset"
)

func TestRegress_ExactLinearRelation(t *testing.T) {
	t.Parallel()

	// y = 2x + 1, no noise.
	ds := mustDataset(t, []dataset.Column{
		floatCol("x", 0, 1, 2, 3, 4, 5),
		floatCol("y", 1, 3, 5, 7, 9, 11),
	})
	reg := regress(ds, "y")

	if reg.FailureReason != "" {
		t.Fatalf("failure_reason = %q, want success", reg.FailureReason)
	}
	if len(reg.Coefficients) != 2 {
		t.Fatalf("coefficients = %v, want [intercept slope]", reg.Coefficients)
	}
	if math.Abs(reg.Coefficients[0]-1) > 1e-9 {
		t.Fatalf("intercept = %v, want 1 within 1e-9", reg.Coefficients[0])
	}
	if math.Abs(reg.Coefficients[1]-2) > 1e-9 {
		t.Fatalf("slope = %v, want 2 within 1e-9", reg.Coefficients[1])
	}
	if reg.RSquared == nil || math.Abs(*reg.RSquared-1) > 1e-9 {
		t.Fatalf("r_squared = %v, want 1", reg.RSquared)
	}
	for k, p := range reg.PValues {
		if p > 1e-6 {
			t.Fatalf("p_value[%d] = %v, want ~0 for exact fit", k, p)
		}
	}
	if reg.ExcludedRows != 0 {
		t.Fatalf("excluded_rows = %d, want 0", reg.ExcludedRows)
	}
}

func TestRegress_NoisyDataAgainstKnownFit(t *testing.T) {
	t.Parallel()

	// Hand-checkable fixture: y = x with one bent point.
	ds := mustDataset(t, []dataset.Column{
		floatCol("x", 1, 2, 3, 4, 5),
		floatCol("y", 1.1, 1.9, 3.2, 3.9, 5.1),
	})
	reg := regress(ds, "y")
	if reg.FailureReason != "" {
		t.Fatalf("failure_reason = %q", reg.FailureReason)
	}
	// Closed form: Sxy=10, Sxx=10, so slope 1.0 and intercept 0.04.
	if math.Abs(reg.Coefficients[1]-1.0) > 1e-9 {
		t.Fatalf("slope = %v, want 1.0", reg.Coefficients[1])
	}
	if math.Abs(reg.Coefficients[0]-0.04) > 1e-9 {
		t.Fatalf("intercept = %v, want 0.04", reg.Coefficients[0])
	}
	if reg.RSquared == nil || *reg.RSquared <= 0.99 {
		t.Fatalf("r_squared = %v, want > 0.99", reg.RSquared)
	}
	// Standard errors and p-values populated and sane.
	if len(reg.StdErrors) != 2 || len(reg.PValues) != 2 {
		t.Fatalf("std_errors = %v, p_values = %v", reg.StdErrors, reg.PValues)
	}
	if reg.PValues[1] > 0.01 {
		t.Fatalf("slope p_value = %v, want strongly significant", reg.PValues[1])
	}
	for k, p := range reg.PValues {
		if p < 0 || p > 1 {
			t.Fatalf("p_value[%d] = %v out of [0,1]", k, p)
		}
	}
}

func TestRegress_CollinearPredictors(t *testing.T) {
	t.Parallel()

	// x2 = 2*x1 exactly: rank-deficient design matrix.
	ds := mustDataset(t, []dataset.Column{
		floatCol("x1", 1, 2, 3, 4, 5),
		floatCol("x2", 2, 4, 6, 8, 10),
		floatCol("y", 1, 2, 2, 4, 5),
	})
	reg := regress(ds, "y")
	if reg.FailureReason != ReasonSingular {
		t.Fatalf("failure_reason = %q, want %q", reg.FailureReason, ReasonSingular)
	}
	if reg.Coefficients != nil {
		t.Fatalf("coefficients = %v, want nil on singular design", reg.Coefficients)
	}
}

func TestRegress_TooFewRowsIsSingular(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, []dataset.Column{
		floatCol("x", 1),
		floatCol("y", 2),
	})
	reg := regress(ds, "y")
	if reg.FailureReason != ReasonSingular {
		t.Fatalf("failure_reason = %q, want %q", reg.FailureReason, ReasonSingular)
	}
}

func TestRegress_ZeroResidualDOF(t *testing.T) {
	t.Parallel()

	// n == p+1: solvable but no residual degrees of freedom.
	ds := mustDataset(t, []dataset.Column{
		floatCol("x", 1, 2),
		floatCol("y", 3, 5),
	})
	reg := regress(ds, "y")
	if reg.FailureReason != ReasonInsufficientDF {
		t.Fatalf("failure_reason = %q, want %q", reg.FailureReason, ReasonInsufficientDF)
	}
}

func TestRegress_TargetMissing(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, []dataset.Column{floatCol("x", 1, 2, 3)})
	reg := regress(ds, "nope")
	if reg.FailureReason != ReasonTargetNotFound {
		t.Fatalf("failure_reason = %q, want %q", reg.FailureReason, ReasonTargetNotFound)
	}
}

func TestRegress_NoPredictors(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, []dataset.Column{
		floatCol("y", 1, 2, 3),
		{Name: "label", Type: dataset.String, Values: []any{"a", "b", "c"}, Valid: []bool{true, true, true}},
	})
	reg := regress(ds, "y")
	if reg.FailureReason != ReasonNoPredictors {
		t.Fatalf("failure_reason = %q, want %q", reg.FailureReason, ReasonNoPredictors)
	}
}

func TestRegress_CompleteCaseExclusion(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, []dataset.Column{
		{Name: "x", Type: dataset.Float,
			Values: []any{0.0, 1.0, nil, 3.0, 4.0, 5.0, 6.0},
			Valid:  []bool{true, true, false, true, true, true, true}},
		{Name: "y", Type: dataset.Float,
			Values: []any{1.0, 3.0, 5.0, 7.0, nil, 11.0, 13.0},
			Valid:  []bool{true, true, true, true, false, true, true}},
	})
	reg := regress(ds, "y")
	if reg.FailureReason != "" {
		t.Fatalf("failure_reason = %q", reg.FailureReason)
	}
	if reg.ExcludedRows != 2 {
		t.Fatalf("excluded_rows = %d, want 2", reg.ExcludedRows)
	}
	// Surviving rows still satisfy y = 2x + 1.
	if math.Abs(reg.Coefficients[1]-2) > 1e-9 || math.Abs(reg.Coefficients[0]-1) > 1e-9 {
		t.Fatalf("coefficients = %v, want [1 2]", reg.Coefficients)
	}
}
