package schema

import (
	"errors"
	"testing"

	"neurolab/internal/dataset"
)

func fptr(f float64) *float64 { return &f }

func testSchema() *Schema {
	return &Schema{
		Name:    "readings",
		Version: "1.0.0",
		Fields: []Field{
			{Name: "id", Type: dataset.Int, Required: true},
			{Name: "value", Type: dataset.Float, Required: true, Nullable: true,
				Constraints: []Constraint{{Kind: "min", Bound: fptr(0)}}},
			{Name: "label", Type: dataset.String, Nullable: true,
				Constraints: []Constraint{{Kind: "one_of", Values: []string{"a", "b"}}}},
		},
	}
}

func testDataset(t *testing.T, cols []dataset.Column) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(cols)
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

func TestSchemaCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		sc   Schema
	}{
		{"no fields", Schema{Name: "empty"}},
		{"duplicate field", Schema{Fields: []Field{
			{Name: "x", Type: dataset.Float}, {Name: "x", Type: dataset.Int},
		}}},
		{"unknown type", Schema{Fields: []Field{{Name: "x", Type: "decimal"}}}},
		{"min without bound", Schema{Fields: []Field{
			{Name: "x", Type: dataset.Float, Constraints: []Constraint{{Kind: "min"}}},
		}}},
		{"min on string field", Schema{Fields: []Field{
			{Name: "x", Type: dataset.String, Constraints: []Constraint{{Kind: "min", Bound: fptr(1)}}},
		}}},
		{"bad pattern", Schema{Fields: []Field{
			{Name: "x", Type: dataset.String, Constraints: []Constraint{{Kind: "match", Pattern: "("}}},
		}}},
		{"unknown constraint", Schema{Fields: []Field{
			{Name: "x", Type: dataset.String, Constraints: []Constraint{{Kind: "positive"}}},
		}}},
	}
	for _, tc := range cases {
		if err := tc.sc.Check(); err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
	}
	if err := testSchema().Check(); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}
}

func TestValidate_StrictMissingRequiredColumn(t *testing.T) {
	t.Parallel()

	ds := testDataset(t, []dataset.Column{
		{Name: "value", Type: dataset.Float, Values: []any{1.0}, Valid: []bool{true}},
	})

	rep, err := Validate(ds, testSchema(), Strict)
	if err == nil {
		t.Fatalf("expected strict-mode error, got nil")
	}
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ViolationError", err)
	}
	if rep.Valid {
		t.Fatalf("report claims valid despite violations")
	}
	found := false
	for _, v := range rep.Violations {
		if v.Field == "id" && v.Kind == KindMissingColumn && v.Row == -1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing_column violation for id not reported: %+v", rep.Violations)
	}
}

func TestValidate_LenientRecordsAllViolationsWithoutError(t *testing.T) {
	t.Parallel()

	ds := testDataset(t, []dataset.Column{
		{Name: "id", Type: dataset.Int,
			Values: []any{int64(1), "x", int64(3)},
			Valid:  []bool{true, true, true}},
		{Name: "value", Type: dataset.Float,
			Values: []any{-1.0, 2.0, nil},
			Valid:  []bool{true, true, false}},
		{Name: "label", Type: dataset.String,
			Values: []any{"a", "z", "b"},
			Valid:  []bool{true, true, true}},
	})

	rep, err := Validate(ds, testSchema(), Lenient)
	if err != nil {
		t.Fatalf("lenient mode returned error: %v", err)
	}
	if rep.Valid {
		t.Fatalf("report claims valid")
	}

	want := map[string]string{
		"id":    KindType,       // "x" not coercible to int
		"value": KindConstraint, // -1 below min 0
		"label": KindConstraint, // "z" not in one_of
	}
	got := map[string]string{}
	for _, v := range rep.Violations {
		got[v.Field] = v.Kind
	}
	for field, kind := range want {
		if got[field] != kind {
			t.Fatalf("field %s: violation kind = %q, want %q (all: %+v)", field, got[field], kind, rep.Violations)
		}
	}
}

func TestValidate_NullabilityAndCoercibleStrings(t *testing.T) {
	t.Parallel()

	sc := &Schema{
		Name: "s", Version: "1",
		Fields: []Field{
			{Name: "n", Type: dataset.Float, Required: true}, // not nullable
		},
	}
	ds := testDataset(t, []dataset.Column{
		{Name: "n", Type: dataset.Float,
			Values: []any{"12.5", nil},
			Valid:  []bool{true, false}},
	})

	rep, err := Validate(ds, sc, Lenient)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(rep.Violations) != 1 {
		t.Fatalf("violations = %+v, want exactly the null violation", rep.Violations)
	}
	v := rep.Violations[0]
	if v.Kind != KindNull || v.Row != 1 {
		t.Fatalf("violation = %+v, want null at row 1", v)
	}
}

func TestValidate_NeverMutatesDataset(t *testing.T) {
	t.Parallel()

	ds := testDataset(t, []dataset.Column{
		{Name: "id", Type: dataset.Int, Values: []any{"bad"}, Valid: []bool{true}},
	})
	before := ds.Fingerprint()

	if _, err := Validate(ds, testSchema(), Lenient); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ds.Fingerprint() != before {
		t.Fatalf("validation mutated the dataset")
	}
}

func TestInvalidate_FlagsViolatingCells(t *testing.T) {
	t.Parallel()

	ds := testDataset(t, []dataset.Column{
		{Name: "id", Type: dataset.Int,
			Values: []any{int64(1), "x"},
			Valid:  []bool{true, true}},
	})
	sc := &Schema{Name: "s", Fields: []Field{{Name: "id", Type: dataset.Int, Required: true}}}

	rep, err := Validate(ds, sc, Lenient)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out, err := Invalidate(ds, rep)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if out == ds {
		t.Fatalf("expected a new dataset")
	}
	if _, ok := out.Value("id", 1); ok {
		t.Fatalf("violating cell still valid after Invalidate")
	}
	if v, ok := out.Value("id", 0); !ok || v != int64(1) {
		t.Fatalf("clean cell disturbed: %v %v", v, ok)
	}
	// Raw dataset untouched.
	if _, ok := ds.Value("id", 1); !ok {
		t.Fatalf("raw dataset mutated")
	}
}

func TestInvalidate_NoCellViolationsReturnsSameDataset(t *testing.T) {
	t.Parallel()

	ds := testDataset(t, []dataset.Column{
		{Name: "id", Type: dataset.Int, Values: []any{int64(1)}, Valid: []bool{true}},
	})
	rep := &Report{Valid: true, Mode: Lenient}
	out, err := Invalidate(ds, rep)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if out != ds {
		t.Fatalf("expected identical dataset back")
	}
}

func TestConstraints_MatchAndNotBlank(t *testing.T) {
	t.Parallel()

	sc := &Schema{
		Name: "s",
		Fields: []Field{
			{Name: "code", Type: dataset.String,
				Constraints: []Constraint{
					{Kind: "match", Pattern: `^[A-Z]{2}-\d+$`},
					{Kind: "not_blank"},
				}},
		},
	}
	ds := testDataset(t, []dataset.Column{
		{Name: "code", Type: dataset.String,
			Values: []any{"AB-12", "nope", "  "},
			Valid:  []bool{true, true, true}},
	})

	rep, err := Validate(ds, sc, Lenient)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// "nope" fails match; "  " fails both match and not_blank.
	if len(rep.Violations) != 3 {
		t.Fatalf("violations = %d (%+v), want 3", len(rep.Violations), rep.Violations)
	}
}
