package schema

import (
	"fmt"

	"neurolab/internal/dataset"
)

// Mode selects how violations are treated.
//
//   - Strict: any violation fails validation with a *ViolationError
//     carrying the complete violation list. The run is expected to abort.
//   - Lenient: violations are recorded in the report; cell-level
//     violations are later applied as invalidity flags (see Invalidate)
//     and cleaning proceeds.
type Mode string

const (
	Strict  Mode = "strict"
	Lenient Mode = "lenient"
)

// Violation kinds.
const (
	KindMissingColumn = "missing_column"
	KindType          = "type"
	KindNull          = "null"
	KindConstraint    = "constraint"
)

// Violation pinpoints one contract breach. Row is -1 for column-level
// violations (a missing required column has no row).
type Violation struct {
	Field  string `json:"field"`
	Row    int    `json:"row"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Report is the full outcome of validating one dataset against one schema.
// Violations are ordered by schema field, then row.
type Report struct {
	Valid      bool        `json:"valid"`
	Mode       Mode        `json:"mode"`
	Violations []Violation `json:"violations,omitempty"`
}

// ViolationError is returned by strict-mode validation. It lists every
// offending cell, not just the first.
type ViolationError struct {
	Report *Report
}

func (e *ViolationError) Error() string {
	n := len(e.Report.Violations)
	if n == 0 {
		return "schema: validation failed"
	}
	first := e.Report.Violations[0]
	return fmt.Sprintf("schema: %d violation(s), first: field %q %s: %s", n, first.Field, first.Kind, first.Detail)
}

// Validate checks the dataset against the schema. The dataset is never
// mutated. For every declared field it checks presence, per-cell
// coercibility to the declared type, nullability, and constraints.
//
// In Strict mode a non-empty violation list returns (report, *ViolationError).
// In Lenient mode the error is always nil; callers inspect report.Valid.
func Validate(ds *dataset.Dataset, sc *Schema, mode Mode) (*Report, error) {
	if err := sc.Check(); err != nil {
		return nil, err
	}
	rep := &Report{Valid: true, Mode: mode}

	for _, f := range sc.Fields {
		if !ds.HasColumn(f.Name) {
			if f.Required {
				rep.add(Violation{Field: f.Name, Row: -1, Kind: KindMissingColumn, Detail: "required column absent"})
			}
			continue
		}
		for row := 0; row < ds.NumRows(); row++ {
			v, valid := ds.Value(f.Name, row)
			if !valid {
				if !f.Nullable {
					rep.add(Violation{Field: f.Name, Row: row, Kind: KindNull, Detail: "null in non-nullable column"})
				}
				continue
			}
			coerced, err := dataset.Coerce(v, f.Type)
			if err != nil {
				rep.add(Violation{Field: f.Name, Row: row, Kind: KindType, Detail: err.Error()})
				continue
			}
			for _, c := range f.Constraints {
				if !c.eval(coerced) {
					rep.add(Violation{
						Field:  f.Name,
						Row:    row,
						Kind:   KindConstraint,
						Detail: fmt.Sprintf("value %v fails %s", v, c.describe()),
					})
				}
			}
		}
	}

	if mode == Strict && !rep.Valid {
		return rep, &ViolationError{Report: rep}
	}
	return rep, nil
}

func (r *Report) add(v Violation) {
	r.Valid = false
	r.Violations = append(r.Violations, v)
}

// Invalidate returns a dataset with every cell named by a cell-level
// violation marked invalid. With no cell-level violations the input dataset
// is returned unchanged. Used after lenient validation so the cleaning
// stages see contract breaches as missing data.
func Invalidate(ds *dataset.Dataset, rep *Report) (*dataset.Dataset, error) {
	touched := false
	for _, v := range rep.Violations {
		if v.Row >= 0 && v.Kind != KindNull {
			touched = true
			break
		}
	}
	if !touched {
		return ds, nil
	}

	cols := ds.Cols()
	byName := make(map[string]int, len(cols))
	for i, c := range cols {
		byName[c.Name] = i
	}
	for _, v := range rep.Violations {
		if v.Row < 0 || v.Kind == KindNull {
			continue
		}
		i, ok := byName[v.Field]
		if !ok || v.Row >= len(cols[i].Valid) {
			continue
		}
		cols[i].Valid[v.Row] = false
		cols[i].Values[v.Row] = nil
	}
	return dataset.New(cols)
}
