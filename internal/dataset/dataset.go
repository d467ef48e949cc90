// Package dataset holds the immutable tabular data model the pipeline
// operates on: named, typed columns with a per-cell validity flag.
//
// A Dataset is never mutated after construction. Stages that change data
// (cleaning, imputation) build a new Dataset from the old one. Validity is
// presence, not correctness: a cell that arrived from the source is valid
// even if it violates the schema; validators and cleaners may only mark
// cells invalid in the datasets they produce.
package dataset

import (
	"fmt"
	"time"
)

// Type is the declared cell type of a column.
type Type string

const (
	Float  Type = "float"
	Int    Type = "int"
	String Type = "string"
	Bool   Type = "bool"
	Time   Type = "time"
)

// ParseType maps a config/schema string to a Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Float, Int, String, Bool, Time:
		return Type(s), nil
	}
	return "", fmt.Errorf("dataset: unknown column type %q", s)
}

// Numeric reports whether values of this type participate in statistics.
func (t Type) Numeric() bool { return t == Float || t == Int }

// Column is the construction input for one dataset column.
//
// Values holds canonical cell kinds: float64, int64, string, bool,
// time.Time, or nil for an absent cell. Valid marks cell presence; a false
// entry forces the stored value to nil regardless of what Values holds.
type Column struct {
	Name   string
	Type   Type
	Values []any
	Valid  []bool
}

// Dataset is an immutable ordered collection of columns of equal length.
// All accessors are safe for concurrent use.
type Dataset struct {
	cols  []Column
	index map[string]int
	rows  int

	fp string
}

// New builds a Dataset from columns, deep-copying every slice so later
// mutation of the caller's memory cannot reach the dataset.
//
// Errors:
//   - empty or duplicate column names
//   - unknown column type
//   - columns of unequal length, or len(Values) != len(Valid)
func New(cols []Column) (*Dataset, error) {
	ds := &Dataset{
		cols:  make([]Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("dataset: column %d has empty name", i)
		}
		if _, dup := ds.index[c.Name]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", c.Name)
		}
		if _, err := ParseType(string(c.Type)); err != nil {
			return nil, fmt.Errorf("dataset: column %q: %w", c.Name, err)
		}
		if len(c.Values) != len(c.Valid) {
			return nil, fmt.Errorf("dataset: column %q: %d values, %d validity flags", c.Name, len(c.Values), len(c.Valid))
		}
		if i == 0 {
			ds.rows = len(c.Values)
		} else if len(c.Values) != ds.rows {
			return nil, fmt.Errorf("dataset: column %q has %d rows, want %d", c.Name, len(c.Values), ds.rows)
		}

		cp := Column{
			Name:   c.Name,
			Type:   c.Type,
			Values: make([]any, len(c.Values)),
			Valid:  make([]bool, len(c.Valid)),
		}
		copy(cp.Valid, c.Valid)
		for j, v := range c.Values {
			if !c.Valid[j] {
				continue
			}
			cp.Values[j] = normalizeCell(v)
		}
		ds.index[c.Name] = len(ds.cols)
		ds.cols = append(ds.cols, cp)
	}
	ds.fp = fingerprint(ds)
	return ds, nil
}

// ColumnSpec describes one column of a tabular source.
type ColumnSpec struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// TableSource is the ingestion boundary: the shape format adapters (CSV,
// HTML, ...) produce. The core never parses file formats itself.
//
// A nil cell is an absent value and becomes an invalid cell. Every row must
// have exactly len(Columns) cells.
type TableSource struct {
	Columns []ColumnSpec
	Rows    [][]any
}

// FromSource builds a raw Dataset from an adapter-produced table.
func FromSource(src TableSource) (*Dataset, error) {
	cols := make([]Column, len(src.Columns))
	for i, cs := range src.Columns {
		cols[i] = Column{
			Name:   cs.Name,
			Type:   cs.Type,
			Values: make([]any, len(src.Rows)),
			Valid:  make([]bool, len(src.Rows)),
		}
	}
	for r, row := range src.Rows {
		if len(row) != len(src.Columns) {
			return nil, fmt.Errorf("dataset: row %d has %d cells, want %d", r, len(row), len(src.Columns))
		}
		for c, v := range row {
			if v == nil {
				continue
			}
			cols[c].Values[r] = v
			cols[c].Valid[r] = true
		}
	}
	return New(cols)
}

// NumRows returns the row count.
func (ds *Dataset) NumRows() int { return ds.rows }

// NumCols returns the column count.
func (ds *Dataset) NumCols() int { return len(ds.cols) }

// ColumnNames returns the column names in dataset order.
func (ds *Dataset) ColumnNames() []string {
	out := make([]string, len(ds.cols))
	for i, c := range ds.cols {
		out[i] = c.Name
	}
	return out
}

// HasColumn reports whether the named column exists.
func (ds *Dataset) HasColumn(name string) bool {
	_, ok := ds.index[name]
	return ok
}

// ColumnType returns the declared type of the named column.
func (ds *Dataset) ColumnType(name string) (Type, bool) {
	i, ok := ds.index[name]
	if !ok {
		return "", false
	}
	return ds.cols[i].Type, true
}

// NumericColumns returns, in dataset order, the names of columns whose
// declared type is numeric.
func (ds *Dataset) NumericColumns() []string {
	var out []string
	for _, c := range ds.cols {
		if c.Type.Numeric() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Value returns the cell value and its validity flag. Invalid cells return
// (nil, false). Unknown columns and out-of-range rows return (nil, false).
func (ds *Dataset) Value(col string, row int) (any, bool) {
	i, ok := ds.index[col]
	if !ok || row < 0 || row >= ds.rows {
		return nil, false
	}
	c := ds.cols[i]
	if !c.Valid[row] {
		return nil, false
	}
	return c.Values[row], true
}

// Float returns the cell as a float64. ok is false for invalid cells and
// for cells whose stored kind is not numeric.
func (ds *Dataset) Float(col string, row int) (float64, bool) {
	v, ok := ds.Value(col, row)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// FloatColumn extracts a whole column as float64 values with a per-row ok
// flag (false where the cell is invalid or non-numeric). The second return
// is false when the column does not exist.
//
// The returned slices are fresh copies; callers may mutate them.
func (ds *Dataset) FloatColumn(name string) ([]float64, []bool, bool) {
	if _, ok := ds.index[name]; !ok {
		return nil, nil, false
	}
	vals := make([]float64, ds.rows)
	valid := make([]bool, ds.rows)
	for r := 0; r < ds.rows; r++ {
		vals[r], valid[r] = ds.Float(name, r)
	}
	return vals, valid, true
}

// Col returns a deep copy of the named column, suitable as input for
// building a derived dataset.
func (ds *Dataset) Col(name string) (Column, bool) {
	i, ok := ds.index[name]
	if !ok {
		return Column{}, false
	}
	c := ds.cols[i]
	cp := Column{
		Name:   c.Name,
		Type:   c.Type,
		Values: make([]any, len(c.Values)),
		Valid:  make([]bool, len(c.Valid)),
	}
	copy(cp.Values, c.Values)
	copy(cp.Valid, c.Valid)
	return cp, true
}

// Cols returns deep copies of all columns in dataset order.
func (ds *Dataset) Cols() []Column {
	out := make([]Column, 0, len(ds.cols))
	for _, c := range ds.cols {
		cp, _ := ds.Col(c.Name)
		out = append(out, cp)
	}
	return out
}

// MissingCount returns the number of invalid cells in the named column.
func (ds *Dataset) MissingCount(name string) int {
	i, ok := ds.index[name]
	if !ok {
		return 0
	}
	n := 0
	for _, v := range ds.cols[i].Valid {
		if !v {
			n++
		}
	}
	return n
}

// Fingerprint is the sha256 content hash of the dataset: column names,
// declared types, cell values and validity flags, in dataset order.
// Datasets with identical content always share a fingerprint.
func (ds *Dataset) Fingerprint() string { return ds.fp }

// normalizeCell collapses equivalent Go kinds onto the canonical cell
// kinds so hashing and comparison are representation-independent.
func normalizeCell(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case time.Time:
		return t
	}
	return v
}
