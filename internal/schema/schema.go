// Package schema declares the column contract a dataset is validated
// against and the validator that checks it.
package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"neurolab/internal/dataset"
)

// Schema is an ordered set of field contracts. Field names are unique;
// order matters for reporting but not for matching (columns are matched by
// name).
type Schema struct {
	Name    string  `json:"name" yaml:"name"`
	Version string  `json:"version" yaml:"version"`
	Fields  []Field `json:"fields" yaml:"fields"`
}

type Field struct {
	Name        string       `json:"name" yaml:"name"`
	Type        dataset.Type `json:"type" yaml:"type"`
	Required    bool         `json:"required" yaml:"required"`
	Nullable    bool         `json:"nullable" yaml:"nullable"`
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Constraint is a declarative, pure predicate over a single cell value.
// Exactly one payload field is meaningful per kind.
type Constraint struct {
	Kind    string   `json:"kind" yaml:"kind"` // "min" | "max" | "one_of" | "match" | "not_blank"
	Bound   *float64 `json:"bound,omitempty" yaml:"bound,omitempty"`     // min / max
	Values  []string `json:"values,omitempty" yaml:"values,omitempty"`   // one_of
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"` // match
}

// Check verifies the schema is structurally sound: unique non-empty field
// names, known types, well-formed constraints. Call before validating any
// dataset against it.
func (s *Schema) Check() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %q: no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field %d has empty name", s.Name, i)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		if _, err := dataset.ParseType(string(f.Type)); err != nil {
			return fmt.Errorf("schema %q: field %q: %w", s.Name, f.Name, err)
		}
		for _, c := range f.Constraints {
			if err := c.check(f); err != nil {
				return fmt.Errorf("schema %q: field %q: %w", s.Name, f.Name, err)
			}
		}
	}
	return nil
}

// Field returns the named field definition.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (c Constraint) check(f Field) error {
	switch c.Kind {
	case "min", "max":
		if c.Bound == nil {
			return fmt.Errorf("constraint %q: missing bound", c.Kind)
		}
		if !f.Type.Numeric() {
			return fmt.Errorf("constraint %q: field type %s is not numeric", c.Kind, f.Type)
		}
	case "one_of":
		if len(c.Values) == 0 {
			return fmt.Errorf("constraint one_of: empty value list")
		}
	case "match":
		if c.Pattern == "" {
			return fmt.Errorf("constraint match: empty pattern")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("constraint match: bad pattern %q: %w", c.Pattern, err)
		}
	case "not_blank":
		// no payload
	default:
		return fmt.Errorf("unknown constraint kind %q", c.Kind)
	}
	return nil
}

// eval applies the constraint to an already-coerced cell value. The value's
// kind matches the field's declared type.
func (c Constraint) eval(v any) bool {
	switch c.Kind {
	case "min":
		f, ok := asFloat(v)
		return ok && f >= *c.Bound
	case "max":
		f, ok := asFloat(v)
		return ok && f <= *c.Bound
	case "one_of":
		s := render(v)
		for _, want := range c.Values {
			if s == want {
				return true
			}
		}
		return false
	case "match":
		re, err := compiled(c.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(render(v))
	case "not_blank":
		return strings.TrimSpace(render(v)) != ""
	}
	return false
}

// describe renders the constraint for violation messages.
func (c Constraint) describe() string {
	switch c.Kind {
	case "min", "max":
		return fmt.Sprintf("%s %v", c.Kind, *c.Bound)
	case "one_of":
		return "one_of " + strings.Join(c.Values, ",")
	case "match":
		return "match " + c.Pattern
	}
	return c.Kind
}

// Patterns repeat for every cell of a column; compile each one once.
var (
	reMu    sync.RWMutex
	reCache = map[string]*regexp.Regexp{}
)

func compiled(pattern string) (*regexp.Regexp, error) {
	reMu.RLock()
	re := reCache[pattern]
	reMu.RUnlock()
	if re != nil {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	reMu.Lock()
	reCache[pattern] = re
	reMu.Unlock()
	return re, nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func render(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}
