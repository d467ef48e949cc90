// Package plugin provides the versioned plugin registry and the executor
// that runs registered plugins against a cleaned dataset under timeout,
// deduplication and containment guarantees.
package plugin

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Contract declares the shape of a JSON-serializable value: a scalar, an
// array, or an object composition. Plugins commit to an input contract
// (the config keys they require) and an output contract (the payload they
// promise).
type Contract struct {
	Kind   string              `json:"kind"` // "number" | "string" | "bool" | "array" | "object"
	Elem   *Contract           `json:"elem,omitempty"`
	Fields map[string]Contract `json:"fields,omitempty"`
}

// Empty reports whether the contract declares nothing. An empty input
// contract means the plugin takes no config; an empty output contract is
// rejected at registration (a plugin must promise some shape).
func (c Contract) Empty() bool {
	return c.Kind == "" && c.Elem == nil && len(c.Fields) == 0
}

// Check verifies the contract structure: known kinds, an element contract
// for arrays, at least one field for objects.
func (c Contract) Check() error {
	switch c.Kind {
	case "number", "string", "bool":
		if c.Elem != nil || len(c.Fields) > 0 {
			return fmt.Errorf("contract: scalar kind %q carries composite payload", c.Kind)
		}
		return nil
	case "array":
		if c.Elem == nil {
			return fmt.Errorf("contract: array without element contract")
		}
		return c.Elem.Check()
	case "object":
		if len(c.Fields) == 0 {
			return fmt.Errorf("contract: object without fields")
		}
		for name, f := range c.Fields {
			if name == "" {
				return fmt.Errorf("contract: object field with empty name")
			}
			if err := f.Check(); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("contract: unknown kind %q", c.Kind)
}

// Conforms checks a value against the contract. Declared object fields are
// required; undeclared extras are allowed (a plugin may return more than it
// promises, never less). Field names are checked in sorted order so error
// messages are deterministic.
func (c Contract) Conforms(v any) error {
	switch c.Kind {
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return nil
		}
		return fmt.Errorf("want number, got %T", v)
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		return nil
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		return nil
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("want array, got %T", v)
		}
		for i, el := range arr {
			if err := c.Elem.Conforms(el); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("want object, got %T", v)
		}
		names := make([]string, 0, len(c.Fields))
		for name := range c.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fv, present := obj[name]
			if !present {
				return fmt.Errorf("missing field %q", name)
			}
			if err := c.Fields[name].Conforms(fv); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown contract kind %q", c.Kind)
}

// checkSerializable verifies the payload survives JSON marshaling, since
// payloads are persisted verbatim in run records.
func checkSerializable(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Errorf("payload not JSON-serializable: %w", err)
	}
	return nil
}
