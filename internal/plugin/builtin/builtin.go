// Package builtin registers the plugins that ship with the pipeline.
// They double as reference implementations of the capability contract:
// small, deterministic, and honest about their declared output shapes.
package builtin

import (
	"context"
	"fmt"
	"math"

	"neurolab/internal/plugin"
)

// RegisterAll adds every builtin plugin to reg. It fails only on a
// duplicate registration, so calling it twice on one registry is an error.
func RegisterAll(reg *plugin.Registry) error {
	for _, b := range []struct {
		desc plugin.Descriptor
		impl plugin.Plugin
	}{
		{columnProfileDesc, plugin.Func(columnProfile)},
		{rangeCheckDesc, plugin.Func(rangeCheck)},
	} {
		if err := reg.Register(b.desc, b.impl); err != nil {
			return fmt.Errorf("builtin: register %s@%s: %w", b.desc.Name, b.desc.Version, err)
		}
	}
	return nil
}

var columnProfileDesc = plugin.Descriptor{
	Name:    "column_profile",
	Version: "1.0.0",
	OutputContract: plugin.Contract{
		Kind: "object",
		Fields: map[string]plugin.Contract{
			"rows": {Kind: "number"},
			"columns": {Kind: "array", Elem: &plugin.Contract{
				Kind: "object",
				Fields: map[string]plugin.Contract{
					"name":    {Kind: "string"},
					"valid":   {Kind: "number"},
					"missing": {Kind: "number"},
				},
			}},
		},
	},
}

// columnProfile reports per-column validity counts, plus min/max for
// numeric columns. It reads columns in dataset order so repeated runs
// produce identical payloads.
func columnProfile(_ context.Context, view plugin.DatasetView, _ map[string]any) (any, error) {
	cols := make([]any, 0, len(view.ColumnNames()))
	for _, name := range view.ColumnNames() {
		valid := 0
		var lo, hi float64
		numeric := false
		for r := 0; r < view.NumRows(); r++ {
			if _, ok := view.Value(name, r); !ok {
				continue
			}
			valid++
			if f, ok := view.Float(name, r); ok {
				if !numeric || f < lo {
					lo = f
				}
				if !numeric || f > hi {
					hi = f
				}
				numeric = true
			}
		}
		col := map[string]any{
			"name":    name,
			"valid":   float64(valid),
			"missing": float64(view.NumRows() - valid),
		}
		if numeric {
			col["min"] = lo
			col["max"] = hi
		}
		cols = append(cols, col)
	}
	return map[string]any{
		"rows":    float64(view.NumRows()),
		"columns": cols,
	}, nil
}

var rangeCheckDesc = plugin.Descriptor{
	Name:    "range_check",
	Version: "1.0.0",
	InputContract: plugin.Contract{
		Kind: "object",
		Fields: map[string]plugin.Contract{
			"column": {Kind: "string"},
		},
	},
	OutputContract: plugin.Contract{
		Kind: "object",
		Fields: map[string]plugin.Contract{
			"column":       {Kind: "string"},
			"checked":      {Kind: "number"},
			"out_of_range": {Kind: "number"},
		},
	},
}

// rangeCheck counts values of one numeric column outside [min, max].
// Config: column (required), min and max (optional numbers; an absent
// bound is open).
func rangeCheck(_ context.Context, view plugin.DatasetView, cfg map[string]any) (any, error) {
	col, _ := cfg["column"].(string)
	if col == "" {
		return nil, fmt.Errorf("range_check: config key %q is required", "column")
	}
	if t, ok := view.ColumnType(col); !ok {
		return nil, fmt.Errorf("range_check: no column %q", col)
	} else if !t.Numeric() {
		return nil, fmt.Errorf("range_check: column %q is not numeric", col)
	}

	lo := configBound(cfg, "min", math.Inf(-1))
	hi := configBound(cfg, "max", math.Inf(1))

	checked, out := 0, 0
	for r := 0; r < view.NumRows(); r++ {
		f, ok := view.Float(col, r)
		if !ok {
			continue
		}
		checked++
		if f < lo || f > hi {
			out++
		}
	}
	return map[string]any{
		"column":       col,
		"checked":      float64(checked),
		"out_of_range": float64(out),
	}, nil
}

func configBound(cfg map[string]any, key string, fallback float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}
