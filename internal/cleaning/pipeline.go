// Package cleaning turns a validated raw dataset into the cleaned dataset
// statistics and plugins consume.
//
// The pipeline is an ordered list of pure stages. Each stage maps
// (Dataset, Config) to a new Dataset plus report entries; the input dataset
// is never modified. Stages run strictly sequentially: each may depend on
// the shape its predecessor produced. Identical input and config yield a
// byte-identical output dataset and report.
package cleaning

import (
	"fmt"

	"neurolab/internal/dataset"
)

// Policy is the per-column treatment of invalid (missing or uncoercible)
// cells.
type Policy string

const (
	// DropRow removes every row in which the column's cell is invalid.
	DropRow Policy = "drop_row"
	// ImputeMean replaces invalid cells with the mean of the valid cells.
	// Numeric columns only; as a default it degrades to FlagOnly elsewhere.
	ImputeMean Policy = "impute_mean"
	// ImputeMedian replaces invalid cells with the median of the valid cells.
	// Numeric columns only; as a default it degrades to FlagOnly elsewhere.
	ImputeMedian Policy = "impute_median"
	// FlagOnly leaves cells invalid and records the count. The default:
	// it never silently changes the sample size.
	FlagOnly Policy = "flag_only"
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case DropRow, ImputeMean, ImputeMedian, FlagOnly:
		return Policy(s), nil
	case "":
		return FlagOnly, nil
	}
	return "", fmt.Errorf("cleaning: unknown NA policy %q", s)
}

// OutlierConfig controls the optional robust-outlier flagging stage.
// Flagging is report-only; cell values and validity are never changed.
type OutlierConfig struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"` // robust z-score cutoff, 0 means 3.5
}

// Config is the full cleaning configuration for one run.
type Config struct {
	// DefaultPolicy applies to columns absent from ColumnPolicies.
	// Empty means FlagOnly.
	DefaultPolicy Policy `json:"default_policy"`
	// ColumnPolicies overrides the NA policy per column name.
	ColumnPolicies map[string]Policy `json:"column_policies,omitempty"`
	Outliers       OutlierConfig     `json:"outliers"`
}

// Check validates policy names. Column existence and type compatibility
// are checked against the actual dataset when the pipeline runs.
func (c Config) Check() error {
	if _, err := ParsePolicy(string(c.DefaultPolicy)); err != nil {
		return err
	}
	for col, p := range c.ColumnPolicies {
		if _, err := ParsePolicy(string(p)); err != nil {
			return fmt.Errorf("column %q: %w", col, err)
		}
	}
	if c.Outliers.Threshold < 0 {
		return fmt.Errorf("cleaning: negative outlier threshold %v", c.Outliers.Threshold)
	}
	return nil
}

// policyFor resolves the effective policy for a column.
func (c Config) policyFor(col string) Policy {
	if p, ok := c.ColumnPolicies[col]; ok && p != "" {
		return p
	}
	if c.DefaultPolicy != "" {
		return c.DefaultPolicy
	}
	return FlagOnly
}

// Stage is one pure transformation step. Apply must not modify ds; it
// returns the derived dataset (or ds itself when nothing changed) and the
// report entries describing what it did.
type Stage interface {
	Name() string
	Apply(ds *dataset.Dataset, cfg Config) (*dataset.Dataset, []Entry, error)
}

// Pipeline executes stages in order.
type Pipeline struct {
	cfg    Config
	stages []Stage
}

// New builds the standard pipeline for cfg: type enforcement, then NA
// handling, then (when enabled) outlier flagging.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	p.stages = append(p.stages, enforceStage{}, naStage{})
	if cfg.Outliers.Enabled {
		p.stages = append(p.stages, outlierStage{})
	}
	return p, nil
}

// Add appends a custom stage after the built-in ones.
func (p *Pipeline) Add(s Stage) { p.stages = append(p.stages, s) }

// StageNames returns the stage names in execution order.
func (p *Pipeline) StageNames() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// Run executes the pipeline. The input dataset is returned untouched; the
// result is a newly built dataset (or the input itself when no stage
// changed anything). A stage error means the configuration does not fit
// the dataset; Run then returns the output of the last stage that
// completed, together with the report so far, so the caller can continue
// with partial results.
func (p *Pipeline) Run(ds *dataset.Dataset) (*dataset.Dataset, *Report, error) {
	rep := &Report{}
	cur := ds
	for _, s := range p.stages {
		next, entries, err := s.Apply(cur, p.cfg)
		if err != nil {
			return cur, rep, fmt.Errorf("cleaning: stage %s: %w", s.Name(), err)
		}
		rep.append(entries...)
		cur = next
	}
	return cur, rep, nil
}
