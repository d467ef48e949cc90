// Package pipeline drives a full analysis run: validate the dataset
// against its schema, clean it, fan out the statistical analyses and any
// requested plugins, and persist a single immutable run record.
//
// The orchestrator is the only writer of that record. Every stage hands
// its report back to the orchestrator, which merges them at one point
// after the concurrent stages have joined; nothing else mutates a Run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neurolab/internal/cleaning"
	"neurolab/internal/dataset"
	"neurolab/internal/plugin"
	"neurolab/internal/schema"
	"neurolab/internal/stats"
)

// Logger is the minimal logging seam. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Repository is what the orchestrator needs from a storage backend. The
// storage package implements a superset; anything that can save a run and
// load the named inputs will do.
type Repository interface {
	SaveRun(ctx context.Context, run *Run) error
	LoadSchema(ctx context.Context, name string) (*schema.Schema, error)
	LoadDataset(ctx context.Context, name string) (*dataset.Dataset, error)
}

// Status is the overall outcome of a run.
type Status string

const (
	// StatusSuccess: every stage and every plugin completed cleanly.
	StatusSuccess Status = "success"
	// StatusPartialSuccess: the run completed but some component failed
	// in a contained way (a cleaning stage, the regression, a plugin).
	StatusPartialSuccess Status = "partial_success"
	// StatusAborted: the run stopped before producing analysis output.
	StatusAborted Status = "aborted"
	// StatusCancelled: the caller cancelled the run context.
	StatusCancelled Status = "cancelled"
)

// State is the orchestrator's position in the run lifecycle.
type State string

const (
	StateCreated    State = "created"
	StateValidating State = "validating"
	StateCleaning   State = "cleaning"
	StateAnalyzing  State = "analyzing"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// transitions lists the legal successor states. Completed and Aborted
// are terminal.
var transitions = map[State][]State{
	StateCreated:    {StateValidating, StateAborted},
	StateValidating: {StateCleaning, StateAborted},
	StateCleaning:   {StateAnalyzing, StateAborted},
	StateAnalyzing:  {StateCompleted, StateAborted},
}

// CanTransition reports whether s -> to is a legal lifecycle step.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool { return len(transitions[s]) == 0 }

// Run is the complete record of one pipeline execution. Once Execute
// returns, the record is final: reproducing a result means issuing a new
// run over the same dataset fingerprint and config snapshot, never
// editing an old record.
type Run struct {
	RunID              string `json:"run_id"`
	DatasetName        string `json:"dataset_name,omitempty"`
	DatasetFingerprint string `json:"dataset_fingerprint,omitempty"`
	CleanedFingerprint string `json:"cleaned_fingerprint,omitempty"`
	SchemaName         string `json:"schema_name,omitempty"`
	SchemaVersion      string `json:"schema_version,omitempty"`

	// ConfigSnapshot is the canonical serialization of the run's
	// configuration. Same fingerprint + schema + snapshot must yield
	// byte-identical analysis output.
	ConfigSnapshot json.RawMessage `json:"config_snapshot,omitempty"`

	State         State  `json:"state"`
	OverallStatus Status `json:"overall_status,omitempty"`
	Error         string `json:"error,omitempty"`

	RowsIn  int `json:"rows_in"`
	RowsOut int `json:"rows_out"`

	Validation    *schema.Report   `json:"validation,omitempty"`
	Cleaning      *cleaning.Report `json:"cleaning,omitempty"`
	Analysis      *stats.Result    `json:"analysis,omitempty"`
	PluginResults []plugin.Result  `json:"plugin_results,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// transition advances the lifecycle state, rejecting steps the state
// machine does not allow.
func (r *Run) transition(to State) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}
