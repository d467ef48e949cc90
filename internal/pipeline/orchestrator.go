package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"neurolab/internal/cleaning"
	"neurolab/internal/dataset"
	"neurolab/internal/metrics"
	"neurolab/internal/plugin"
	"neurolab/internal/schema"
	"neurolab/internal/stats"
)

// Request describes one run. Dataset and Schema may be supplied inline;
// when nil the orchestrator loads them from the repository by name.
type Request struct {
	DatasetName string
	Dataset     *dataset.Dataset

	SchemaName string
	Schema     *schema.Schema

	// Mode selects strict or lenient validation. Empty means lenient.
	Mode schema.Mode

	Cleaning cleaning.Config
	Stats    stats.Config
	Plugins  []plugin.Request

	// ConfigSnapshot is stored verbatim on the run record. Callers put
	// the canonical JSON of the effective configuration here.
	ConfigSnapshot json.RawMessage
}

// Orchestrator executes runs. It owns the lifecycle state machine and is
// the single writer of the run record: the concurrent stages hand their
// results back and Execute merges them at one point after the join.
type Orchestrator struct {
	repo   Repository
	exec   *plugin.Executor
	engine *stats.Engine
	logger Logger

	// seams for tests
	now   func() time.Time
	newID func() string
}

// New builds an Orchestrator. The repository is required; exec may be
// nil, in which case plugin requests fail in a contained way.
func New(repo Repository, exec *plugin.Executor, logger Logger) (*Orchestrator, error) {
	if repo == nil {
		return nil, errors.New("pipeline: a repository is required")
	}
	return &Orchestrator{
		repo:   repo,
		exec:   exec,
		engine: &stats.Engine{Logger: logger},
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// Execute runs the full pipeline for req and persists the run record.
// The returned Run is always non-nil and terminal. The error reports
// what aborted the run, or a persistence failure; contained component
// failures (a cleaning stage, the regression, a plugin) surface in the
// record as partial_success, not as an error.
//
// Cancelling ctx stops in-flight plugins and marks the run cancelled.
// Statistics already started run to completion and are kept.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Run, error) {
	run := &Run{
		RunID:          o.newID(),
		DatasetName:    req.DatasetName,
		SchemaName:     req.SchemaName,
		ConfigSnapshot: req.ConfigSnapshot,
		State:          StateCreated,
		StartedAt:      o.now().UTC(),
	}

	ds, sc, err := o.materialize(ctx, req)
	if err != nil {
		return o.abort(ctx, run, err)
	}
	run.DatasetFingerprint = ds.Fingerprint()
	run.SchemaName = sc.Name
	run.SchemaVersion = sc.Version
	run.RowsIn = ds.NumRows()
	o.logf("stage=run run_id=%s dataset=%s schema=%s@%s rows=%d cols=%d",
		run.RunID, run.DatasetName, sc.Name, sc.Version, ds.NumRows(), ds.NumCols())

	mode := req.Mode
	if mode == "" {
		mode = schema.Lenient
	}

	// Validating.
	if err := run.transition(StateValidating); err != nil {
		return o.abort(ctx, run, err)
	}
	if ctx.Err() != nil {
		return o.cancelled(ctx, run)
	}
	vStart := time.Now()
	rep, verr := schema.Validate(ds, sc, mode)
	run.Validation = rep
	if verr != nil {
		observeStage("validate", "violation", time.Since(vStart))
		return o.abort(ctx, run, verr)
	}
	observeStage("validate", "ok", time.Since(vStart))
	o.logf("stage=validate run_id=%s mode=%s valid=%t violations=%d",
		run.RunID, mode, rep.Valid, len(rep.Violations))
	if !rep.Valid {
		marked, err := schema.Invalidate(ds, rep)
		if err != nil {
			return o.abort(ctx, run, fmt.Errorf("pipeline: flag violations: %w", err))
		}
		ds = marked
	}

	// Cleaning. Failures here are contained: the run continues on the
	// output of the last stage that completed.
	if err := run.transition(StateCleaning); err != nil {
		return o.abort(ctx, run, err)
	}
	if ctx.Err() != nil {
		return o.cancelled(ctx, run)
	}
	cStart := time.Now()
	cleaned, cleanErr := o.clean(run, ds, req.Cleaning)
	run.RowsOut = cleaned.NumRows()
	run.CleanedFingerprint = cleaned.Fingerprint()
	if cleanErr != nil {
		run.Error = cleanErr.Error()
		observeStage("clean", "error", time.Since(cStart))
		o.logf("stage=clean run_id=%s error=%q", run.RunID, cleanErr)
	} else {
		observeStage("clean", "ok", time.Since(cStart))
		o.logf("stage=clean run_id=%s rows_in=%d rows_out=%d entries=%d",
			run.RunID, run.RowsIn, run.RowsOut, reportLen(run.Cleaning))
	}
	metrics.IncCounter("dataset_rows_total", float64(run.RowsOut), metrics.Labels{"kind": "analyzed"})
	metrics.IncCounter("dataset_rows_total", float64(run.RowsIn-run.RowsOut), metrics.Labels{"kind": "dropped"})

	// Analyzing. Statistics and plugins fan out concurrently and join
	// here; nothing touches the run record until both are back.
	if err := run.transition(StateAnalyzing); err != nil {
		return o.abort(ctx, run, err)
	}
	if ctx.Err() != nil {
		return o.cancelled(ctx, run)
	}
	aStart := time.Now()
	var (
		wg          sync.WaitGroup
		analysis    *stats.Result
		plugResults []plugin.Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		analysis = o.engine.Analyze(cleaned, req.Stats)
	}()
	if len(req.Plugins) > 0 {
		if o.exec == nil {
			plugResults = failAll(req.Plugins, "no plugin executor configured")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				plugResults = o.exec.Run(ctx, cleaned, req.Plugins)
			}()
		}
	}
	wg.Wait()
	run.Analysis = analysis
	run.PluginResults = plugResults
	observeStage("analyze", "ok", time.Since(aStart))
	o.logf("stage=analyze run_id=%s columns=%d plugins=%d duration=%s",
		run.RunID, len(analysis.Descriptive), len(plugResults), time.Since(aStart))

	if ctx.Err() != nil {
		return o.cancelled(ctx, run)
	}
	if err := run.transition(StateCompleted); err != nil {
		return o.abort(ctx, run, err)
	}
	run.OverallStatus = o.status(run, cleanErr)
	return run, o.finish(ctx, run)
}

// materialize resolves the dataset and schema for the request, loading
// whichever was not supplied inline.
func (o *Orchestrator) materialize(ctx context.Context, req Request) (*dataset.Dataset, *schema.Schema, error) {
	ds := req.Dataset
	if ds == nil {
		if req.DatasetName == "" {
			return nil, nil, errors.New("pipeline: request names no dataset")
		}
		var err error
		ds, err = o.repo.LoadDataset(ctx, req.DatasetName)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: load dataset %q: %w", req.DatasetName, err)
		}
	}
	sc := req.Schema
	if sc == nil {
		if req.SchemaName == "" {
			return nil, nil, errors.New("pipeline: request names no schema")
		}
		var err error
		sc, err = o.repo.LoadSchema(ctx, req.SchemaName)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: load schema %q: %w", req.SchemaName, err)
		}
	}
	return ds, sc, nil
}

// clean applies the cleaning pipeline. On any failure it returns the
// last dataset that was fully produced, so analysis still has input.
func (o *Orchestrator) clean(run *Run, ds *dataset.Dataset, cfg cleaning.Config) (*dataset.Dataset, error) {
	pipe, err := cleaning.New(cfg)
	if err != nil {
		return ds, err
	}
	out, rep, err := pipe.Run(ds)
	run.Cleaning = rep
	if out == nil {
		out = ds
	}
	return out, err
}

// status derives the overall outcome of a completed run.
func (o *Orchestrator) status(run *Run, cleanErr error) Status {
	st := StatusSuccess
	if cleanErr != nil {
		st = StatusPartialSuccess
	}
	if run.Analysis != nil && run.Analysis.Regression != nil && run.Analysis.Regression.FailureReason != "" {
		st = StatusPartialSuccess
	}
	for _, pr := range run.PluginResults {
		if pr.Status != plugin.StatusSuccess {
			st = StatusPartialSuccess
			break
		}
	}
	return st
}

// abort finalizes a run that stopped before analysis. The cause is
// returned, joined with the persistence error if saving failed too.
func (o *Orchestrator) abort(ctx context.Context, run *Run, cause error) (*Run, error) {
	run.State = StateAborted
	run.OverallStatus = StatusAborted
	if cause != nil {
		run.Error = cause.Error()
	}
	if err := o.finish(ctx, run); err != nil {
		return run, errors.Join(cause, err)
	}
	return run, cause
}

// cancelled finalizes a run whose context was cancelled. Cancellation is
// an outcome, not an error: the caller asked for it, so the only error
// Execute reports is a persistence failure.
func (o *Orchestrator) cancelled(ctx context.Context, run *Run) (*Run, error) {
	run.State = StateAborted
	run.OverallStatus = StatusCancelled
	run.Error = ctx.Err().Error()
	return run, o.finish(ctx, run)
}

// finish stamps the end time, emits the run metrics, and persists the
// record. It runs for every terminal state. Saving uses a context
// detached from cancellation so a cancelled run is still recorded.
func (o *Orchestrator) finish(ctx context.Context, run *Run) error {
	run.FinishedAt = o.now().UTC()
	metrics.IncCounter("pipeline_runs_total", 1, metrics.Labels{"status": string(run.OverallStatus)})
	o.logf("stage=run run_id=%s state=%s status=%s duration=%s",
		run.RunID, run.State, run.OverallStatus, run.FinishedAt.Sub(run.StartedAt))
	if err := o.repo.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("pipeline: persist run %s: %w", run.RunID, err)
	}
	return nil
}

func (o *Orchestrator) logf(format string, v ...any) {
	if o.logger != nil {
		o.logger.Printf(format, v...)
	}
}

func observeStage(stage, status string, d time.Duration) {
	labels := metrics.Labels{"stage": stage, "status": status}
	metrics.IncCounter("pipeline_stage_total", 1, labels)
	metrics.ObserveHistogram("pipeline_stage_duration_seconds", d.Seconds(), labels)
}

func reportLen(rep *cleaning.Report) int {
	if rep == nil {
		return 0
	}
	return len(rep.Entries)
}

// failAll marks every plugin request failed with the same detail. Used
// when no executor is wired but the request asks for plugins.
func failAll(reqs []plugin.Request, detail string) []plugin.Result {
	out := make([]plugin.Result, len(reqs))
	for i, r := range reqs {
		out[i] = plugin.Result{
			PluginName:    r.Name,
			PluginVersion: r.Version,
			Status:        plugin.StatusFailed,
			ErrorDetail:   detail,
		}
	}
	return out
}
